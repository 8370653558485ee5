package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	tm "github.com/buger/goterm"
	"github.com/mattn/go-isatty"

	"github.com/iwtcode/rigAdapter/models"
)

// Badge - индикатор одного флага статуса.
type Badge struct {
	Label string
	On    bool
	Alarm bool // Включенный флаг - аварийное состояние
}

// Badges раскладывает снимок статуса на индикаторы в порядке панели.
func Badges(s models.DeviceStatus) []Badge {
	return []Badge{
		{Label: "Limit 1", On: s.Limit1, Alarm: true},
		{Label: "Limit 2", On: s.Limit2, Alarm: true},
		{Label: "E-Stop", On: s.Estop, Alarm: true},
		{Label: "Running", On: s.Running},
		{Label: "Light", On: s.Led},
		{Label: "Calibrated", On: s.Calibrated},
		{Label: "HQ", On: s.HqPreview},
		{Label: "Aux", On: s.AuxPreview},
	}
}

func (b Badge) String() string {
	switch {
	case b.On && b.Alarm:
		return tm.Color(tm.Bold("["+b.Label+"]"), tm.RED)
	case b.On:
		return tm.Color("["+b.Label+"]", tm.GREEN)
	default:
		return " " + b.Label + " "
	}
}

// RenderStatus собирает цветную строку индикаторов для терминала.
func RenderStatus(s models.DeviceStatus) string {
	badges := Badges(s)
	parts := make([]string, 0, len(badges)+1)
	for _, b := range badges {
		parts = append(parts, b.String())
	}
	parts = append(parts, fmt.Sprintf("Position: %s", tm.Bold(fmt.Sprint(s.Position))))
	return strings.Join(parts, " ")
}

// PlainStatus - вариант для вывода не в терминал.
func PlainStatus(s models.DeviceStatus) string {
	return fmt.Sprintf("limit1=%t limit2=%t estop=%t running=%t led=%t calibrated=%t hq_preview=%t aux_preview=%t position=%d",
		s.Limit1, s.Limit2, s.Estop, s.Running, s.Led, s.Calibrated, s.HqPreview, s.AuxPreview, s.Position)
}

// IsTerminal сообщает, подключен ли w к терминалу.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Screen перерисовывает живой статус. В терминале экран очищается перед
// каждым кадром, иначе снимки печатаются построчно.
type Screen struct {
	out      io.Writer
	terminal bool
	host     string
}

func NewScreen(out io.Writer, host string) *Screen {
	return &Screen{out: out, terminal: IsTerminal(out), host: host}
}

func (s *Screen) Draw(status models.DeviceStatus) {
	if !s.terminal {
		fmt.Fprintln(s.out, PlainStatus(status))
		return
	}
	tm.Clear()
	tm.MoveCursor(1, 1)
	tm.Println(tm.Bold("Middleware " + s.host))
	tm.Println(RenderStatus(status))
	tm.Flush()
}
