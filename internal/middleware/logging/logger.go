package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Level      string // debug, info, warn, error; off/none отключает вывод
	LogsDir    string // Директория для логов, пусто - только stdout
	SavingDays uint   // Сколько дней хранить логи
	Output     io.Writer
}

// NewLogger создает logrus логгер с понятным форматом времени.
func NewLogger(cfg *Config) *logrus.Logger {
	logger, _ := Open(cfg)
	return logger
}

// Open создает логгер так же, как NewLogger, и возвращает функцию, которая
// закрывает файл лога и останавливает очистку старых логов.
func Open(cfg *Config) (*logrus.Logger, func() error) {
	noop := func() error { return nil }
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if cfg == nil {
		cfg = &Config{Level: "info"}
	}

	level := strings.ToLower(cfg.Level)
	if level == "off" || level == "none" {
		logger.SetOutput(io.Discard)
		return logger, noop
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}
	if cfg.LogsDir == "" {
		logger.SetOutput(output)
		return logger, noop
	}

	file := newDailyFile(cfg.LogsDir, time.Now)
	logger.SetOutput(io.MultiWriter(output, file))

	done := make(chan struct{})
	if cfg.SavingDays > 0 {
		go cleanLoop(logger, cfg.LogsDir, cfg.SavingDays, done)
	}

	var once sync.Once
	return logger, func() error {
		var err error
		once.Do(func() {
			close(done)
			err = file.Close()
		})
		return err
	}
}

// dailyFile пишет в файл LogsDir/YYYY-MM-DD.log и переходит на новый файл
// при смене даты.
type dailyFile struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	day    string
	file   *os.File
	closed bool
}

func newDailyFile(dir string, now func() time.Time) *dailyFile {
	return &dailyFile{dir: dir, now: now}
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, os.ErrClosed
	}

	day := d.now().Format("2006-01-02")
	if d.file == nil || day != d.day {
		if err := d.rotate(day); err != nil {
			return 0, err
		}
	}
	return d.file.Write(p)
}

func (d *dailyFile) rotate(day string) error {
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(filepath.Join(d.dir, day+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	d.file = file
	d.day = day
	return nil
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// WithPrefix помечает записи именем компонента.
func WithPrefix(logger logrus.FieldLogger, component string) logrus.FieldLogger {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField("component", component)
}

// Discard возвращает логгер, который ничего не пишет.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func cleanLoop(logger *logrus.Logger, dir string, savingDays uint, done <-chan struct{}) {
	CleanOldLogs(logger, dir, savingDays, time.Now())
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			CleanOldLogs(logger, dir, savingDays, now)
		case <-done:
			return
		}
	}
}

// CleanOldLogs удаляет файлы логов старше savingDays относительно now.
func CleanOldLogs(logger logrus.FieldLogger, dir string, savingDays uint, now time.Time) int {
	files, err := os.ReadDir(dir)
	if err != nil {
		logger.WithError(err).Error("Failed to read logs directory")
		return 0
	}

	removed := 0
	cutoff := now.AddDate(0, 0, -int(savingDays))
	for _, file := range files {
		info, err := file.Info()
		if err != nil || file.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, file.Name())); err != nil {
			logger.WithError(err).WithField("file", file.Name()).Error("Failed to delete old log file")
			continue
		}
		removed++
	}
	return removed
}
