package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	rig "github.com/iwtcode/rigAdapter"
	"github.com/iwtcode/rigAdapter/internal/config"
	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/internal/tui"
	"github.com/iwtcode/rigAdapter/models"
	"github.com/iwtcode/rigAdapter/settings"
)

// App - консольная панель оператора поверх клиента Middleware.
type App struct {
	cfg     *config.AppConfig
	client  *rig.Client
	logger  *logrus.Logger
	out     io.Writer
	screen  *tui.Screen
	closers []func() error

	outMu sync.Mutex
}

type commandFunc func(a *App, ctx context.Context, args []string) error

var commands = map[string]commandFunc{
	"status":      (*App).runStatus,
	"host":        (*App).runHost,
	"schema":      (*App).runSchema,
	"command":     (*App).runCommand,
	"single-card": (*App).runSingleCard,
	"acquire":     (*App).runAcquire,
	"preview":     (*App).runPreview,
	"move":        (*App).runMove,
	"light":       (*App).runLight,
	"mounts":      (*App).runMounts,
	"unmount":     (*App).runUnmount,
	"cards":       (*App).runCards,
	"rename":      (*App).runRename,
	"delete":      (*App).runDelete,
}

var usages = map[string]string{
	"status":      "status [--watch]",
	"host":        "host [address]",
	"schema":      "schema [path]",
	"command":     "command [--out dir] <path> [key=value ...]",
	"single-card": "single-card [--out dir] [--watch] [key=value ...]",
	"acquire":     "acquire <hq|aux> [--scale s] [--out file]",
	"preview":     "preview <hq|aux>",
	"move":        "move <n> [--size QUARTER]",
	"light":       "light [--pwm value]",
	"mounts":      "mounts [--mount-point p] [--fs-type t] [--select mountpoint]",
	"unmount":     "unmount <mountpoint>",
	"cards":       "cards",
	"rename":      "rename <subdir> <card-id>",
	"delete":      "delete <subdir>",
}

// NewSettingsPort создает хранилище настроек по конфигурации.
// Возвращаемая функция освобождает ресурсы хранилища.
func NewSettingsPort(cfg config.SettingsConfig) (settings.Port, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "memory":
		return settings.NewMemoryPort(), noop, nil
	case "file":
		return settings.NewFilePort(cfg.File), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return settings.NewRedisPort(client, cfg.RedisPrefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown settings backend %q", cfg.Backend)
	}
}

// New собирает панель: логгер, хранилище настроек и клиент Middleware.
func New(cfg *config.AppConfig, out io.Writer) (*App, error) {
	logger, closeLog := logging.Open(&logging.Config{
		Level:      cfg.Logging.Level,
		LogsDir:    cfg.Logging.LogsDir,
		SavingDays: cfg.Logging.SavingDays,
	})

	port, closePort, err := NewSettingsPort(cfg.Settings)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	client, err := rig.New(cfg.ClientConfig(),
		rig.WithSettingsPort(port),
		rig.WithLogger(logger),
		rig.WithTrailingData(cfg.Middleware.TrailingData),
	)
	if err != nil {
		_ = closePort()
		_ = closeLog()
		return nil, fmt.Errorf("failed to create Middleware client: %w", err)
	}

	return &App{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		out:     out,
		screen:  tui.NewScreen(out, client.Host()),
		closers: []func() error{closePort, closeLog},
	}, nil
}

// Close останавливает опрос, закрывает хранилище настроек и файл лога.
func (a *App) Close() error {
	a.client.Close()
	var errs []string
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (a *App) Client() *rig.Client {
	return a.client
}

// Run выполняет подкоманду. Без аргументов печатает справку.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" {
		a.Usage()
		return nil
	}
	run, ok := commands[args[0]]
	if !ok {
		a.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	a.logger.WithField("command", args[0]).Debug("Running command")
	return run(a, ctx, args[1:])
}

// Usage печатает список подкоманд.
func (a *App) Usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(a.out, "Usage: rigpanel [global flags] <command> [args]")
	fmt.Fprintln(a.out, "Commands:")
	for _, name := range names {
		fmt.Fprintf(a.out, "  %s\n", usages[name])
	}
}

// printf пишет в вывод панели. Вывод разделяют команда и отрисовка статуса.
func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) draw(s models.DeviceStatus) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	a.screen.Draw(s)
}
