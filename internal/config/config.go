package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	rig "github.com/iwtcode/rigAdapter"
)

const envPrefix = "RIGPANEL"

// AppConfig содержит конфигурацию приложения
type AppConfig struct {
	Middleware MiddlewareConfig `mapstructure:"middleware"`
	Settings   SettingsConfig   `mapstructure:"settings"`
	Logging    LoggerConfig     `mapstructure:"logging"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
}

// MiddlewareConfig содержит параметры подключения к Middleware
type MiddlewareConfig struct {
	Host              string        `mapstructure:"host" validate:"required"`
	StatusPath        string        `mapstructure:"status_path" validate:"required,startswith=/"`
	StatusInterval    time.Duration `mapstructure:"status_interval" validate:"gt=0"`
	FutureMaxAttempts int           `mapstructure:"future_max_attempts" validate:"gte=0"`
	FutureDeadline    time.Duration `mapstructure:"future_deadline" validate:"gte=0"`
	FutureRetryDelay  time.Duration `mapstructure:"future_retry_delay" validate:"gte=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	TrailingData      int           `mapstructure:"trailing_data" validate:"min=1,max=2"`
}

// SettingsConfig выбирает хранилище настроек панели
type SettingsConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=memory file redis"`
	File          string `mapstructure:"file" validate:"required_if=Backend file"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// LoggerConfig содержит настройки логгера
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn warning error off none"`
	LogsDir    string `mapstructure:"logs_dir"`
	SavingDays uint   `mapstructure:"saving_days"`
}

// SimulatorConfig содержит настройки локального симулятора Middleware
type SimulatorConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// flagKeys связывает флаги командной строки с ключами конфигурации
var flagKeys = map[string]string{
	"host":             "middleware.host",
	"status-path":      "middleware.status_path",
	"future-attempts":  "middleware.future_max_attempts",
	"future-deadline":  "middleware.future_deadline",
	"log-level":        "logging.level",
	"logs-dir":         "logging.logs_dir",
	"settings-backend": "settings.backend",
	"settings-file":    "settings.file",
	"redis-addr":       "settings.redis_addr",
	"sim-addr":         "simulator.addr",
}

// RegisterFlags объявляет общие флаги, значения которых переопределяют файл и окружение.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to rigpanel.yaml")
	fs.String("host", "", "Middleware address, host:port or URL")
	fs.String("status-path", "", "status endpoint (/system/status or /stage/status)")
	fs.Int("future-attempts", 0, "max polls per future, 0 - unlimited")
	fs.Duration("future-deadline", 0, "max wait per future, 0 - unlimited")
	fs.String("log-level", "", "log level (debug, info, warn, error, off)")
	fs.String("logs-dir", "", "directory for daily log files")
	fs.String("settings-backend", "", "settings storage: memory, file or redis")
	fs.String("settings-file", "", "settings file for the file backend")
	fs.String("redis-addr", "", "redis address for the redis backend")
	fs.String("sim-addr", "", "listen address of the simulator")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("middleware.host", "localhost:8000")
	v.SetDefault("middleware.status_path", "/system/status")
	v.SetDefault("middleware.status_interval", 500*time.Millisecond)
	v.SetDefault("middleware.future_max_attempts", 0)
	v.SetDefault("middleware.future_deadline", time.Duration(0))
	v.SetDefault("middleware.future_retry_delay", 200*time.Millisecond)
	v.SetDefault("middleware.request_timeout", 30*time.Second)
	v.SetDefault("middleware.trailing_data", 1)

	v.SetDefault("settings.backend", "file")
	v.SetDefault("settings.file", "./.rigpanel/settings.yaml")
	v.SetDefault("settings.redis_addr", "")
	v.SetDefault("settings.redis_password", "")
	v.SetDefault("settings.redis_db", 0)
	v.SetDefault("settings.redis_prefix", "rigpanel:")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.logs_dir", "")
	v.SetDefault("logging.saving_days", 7)

	v.SetDefault("simulator.addr", "localhost:8000")
}

// LoadConfiguration загружает конфигурацию из .env, rigpanel.yaml, переменных окружения
// RIGPANEL_* и флагов. fs может быть nil.
func LoadConfiguration(fs *pflag.FlagSet) (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("rigpanel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/rigpanel")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ClientConfig переводит настройки в конфигурацию клиента Middleware.
func (c *AppConfig) ClientConfig() *rig.Config {
	return &rig.Config{
		Host:              c.Middleware.Host,
		StatusPath:        c.Middleware.StatusPath,
		StatusInterval:    c.Middleware.StatusInterval,
		FutureMaxAttempts: c.Middleware.FutureMaxAttempts,
		FutureDeadline:    c.Middleware.FutureDeadline,
		FutureRetryDelay:  c.Middleware.FutureRetryDelay,
		RequestTimeout:    c.Middleware.RequestTimeout,
		LogLevel:          c.Logging.Level,
	}
}
