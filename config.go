package rig

import (
	"os"
	"strconv"
	"time"

	"github.com/iwtcode/rigAdapter/middleware"
)

// Config хранит модель конфигурации клиента
type Config struct {
	Host              string
	StatusPath        string
	StatusInterval    time.Duration
	FutureMaxAttempts int
	FutureDeadline    time.Duration
	FutureRetryDelay  time.Duration
	RequestTimeout    time.Duration
	LogLevel          string
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	host := os.Getenv("RIG_HOST")
	if host == "" {
		host = "localhost:8000"
	}

	statusPath := os.Getenv("RIG_STATUS_PATH")
	if statusPath == "" {
		statusPath = middleware.DefaultStatusPath
	}

	interval := envMillis("RIG_STATUS_INTERVAL_MS", middleware.DefaultStatusInterval)

	// Ноль означает отсутствие ограничения
	attempts, err := strconv.Atoi(os.Getenv("RIG_FUTURE_MAX_ATTEMPTS"))
	if err != nil || attempts < 0 {
		attempts = 0
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		Host:              host,
		StatusPath:        statusPath,
		StatusInterval:    interval,
		FutureMaxAttempts: attempts,
		FutureDeadline:    envMillis("RIG_FUTURE_DEADLINE_MS", 0),
		FutureRetryDelay:  envMillisOrZero("RIG_FUTURE_RETRY_MS", 200*time.Millisecond),
		RequestTimeout:    envMillis("RIG_REQUEST_TIMEOUT_MS", middleware.DefaultRequestTimeout),
		LogLevel:          logLevel,
	}
}

func envMillis(key string, fallback time.Duration) time.Duration {
	return parseMillis(key, fallback, 1)
}

// envMillisOrZero допускает 0: пауза между повторами может отсутствовать.
func envMillisOrZero(key string, fallback time.Duration) time.Duration {
	return parseMillis(key, fallback, 0)
}

func parseMillis(key string, fallback time.Duration, floor int64) time.Duration {
	ms, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil || ms < floor {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Policy возвращает ограничения ожидания future.
func (c *Config) Policy() middleware.Policy {
	return middleware.Policy{
		MaxAttempts: c.FutureMaxAttempts,
		Deadline:    c.FutureDeadline,
		RetryDelay:  c.FutureRetryDelay,
	}
}
