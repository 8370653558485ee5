package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/models"
)

// DefaultStatusInterval - частота опроса статуса (2 Гц).
const DefaultStatusInterval = 500 * time.Millisecond

// StatusFetcher возвращает один снимок состояния.
type StatusFetcher interface {
	ReadStatus(ctx context.Context) (models.DeviceStatus, error)
}

// StatusPoller периодически опрашивает статус и публикует только изменившиеся снимки.
// Опрос строго последовательный: следующий запрос не начинается, пока не завершен предыдущий,
// поэтому устаревший ответ не может перезаписать более свежий.
type StatusPoller struct {
	fetcher  StatusFetcher
	interval time.Duration
	publish  func(models.DeviceStatus)
	logger   logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	lastMu   sync.Mutex
	last     models.DeviceStatus
	hasLast  bool
	fetches  int64
	failures int64
}

// NewStatusPoller создает опросчик. Публикация вызывается из горутины опроса.
func NewStatusPoller(fetcher StatusFetcher, interval time.Duration, publish func(models.DeviceStatus), logger logrus.FieldLogger) *StatusPoller {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	if publish == nil {
		publish = func(models.DeviceStatus) {}
	}
	return &StatusPoller{
		fetcher:  fetcher,
		interval: interval,
		publish:  publish,
		logger:   logging.WithPrefix(logger, "POLLER"),
	}
}

// Start переводит опросчик в состояние Polling. Первый запрос выполняется сразу.
// Возвращает false, если опрос уже запущен.
func (p *StatusPoller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	p.logger.WithField("interval", p.interval).Info("Status polling started")
	go p.run(loopCtx, done)
	return true
}

// Stop переводит опросчик в состояние Paused и ждет завершения горутины.
// После возврата новых запросов не будет. Нельзя вызывать из колбэка публикации.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("Status polling stopped")
}

// SetLive - переключатель "live" из панели оператора.
func (p *StatusPoller) SetLive(ctx context.Context, live bool) {
	if live {
		p.Start(ctx)
		return
	}
	p.Stop()
}

// IsPolling сообщает, находится ли опросчик в состоянии Polling.
func (p *StatusPoller) IsPolling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Last возвращает последний опубликованный снимок.
func (p *StatusPoller) Last() (models.DeviceStatus, bool) {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	return p.last, p.hasLast
}

// Stats возвращает число выполненных и неудачных запросов.
func (p *StatusPoller) Stats() (fetches, failures int64) {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	return p.fetches, p.failures
}

func (p *StatusPoller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *StatusPoller) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	status, err := p.fetcher.ReadStatus(ctx)

	p.lastMu.Lock()
	p.fetches++
	if err != nil {
		p.failures++
		p.lastMu.Unlock()
		if ctx.Err() == nil {
			p.logger.WithError(err).Warn("Status poll failed, retrying on next tick")
		}
		return
	}
	// Ответ, пришедший после остановки, не публикуется
	if ctx.Err() != nil || (p.hasLast && p.last.Equal(status)) {
		p.lastMu.Unlock()
		return
	}
	p.last = status
	p.hasLast = true
	p.lastMu.Unlock()

	p.logger.WithField("position", status.Position).Debug("Status changed")
	p.publish(status)
}
