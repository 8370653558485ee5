package rig

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/middleware"
	"github.com/iwtcode/rigAdapter/models"
	"github.com/iwtcode/rigAdapter/settings"
)

// Client является основной точкой входа для взаимодействия с библиотекой.
type Client struct {
	adapter    *middleware.MiddlewareAdapter
	poller     *middleware.StatusPoller
	resolver   *middleware.FutureResolver
	sequenced  *middleware.FutureResolver
	dispatcher *middleware.Dispatcher
	pipeline   *middleware.SingleCardPipeline
	store      *settings.Store
	mounts     *MountSelector
	cards      *CardCatalog
	config     *Config
	logger     *logrus.Logger

	statusMu sync.Mutex
	onStatus func(models.DeviceStatus)

	formsMu sync.Mutex
	schema  *middleware.Schema
	forms   map[string]*middleware.Form
}

type clientOptions struct {
	port       settings.Port
	httpClient *http.Client
	logger     *logrus.Logger
	trailing   int
}

// ClientOption настраивает Client.
type ClientOption func(*clientOptions)

// WithSettingsPort задает хранилище настроек. По умолчанию настройки живут в памяти.
func WithSettingsPort(port settings.Port) ClientOption {
	return func(o *clientOptions) {
		o.port = port
	}
}

func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

func WithLogger(logger *logrus.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithTrailingData задает число завершающих future с данными в съемке карты.
func WithTrailingData(n int) ClientOption {
	return func(o *clientOptions) {
		o.trailing = n
	}
}

// New создает и возвращает новый экземпляр клиента.
// Адрес Middleware берется из сохраненных настроек, если он там есть, иначе из конфигурации.
func New(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	o := clientOptions{trailing: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.port == nil {
		o.port = settings.NewMemoryPort()
	}

	logger := o.logger
	if logger == nil {
		logger = logging.NewLogger(&logging.Config{Level: cfg.LogLevel})
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	store := settings.NewStore(o.port, logger)
	host := cfg.Host
	if saved := store.Host(context.Background()); saved != "" {
		host = saved
	}

	adapter := middleware.NewMiddlewareAdapter(host,
		middleware.WithHTTPClient(httpClient),
		middleware.WithStatusPath(cfg.StatusPath),
		middleware.WithLogger(logger),
	)

	c := &Client{
		adapter:    adapter,
		resolver:   middleware.NewFutureResolver(adapter, middleware.WithPolicy(cfg.Policy())),
		dispatcher: middleware.NewDispatcher(adapter),
		store:      store,
		config:     cfg,
		logger:     logger,
		forms:      make(map[string]*middleware.Form),
	}
	c.poller = middleware.NewStatusPoller(adapter, cfg.StatusInterval, c.publishStatus, logger)

	// Съемка карты и выравнивание читают результаты через упорядоченный эндпоинт
	c.sequenced = middleware.NewFutureResolver(adapter,
		middleware.WithFuturePath(middleware.SequencedFuturePath),
		middleware.WithPolicy(cfg.Policy()),
	)
	c.pipeline = middleware.NewSingleCardPipeline(c.dispatcher, c.sequenced, o.trailing)
	c.mounts = NewMountSelector(adapter, store, logger)
	c.cards = NewCardCatalog(adapter, logger)

	logger.WithField("host", adapter.Host()).Info("Middleware client created")
	return c, nil
}

// Close останавливает опрос статуса.
func (c *Client) Close() {
	c.poller.Stop()
}

// GetLogger возвращает используемый логгер.
func (c *Client) GetLogger() *logrus.Logger {
	return c.logger
}

func (c *Client) Host() string {
	return c.adapter.Host()
}

// Settings возвращает хранилище настроек панели.
func (c *Client) Settings() *settings.Store {
	return c.store
}

func (c *Client) Mounts() *MountSelector {
	return c.mounts
}

func (c *Client) Cards() *CardCatalog {
	return c.cards
}

// ReadStatus выполняет один запрос статуса.
func (c *Client) ReadStatus(ctx context.Context) (models.DeviceStatus, error) {
	return c.adapter.ReadStatus(ctx)
}

// OnStatus задает обработчик изменившихся снимков статуса.
func (c *Client) OnStatus(fn func(models.DeviceStatus)) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.onStatus = fn
}

func (c *Client) publishStatus(status models.DeviceStatus) {
	c.statusMu.Lock()
	fn := c.onStatus
	c.statusMu.Unlock()
	if fn != nil {
		fn(status)
	}
}

// SetLive включает или выключает периодический опрос статуса.
func (c *Client) SetLive(ctx context.Context, live bool) {
	c.poller.SetLive(ctx, live)
}

func (c *Client) IsLive() bool {
	return c.poller.IsPolling()
}

// LastStatus возвращает последний опубликованный снимок.
func (c *Client) LastStatus() (models.DeviceStatus, bool) {
	return c.poller.Last()
}

// Schema возвращает схему API. Схема загружается один раз.
func (c *Client) Schema(ctx context.Context) (*middleware.Schema, error) {
	c.formsMu.Lock()
	defer c.formsMu.Unlock()
	if c.schema != nil {
		return c.schema, nil
	}
	s, err := c.adapter.FetchSchema(ctx)
	if err != nil {
		return nil, err
	}
	c.schema = s
	return s, nil
}

// Form возвращает форму для POST пути. Формы кэшируются, поэтому блокировка
// повторной отправки действует для всех вызывающих.
func (c *Client) Form(ctx context.Context, path string) (*middleware.Form, error) {
	s, err := c.Schema(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to fetch API schema")
		s = nil
	}
	descriptors, err := s.Operation(path)
	if err != nil {
		return nil, err
	}

	c.formsMu.Lock()
	defer c.formsMu.Unlock()
	if f, ok := c.forms[path]; ok {
		return f, nil
	}
	expect := middleware.ExpectText
	if middleware.Sequenced(path) {
		expect = middleware.ExpectFutures
	}
	f := c.dispatcher.NewForm(path, expect, descriptors)
	c.forms[path] = f
	return f, nil
}

// FormDefaults возвращает последние отправленные параметры формы или значения по умолчанию из схемы.
func (c *Client) FormDefaults(ctx context.Context, path string) (*models.Params, error) {
	if saved, ok := c.store.FormParams(ctx, path); ok {
		return saved, nil
	}
	f, err := c.Form(ctx, path)
	if err != nil {
		return nil, err
	}
	return f.Descriptors().Defaults(), nil
}

// SubmitForm отправляет форму и запоминает параметры успешной отправки.
func (c *Client) SubmitForm(ctx context.Context, path string, params *models.Params) (middleware.Reply, error) {
	f, err := c.Form(ctx, path)
	if err != nil {
		return middleware.Reply{}, err
	}
	reply, err := f.Submit(ctx, params)
	if err != nil {
		return reply, err
	}
	if err := c.store.SetFormParams(ctx, path, params); err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("Failed to remember form parameters")
	}
	return reply, nil
}

// Submit отправляет произвольную команду без проверки по схеме.
func (c *Client) Submit(ctx context.Context, cmd middleware.Command) (middleware.Reply, error) {
	return c.dispatcher.Submit(ctx, cmd)
}

// Resolve ожидает результат одного future.
func (c *Client) Resolve(ctx context.Context, id models.FutureID) (models.Artifact, error) {
	return c.resolver.Resolve(ctx, id)
}

// ResolveFor ожидает результат future, выданного командой path. Команды с
// упорядоченной выдачей читаются через /sfuture.
func (c *Client) ResolveFor(ctx context.Context, path string, id models.FutureID) (models.Artifact, error) {
	if middleware.Sequenced(path) {
		return c.sequenced.Resolve(ctx, id)
	}
	return c.resolver.Resolve(ctx, id)
}

// Stream читает потоковый future через /sfuture и публикует каждое изображение.
// Возвращает число полученных артефактов.
func (c *Client) Stream(ctx context.Context, id models.FutureID, publish func(models.Artifact)) (int, error) {
	return c.sequenced.Drain(ctx, id, publish)
}

// ResolveSequence ожидает результаты цепочки future строго по порядку.
func (c *Client) ResolveSequence(ctx context.Context, ids []models.FutureID, trailing int, publish func(models.Artifact)) ([]models.Artifact, error) {
	return c.resolver.ResolveSequence(ctx, ids, trailing, publish)
}

// SingleCard снимает одну карту датчиков.
func (c *Client) SingleCard(ctx context.Context, params *models.Params, onImage func(models.Artifact)) (*models.CardResult, error) {
	return c.pipeline.Run(ctx, params, onImage)
}

func (c *Client) Acquire(ctx context.Context, camera string, scale float64) (models.Artifact, error) {
	return c.adapter.Acquire(ctx, camera, scale)
}

// TogglePreview переключает просмотр камеры по последнему известному статусу.
func (c *Client) TogglePreview(ctx context.Context, camera string) error {
	status, err := c.currentStatus(ctx)
	if err != nil {
		return err
	}
	return c.adapter.TogglePreview(ctx, camera, status)
}

func (c *Client) MoveRelative(ctx context.Context, n int, size string) (string, error) {
	return c.adapter.MoveRelative(ctx, n, size)
}

func (c *Client) SetRingLight(ctx context.Context, pwm float64) error {
	return c.adapter.SetRingLight(ctx, pwm)
}

// ToggleRingLight переключает подсветку по последнему известному статусу.
func (c *Client) ToggleRingLight(ctx context.Context) error {
	status, err := c.currentStatus(ctx)
	if err != nil {
		return err
	}
	return c.adapter.ToggleRingLight(ctx, status)
}

// currentStatus берет снимок опросчика, а при выключенном опросе запрашивает статус.
func (c *Client) currentStatus(ctx context.Context) (models.DeviceStatus, error) {
	if c.poller.IsPolling() {
		if status, ok := c.poller.Last(); ok {
			return status, nil
		}
	}
	return c.adapter.ReadStatus(ctx)
}

// RefreshCards загружает карты с активного носителя.
func (c *Client) RefreshCards(ctx context.Context) ([]models.SensorCard, error) {
	active, ok := c.mounts.Active()
	if !ok {
		if _, err := c.mounts.Refresh(ctx); err != nil {
			return nil, err
		}
		if active, ok = c.mounts.Active(); !ok {
			return nil, fmt.Errorf("no storage device mounted")
		}
	}
	return c.cards.Refresh(ctx, active.Mountpoint)
}
