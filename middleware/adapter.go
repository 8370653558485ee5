package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
)

const (
	DefaultStatusPath      = "/system/status"
	LegacyStatusPath       = "/stage/status"
	DefaultFuturePath      = "/future"
	SequencedFuturePath    = "/sfuture"
	DefaultSchemaPath      = "/openapi.json"
	DefaultRequestTimeout  = 30 * time.Second
	requestIDHeader        = "X-Request-ID"
	maxErrorBodyBytes      = 64 << 10
	defaultUserAgentHeader = "rigAdapter/1"
)

// MiddlewareAdapter инкапсулирует HTTP вызовы к сервису Middleware.
// Все остальные компоненты пакета строятся поверх него.
type MiddlewareAdapter struct {
	host       string
	client     *http.Client
	statusPath string
	logger     logrus.FieldLogger
}

// Option настраивает MiddlewareAdapter.
type Option func(*MiddlewareAdapter)

// WithHTTPClient подменяет HTTP клиент (таймауты, транспорт для тестов).
func WithHTTPClient(c *http.Client) Option {
	return func(a *MiddlewareAdapter) {
		if c != nil {
			a.client = c
		}
	}
}

// WithStatusPath выбирает эндпоинт статуса (/system/status или /stage/status).
func WithStatusPath(path string) Option {
	return func(a *MiddlewareAdapter) {
		if path != "" {
			a.statusPath = path
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *MiddlewareAdapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewMiddlewareAdapter создает адаптер для адреса вида "host:port" или полного URL.
func NewMiddlewareAdapter(host string, opts ...Option) *MiddlewareAdapter {
	a := &MiddlewareAdapter{
		host:       NormalizeHost(host),
		client:     &http.Client{Timeout: DefaultRequestTimeout},
		statusPath: DefaultStatusPath,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.WithPrefix(a.logger, "MIDDLEWARE")
	return a
}

// NormalizeHost добавляет схему http:// и убирает завершающий слэш.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "localhost:8000"
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/")
}

// Host возвращает базовый адрес Middleware.
func (a *MiddlewareAdapter) Host() string {
	return a.host
}

func (a *MiddlewareAdapter) StatusPath() string {
	return a.statusPath
}

// URL собирает {host}{path}?{query}. Строка запроса не экранируется, кроме
// символов, недопустимых в URL (пробелы, управляющие и не-ASCII байты).
func (a *MiddlewareAdapter) URL(path, query string) string {
	u := a.host + path
	if query != "" {
		u += "?" + escapeQueryUnsafe(query)
	}
	return u
}

func escapeQueryUnsafe(q string) string {
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		c := q[i]
		if c <= 0x20 || c >= 0x7f || c == '"' || c == '#' || c == '<' || c == '>' {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// do выполняет запрос. Сетевые ошибки оборачиваются в ошибку типа transport.
func (a *MiddlewareAdapter) do(ctx context.Context, method, path, query string, header http.Header) (*http.Response, error) {
	target := a.URL(path, query)
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request %s %s: %w", method, target, err)
	}
	req.Header.Set("User-Agent", defaultUserAgentHeader)
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewTransportError(method+" "+path, err)
	}
	return resp, nil
}

// readOK читает тело ответа. Неуспешный статус превращается в ошибку с текстом тела.
func readOK(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, apperrors.NewStatusError(resp.StatusCode, string(body))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransportError("read body", err)
	}
	return body, nil
}

func (a *MiddlewareAdapter) getBytes(ctx context.Context, path, query string) ([]byte, string, error) {
	resp, err := a.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	body, err := readOK(resp)
	return body, contentType, err
}

func (a *MiddlewareAdapter) getJSON(ctx context.Context, path, query string, dst any) error {
	body, _, err := a.getBytes(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.NewDecodeError("GET "+path, err)
	}
	return nil
}

func (a *MiddlewareAdapter) postBytes(ctx context.Context, path, query string) ([]byte, error) {
	resp, err := a.do(ctx, http.MethodPost, path, query, nil)
	if err != nil {
		return nil, err
	}
	return readOK(resp)
}

func (a *MiddlewareAdapter) postJSON(ctx context.Context, path, query string, dst any) error {
	body, err := a.postBytes(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.NewDecodeError("POST "+path, err)
	}
	return nil
}
