package errors

import (
	"errors"
	"fmt"
)

// ErrorType классифицирует ошибки клиента Middleware.
type ErrorType string

const (
	// Сетевой сбой: соединение, таймаут сокета, обрыв ответа.
	ErrorTypeTransport ErrorType = "transport"
	// Middleware ответил неуспешным HTTP статусом.
	ErrorTypeStatus ErrorType = "status"
	// Схема не описывает запрошенный путь или путь не поддерживает POST.
	ErrorTypeUnsupported ErrorType = "unsupported"
	// Исчерпан лимит попыток или срок ожидания результата future.
	ErrorTypeTimeout ErrorType = "timeout"
	// Тело ответа не удалось разобрать.
	ErrorTypeDecode ErrorType = "decode"
)

const (
	SchemaUnavailable = "Failed to fetch API schema from Middleware"
	NotServed         = "Middleware does not serve API for '%s'"
	NonPostRequest    = "Non-post requests are not supported: %s"
)

// AppError представляет собой стандартизированную структуру ошибки клиента.
type AppError struct {
	Type    ErrorType `json:"type"`
	Code    int       `json:"code,omitempty"` // HTTP статус код, если он был получен
	Message string    `json:"message"`        // Сообщение для оператора
	Err     error     `json:"-"`              // Внутренняя ошибка
}

func (a *AppError) Error() string {
	if a == nil {
		return ""
	}
	// Для ответов Middleware оператор видит тело ответа без изменений
	if a.Type == ErrorTypeStatus {
		return a.Message
	}
	if a.Err != nil {
		return fmt.Sprintf("%s: %s: %v", a.Type, a.Message, a.Err)
	}
	return fmt.Sprintf("%s: %s", a.Type, a.Message)
}

func (a *AppError) Unwrap() error {
	return a.Err
}

// NewAppError создает новый экземпляр AppError.
func NewAppError(errType ErrorType, code int, message string, err error) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewTransportError оборачивает сетевую ошибку запроса.
func NewTransportError(msg string, err error) *AppError {
	return NewAppError(ErrorTypeTransport, 0, msg, err)
}

// NewStatusError сохраняет тело неуспешного ответа как сообщение.
func NewStatusError(code int, body string) *AppError {
	return NewAppError(ErrorTypeStatus, code, body, nil)
}

// NewUnsupportedError сообщает, что форма для пути не может быть построена.
func NewUnsupportedError(msg string) *AppError {
	return NewAppError(ErrorTypeUnsupported, 0, msg, nil)
}

func NewTimeoutError(msg string, err error) *AppError {
	return NewAppError(ErrorTypeTimeout, 0, msg, err)
}

func NewDecodeError(msg string, err error) *AppError {
	return NewAppError(ErrorTypeDecode, 0, msg, err)
}

var (
	ErrNotFound       = errors.New("not found")
	ErrFutureConsumed = errors.New("future already consumed")
	ErrFormBusy       = errors.New("form submission already in flight")
)

func typeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return "", false
}

// IsStatus проверяет, что ошибка вызвана неуспешным HTTP статусом.
func IsStatus(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeStatus
}

func IsTransport(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeTransport
}

func IsTimeout(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeTimeout
}

func IsUnsupported(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeUnsupported
}

func IsDecode(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeDecode
}

// StatusCode возвращает HTTP код из цепочки ошибок или 0.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}
