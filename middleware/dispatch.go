package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
)

// Expect задает, как трактовать успешный ответ на команду.
type Expect int

const (
	ExpectText    Expect = iota // Тело - текст для оператора
	ExpectBinary                // Тело - изображение или другой бинарный артефакт
	ExpectFutures               // Тело - JSON число или массив идентификаторов future
)

// ReplyKind различает немедленный результат и отложенный.
type ReplyKind int

const (
	ReplyImmediate ReplyKind = iota + 1
	ReplyPending
)

// Reply - результат команды: либо артефакт, либо список future.
type Reply struct {
	Kind      ReplyKind
	Artifact  models.Artifact
	Futures   []models.FutureID
	RequestID string
}

// Pending сообщает, что результат нужно получать через FutureResolver.
func (r Reply) Pending() bool {
	return r.Kind == ReplyPending
}

// ReplyHandler получает сырой успешный ответ и сам решает, что в нем.
// Тело закрывается диспетчером после возврата.
type ReplyHandler func(resp *http.Response) (Reply, error)

// Command - одна отправка формы.
type Command struct {
	Path    string
	Params  *models.Params
	Expect  Expect
	Handler ReplyHandler
}

// Dispatcher отправляет команды POST {host}{path}?{query}.
type Dispatcher struct {
	adapter *MiddlewareAdapter
	logger  logrus.FieldLogger
}

func NewDispatcher(adapter *MiddlewareAdapter) *Dispatcher {
	return &Dispatcher{
		adapter: adapter,
		logger:  logging.WithPrefix(adapter.logger, "DISPATCH"),
	}
}

// Submit отправляет команду. Неуспешный статус возвращается как ошибка с телом
// ответа, обработчик в этом случае не вызывается и повтора нет.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (Reply, error) {
	requestID := uuid.NewString()
	query := cmd.Params.Encode()
	log := d.logger.WithFields(logrus.Fields{"path": cmd.Path, "request_id": requestID})
	log.WithField("query", query).Info("Dispatching command")

	header := http.Header{}
	header.Set(requestIDHeader, requestID)
	resp, err := d.adapter.do(ctx, http.MethodPost, cmd.Path, query, header)
	if err != nil {
		log.WithError(err).Error("Command request failed")
		return Reply{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		log.WithField("status", resp.StatusCode).Warn("Command rejected by Middleware")
		return Reply{}, apperrors.NewStatusError(resp.StatusCode, string(body))
	}

	var reply Reply
	if cmd.Handler != nil {
		reply, err = cmd.Handler(resp)
	} else {
		reply, err = decodeReply(resp, cmd.Expect)
	}
	if err != nil {
		return Reply{}, err
	}
	reply.RequestID = requestID
	return reply, nil
}

func decodeReply(resp *http.Response, expect Expect) (Reply, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, apperrors.NewTransportError("read reply", err)
	}

	contentType := resp.Header.Get("Content-Type")
	switch expect {
	case ExpectFutures:
		ids, err := DecodeFutures(body)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: ReplyPending, Futures: ids}, nil
	case ExpectBinary:
		return Reply{Kind: ReplyImmediate, Artifact: models.Artifact{
			Kind:        models.ArtifactImage,
			ContentType: contentType,
			Body:        body,
		}}, nil
	default:
		return Reply{Kind: ReplyImmediate, Artifact: models.Artifact{
			Kind:        models.ArtifactText,
			ContentType: contentType,
			Body:        body,
		}}, nil
	}
}

// DecodeFutures принимает JSON число или массив чисел.
func DecodeFutures(body []byte) ([]models.FutureID, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var ids []models.FutureID
		if err := json.Unmarshal(trimmed, &ids); err != nil {
			return nil, apperrors.NewDecodeError("future list", err)
		}
		return ids, nil
	}
	var id models.FutureID
	if err := json.Unmarshal(trimmed, &id); err != nil {
		return nil, apperrors.NewDecodeError("future id", err)
	}
	return []models.FutureID{id}, nil
}

// Form - экземпляр формы для одного пути. Пока ответ не получен, форма
// заблокирована. Разные формы друг друга не блокируют.
type Form struct {
	dispatcher  *Dispatcher
	path        string
	expect      Expect
	descriptors Descriptors
	busy        atomic.Bool
}

// NewForm создает форму. descriptors может быть nil, тогда параметры не проверяются.
func (d *Dispatcher) NewForm(path string, expect Expect, descriptors Descriptors) *Form {
	return &Form{
		dispatcher:  d,
		path:        path,
		expect:      expect,
		descriptors: descriptors,
	}
}

func (f *Form) Path() string {
	return f.path
}

func (f *Form) Descriptors() Descriptors {
	return f.descriptors
}

// Busy сообщает, ожидает ли форма ответа.
func (f *Form) Busy() bool {
	return f.busy.Load()
}

// Submit отправляет параметры формы. Если предыдущая отправка еще не
// завершена, возвращается ErrFormBusy.
func (f *Form) Submit(ctx context.Context, params *models.Params) (Reply, error) {
	if !f.busy.CompareAndSwap(false, true) {
		return Reply{}, fmt.Errorf("%s: %w", f.path, apperrors.ErrFormBusy)
	}
	defer f.busy.Store(false)

	if f.descriptors != nil {
		if err := f.descriptors.Validate(params); err != nil {
			return Reply{}, err
		}
	}
	return f.dispatcher.Submit(ctx, Command{Path: f.path, Params: params, Expect: f.expect})
}
