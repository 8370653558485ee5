package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
)

// Policy ограничивает ожидание результата future.
// Нулевые значения означают отсутствие ограничения.
type Policy struct {
	MaxAttempts int           // Максимальное число запросов на один future
	Deadline    time.Duration // Максимальное время ожидания одного future
	RetryDelay  time.Duration // Пауза после сетевой ошибки или 5xx; 204 повторяется сразу
}

type futureState uint8

const (
	futureResolving futureState = iota + 1
	futureConsumed
)

// DefaultConsumedLimit - сколько разрешенных future резолвер помнит по умолчанию.
const DefaultConsumedLimit = 4096

// FutureResolver превращает идентификаторы future в конечные артефакты.
// Разрешенные идентификаторы хранятся в ограниченном журнале: после вытеснения
// самого старого повторный запрос по нему снова уходит на сервер.
type FutureResolver struct {
	adapter *MiddlewareAdapter
	path    string
	policy  Policy
	limit   int
	logger  logrus.FieldLogger

	mu       sync.Mutex
	states   map[models.FutureID]futureState
	consumed []models.FutureID
}

type ResolverOption func(*FutureResolver)

// WithFuturePath выбирает эндпоинт: /future или /sfuture.
func WithFuturePath(path string) ResolverOption {
	return func(r *FutureResolver) {
		if path != "" {
			r.path = strings.TrimRight(path, "/")
		}
	}
}

func WithPolicy(p Policy) ResolverOption {
	return func(r *FutureResolver) {
		r.policy = p
	}
}

// WithConsumedLimit ограничивает число запоминаемых разрешенных future.
func WithConsumedLimit(n int) ResolverOption {
	return func(r *FutureResolver) {
		if n > 0 {
			r.limit = n
		}
	}
}

func NewFutureResolver(adapter *MiddlewareAdapter, opts ...ResolverOption) *FutureResolver {
	r := &FutureResolver{
		adapter: adapter,
		path:    DefaultFuturePath,
		limit:   DefaultConsumedLimit,
		logger:  logging.WithPrefix(adapter.logger, "FUTURE"),
		states:  make(map[models.FutureID]futureState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Consumed сообщает, был ли future уже разрешен.
func (r *FutureResolver) Consumed(id models.FutureID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[id] == futureConsumed
}

func (r *FutureResolver) claim(id models.FutureID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.states[id]; busy {
		return false
	}
	r.states[id] = futureResolving
	return true
}

func (r *FutureResolver) finish(id models.FutureID, consumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !consumed {
		delete(r.states, id)
		return
	}
	r.states[id] = futureConsumed
	r.consumed = append(r.consumed, id)
	for len(r.consumed) > r.limit {
		oldest := r.consumed[0]
		r.consumed = r.consumed[1:]
		if r.states[oldest] == futureConsumed {
			delete(r.states, oldest)
		}
	}
}

// Resolve опрашивает future до получения конечного артефакта.
// 204 - результат еще не готов, запрос повторяется сразу. Сетевые ошибки и 5xx
// повторяются. Прочие статусы возвращаются как ошибка. Каждый future разрешается
// ровно один раз, повторный вызов возвращает ErrFutureConsumed без запросов.
func (r *FutureResolver) Resolve(ctx context.Context, id models.FutureID) (models.Artifact, error) {
	if !r.claim(id) {
		return models.Artifact{}, fmt.Errorf("future %d: %w", id, apperrors.ErrFutureConsumed)
	}

	reply, err := r.poll(ctx, id, false)
	r.finish(id, err == nil)
	if err != nil {
		return models.Artifact{}, err
	}
	art := reply.artifact(id, 0)

	r.logger.WithFields(logrus.Fields{"future": id, "bytes": len(art.Body)}).Debug("Future resolved")
	return art, nil
}

// ResolveSequence разрешает цепочку future строго по порядку и публикует каждый
// артефакт сразу после получения. Последние trailing элементов несут данные
// (идентификатор карты), остальные - изображения.
func (r *FutureResolver) ResolveSequence(ctx context.Context, ids []models.FutureID, trailing int, publish func(models.Artifact)) ([]models.Artifact, error) {
	if trailing < 0 || trailing > len(ids) {
		return nil, fmt.Errorf("invalid trailing count %d for %d futures", trailing, len(ids))
	}

	split := len(ids) - trailing
	out := make([]models.Artifact, 0, len(ids))
	for i, id := range ids {
		art, err := r.Resolve(ctx, id)
		if err != nil {
			return out, fmt.Errorf("failed to resolve future %d (%d of %d): %w", id, i+1, len(ids), err)
		}
		art.Index = i
		if i < split {
			art.Kind = models.ArtifactImage
		} else {
			art.Kind = models.ArtifactData
		}
		out = append(out, art)
		if publish != nil {
			publish(art)
		}
	}
	return out, nil
}

// Drain читает потоковый future: каждый ответ 200 - очередной артефакт,
// 204 означает, что поток исчерпан. Ограничения Policy действуют на ожидание
// каждого следующего артефакта.
func (r *FutureResolver) Drain(ctx context.Context, id models.FutureID, publish func(models.Artifact)) (int, error) {
	if !r.claim(id) {
		return 0, fmt.Errorf("future %d: %w", id, apperrors.ErrFutureConsumed)
	}

	count := 0
	for {
		reply, err := r.poll(ctx, id, true)
		if err != nil {
			r.finish(id, false)
			return count, fmt.Errorf("stream %d interrupted after %d artifacts: %w", id, count, err)
		}
		if reply.end {
			r.finish(id, true)
			r.logger.WithFields(logrus.Fields{"future": id, "artifacts": count}).Debug("Stream drained")
			return count, nil
		}
		if publish != nil {
			publish(reply.artifact(id, count))
		}
		count++
	}
}

type futureReply struct {
	contentType string
	body        []byte
	end         bool
}

func (fr futureReply) artifact(id models.FutureID, index int) models.Artifact {
	return models.Artifact{
		Kind:        kindFromContentType(fr.contentType),
		FutureID:    id,
		Index:       index,
		ContentType: fr.contentType,
		Body:        fr.body,
	}
}

// poll - общий цикл ожидания одного ответа с телом, аналог повторного вызова
// при обрыве соединения. Для потока 204 завершает чтение, иначе означает ожидание.
func (r *FutureResolver) poll(parent context.Context, id models.FutureID, stream bool) (futureReply, error) {
	ctx := parent
	if r.policy.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, r.policy.Deadline)
		defer cancel()
	}

	path := fmt.Sprintf("%s/%d", r.path, id)
	for attempt := 1; ; attempt++ {
		if r.policy.MaxAttempts > 0 && attempt > r.policy.MaxAttempts {
			return futureReply{}, apperrors.NewTimeoutError(fmt.Sprintf("future %d not resolved after %d attempts", id, r.policy.MaxAttempts), nil)
		}

		resp, err := r.adapter.do(ctx, http.MethodGet, path, "", nil)
		if err != nil {
			if ctxErr := r.ctxError(parent, ctx, id); ctxErr != nil {
				return futureReply{}, ctxErr
			}
			r.logger.WithError(err).WithFields(logrus.Fields{"future": id, "attempt": attempt}).Debug("Future poll failed, retrying")
			if !sleepCtx(ctx, r.policy.RetryDelay) {
				return futureReply{}, r.ctxError(parent, ctx, id)
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNoContent:
			drain(resp)
			if stream {
				return futureReply{end: true}, nil
			}
			continue
		case resp.StatusCode >= 500:
			drain(resp)
			r.logger.WithFields(logrus.Fields{"future": id, "status": resp.StatusCode}).Warn("Middleware error while polling future, retrying")
			if !sleepCtx(ctx, r.policy.RetryDelay) {
				return futureReply{}, r.ctxError(parent, ctx, id)
			}
			continue
		}

		contentType := resp.Header.Get("Content-Type")
		body, err := readOK(resp)
		if err != nil {
			if apperrors.IsStatus(err) {
				return futureReply{}, fmt.Errorf("future %d: %w", id, err)
			}
			// Обрыв при чтении тела - повторяем запрос
			if !sleepCtx(ctx, r.policy.RetryDelay) {
				return futureReply{}, r.ctxError(parent, ctx, id)
			}
			continue
		}
		return futureReply{contentType: contentType, body: body}, nil
	}
}

func (r *FutureResolver) ctxError(parent, ctx context.Context, id models.FutureID) error {
	if ctx.Err() == nil {
		return nil
	}
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(fmt.Sprintf("future %d not resolved within %s", id, r.policy.Deadline), ctx.Err())
	}
	if err := parent.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func kindFromContentType(contentType string) models.ArtifactKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"), strings.HasPrefix(ct, "application/octet-stream"):
		return models.ArtifactImage
	case strings.Contains(ct, "json"):
		return models.ArtifactData
	default:
		return models.ArtifactText
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
