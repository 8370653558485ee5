package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iwtcode/rigAdapter/models"
)

const (
	SingleCardPath = "/system/single_card"
	DebugAlignPath = "/system/debug_align"
)

// Sequenced сообщает, что future команды читаются через упорядоченный эндпоинт.
func Sequenced(path string) bool {
	return path == SingleCardPath || path == DebugAlignPath
}

// Streamed сообщает, что один future команды отдает поток изображений до 204.
func Streamed(path string) bool {
	return path == DebugAlignPath
}

// SingleCardPipeline собирает результат съемки одной карты: команда возвращает
// список future, из которых все, кроме последних trailing, - изображения.
type SingleCardPipeline struct {
	dispatcher *Dispatcher
	resolver   *FutureResolver
	trailing   int
}

// NewSingleCardPipeline создает конвейер. trailing - 1 или 2 завершающих future с данными.
func NewSingleCardPipeline(dispatcher *Dispatcher, resolver *FutureResolver, trailing int) *SingleCardPipeline {
	if trailing < 1 {
		trailing = 1
	}
	return &SingleCardPipeline{
		dispatcher: dispatcher,
		resolver:   resolver,
		trailing:   trailing,
	}
}

// Run отправляет команду съемки и последовательно получает все артефакты.
// onImage вызывается для каждого изображения по мере готовности.
func (p *SingleCardPipeline) Run(ctx context.Context, params *models.Params, onImage func(models.Artifact)) (*models.CardResult, error) {
	// 1. Запуск съемки
	reply, err := p.dispatcher.Submit(ctx, Command{Path: SingleCardPath, Params: params, Expect: ExpectFutures})
	if err != nil {
		return nil, fmt.Errorf("failed to start single card imaging: %w", err)
	}
	if !reply.Pending() || len(reply.Futures) == 0 {
		return nil, fmt.Errorf("single card imaging returned no futures")
	}

	trailing := p.trailing
	if trailing > len(reply.Futures) {
		trailing = len(reply.Futures)
	}

	// 2. Получение изображений и идентификатора строго по порядку
	result := &models.CardResult{}
	_, err = p.resolver.ResolveSequence(ctx, reply.Futures, trailing, func(art models.Artifact) {
		if art.Kind == models.ArtifactImage {
			result.Images = append(result.Images, art)
			if onImage != nil {
				onImage(art)
			}
			return
		}
		mergeIdentity(&result.Identity, art)
	})
	if err != nil {
		return result, fmt.Errorf("failed to resolve single card results: %w", err)
	}

	return result, nil
}

// mergeIdentity дополняет идентификатор карты данными из артефакта.
// Не-JSON тело сохраняется как текст.
func mergeIdentity(id *models.CardIdentity, art models.Artifact) {
	var decoded models.CardIdentity
	if err := json.Unmarshal(art.Body, &decoded); err == nil && (decoded.CardID != "" || decoded.Subdir != "") {
		if decoded.CardID != "" {
			id.CardID = decoded.CardID
		}
		if decoded.Subdir != "" {
			id.Subdir = decoded.Subdir
		}
		return
	}

	var text string
	if err := json.Unmarshal(art.Body, &text); err != nil {
		text = string(art.Body)
	}
	id.RawText = strings.TrimSpace(text)
	if id.CardID == "" {
		id.CardID = models.CardID(id.RawText)
	}
}
