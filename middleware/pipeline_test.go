package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwtcode/rigAdapter/internal/simulator"
	"github.com/iwtcode/rigAdapter/models"
)

func TestSingleCardPipeline_Run(t *testing.T) {
	sim, a := setupSimulator(t)
	pipeline := NewSingleCardPipeline(NewDispatcher(a), NewFutureResolver(a), 1)

	var streamed []int
	params := models.NewParams().Set("encoding", "png").Set("images", 2).Set("path", "/media/usb0")
	result, err := pipeline.Run(context.Background(), params, func(art models.Artifact) {
		streamed = append(streamed, art.Index)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, streamed)
	require.Len(t, result.Images, 2)
	assert.Equal(t, "image/png", result.Images[0].ContentType)
	assert.Equal(t, models.CardID("1001"), result.Identity.CardID)
	assert.NotEmpty(t, result.Identity.Subdir)

	cards := sim.Cards("/media/usb0")
	require.Len(t, cards, 1)
	assert.Equal(t, result.Identity.Subdir, cards[0].SubdirPath)
}

func TestSingleCardPipeline_TwoTrailingIds(t *testing.T) {
	sim, a := setupSimulator(t, simulator.WithTextCardID())
	pipeline := NewSingleCardPipeline(NewDispatcher(a), NewFutureResolver(a, WithFuturePath(SequencedFuturePath)), 2)

	var kinds []models.ArtifactKind
	params := models.NewParams().Set("images", 2).Set("path", "/media/usb0")
	result, err := pipeline.Run(context.Background(), params, func(art models.Artifact) {
		kinds = append(kinds, art.Kind)
	})
	require.NoError(t, err)

	assert.Equal(t, []models.ArtifactKind{models.ArtifactImage, models.ArtifactImage}, kinds)
	require.Len(t, result.Images, 2)
	assert.Equal(t, models.CardID("1001"), result.Identity.CardID)
	assert.Equal(t, "SN-1001", result.Identity.RawText)
	assert.Equal(t, sim.Cards("/media/usb0")[0].SubdirPath, result.Identity.Subdir)
	assert.Len(t, requestsWithPrefix(sim, "GET /sfuture/"), 6)
}

func TestSingleCardPipeline_TrailingCountSplitsFutures(t *testing.T) {
	_, a := setupSimulator(t, simulator.WithTextCardID())
	pipeline := NewSingleCardPipeline(NewDispatcher(a), NewFutureResolver(a), 1)

	result, err := pipeline.Run(context.Background(), models.NewParams().Set("images", 1), nil)
	require.NoError(t, err)
	assert.Len(t, result.Images, 2)
	assert.Empty(t, result.Identity.RawText)
}

func TestSingleCardPipeline_RejectedStart(t *testing.T) {
	sim, a := setupSimulator(t)
	sim.UpdateStatus(func(s *models.DeviceStatus) { s.Running = true })
	pipeline := NewSingleCardPipeline(NewDispatcher(a), NewFutureResolver(a), 1)

	result, err := pipeline.Run(context.Background(), models.NewParams(), nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, "imaging already running", errorBody(err))
}

func TestSingleCardPipeline_ServerError(t *testing.T) {
	sim, a := setupSimulator(t)
	sim.Fail(SingleCardPath, http.StatusInternalServerError, "camera not responding")
	pipeline := NewSingleCardPipeline(NewDispatcher(a), NewFutureResolver(a), 1)

	_, err := pipeline.Run(context.Background(), models.NewParams(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, sim.Hits(SingleCardPath))
}

func TestMergeIdentity(t *testing.T) {
	var id models.CardIdentity
	mergeIdentity(&id, models.Artifact{Body: []byte(`{"card_id": 4711, "subdir": "ab12cd34"}`)})
	assert.Equal(t, models.CardID("4711"), id.CardID)
	assert.Equal(t, "ab12cd34", id.Subdir)

	var text models.CardIdentity
	mergeIdentity(&text, models.Artifact{Body: []byte(`"SN-0042"`)})
	assert.Equal(t, models.CardID("SN-0042"), text.CardID)
	assert.Equal(t, "SN-0042", text.RawText)

	var raw models.CardIdentity
	mergeIdentity(&raw, models.Artifact{Body: []byte("plain id\n")})
	assert.Equal(t, models.CardID("plain id"), raw.CardID)

	// Второй артефакт с данными не затирает уже известный идентификатор
	mergeIdentity(&id, models.Artifact{Body: []byte(`"extra"`)})
	assert.Equal(t, models.CardID("4711"), id.CardID)
	assert.Equal(t, "extra", id.RawText)

	// Текстовый идентификатор, затем JSON с каталогом
	var both models.CardIdentity
	mergeIdentity(&both, models.Artifact{Body: []byte("SN-1001")})
	mergeIdentity(&both, models.Artifact{Body: []byte(`{"card_id":"1001","subdir":"a1b2c3d4"}`)})
	assert.Equal(t, models.CardIdentity{CardID: "1001", Subdir: "a1b2c3d4", RawText: "SN-1001"}, both)
}
