package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
)

func TestSubmit_QueryKeepsInsertionOrder(t *testing.T) {
	sim, a := setupSimulator(t)
	d := NewDispatcher(a)

	params := models.NewParams().Set("n", -200).Set("size", "QUARTER")
	reply, err := d.Submit(context.Background(), Command{Path: "/stage/relative", Params: params})
	require.NoError(t, err)

	assert.Equal(t, ReplyImmediate, reply.Kind)
	assert.Equal(t, "moved -200 QUARTER, position -400", reply.Artifact.Text())
	assert.Equal(t, []string{"POST /stage/relative?n=-200&size=QUARTER"}, requestsWithPrefix(sim, "POST "))
}

func TestSubmit_RejectedCommandSkipsHandler(t *testing.T) {
	sim, a := setupSimulator(t)
	sim.Fail("/stage/relative", http.StatusBadRequest, "invalid parameter")
	d := NewDispatcher(a)

	called := false
	_, err := d.Submit(context.Background(), Command{
		Path:   "/stage/relative",
		Params: models.NewParams().Set("n", 1),
		Handler: func(resp *http.Response) (Reply, error) {
			called = true
			return Reply{}, nil
		},
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, "invalid parameter", err.Error())
	assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
	assert.Equal(t, 1, sim.Hits("/stage/relative"))
}

func TestSubmit_FuturesReply(t *testing.T) {
	_, a := setupSimulator(t)
	d := NewDispatcher(a)

	reply, err := d.Submit(context.Background(), Command{
		Path:   SingleCardPath,
		Params: models.NewParams().Set("images", 2),
		Expect: ExpectFutures,
	})
	require.NoError(t, err)
	assert.True(t, reply.Pending())
	assert.Len(t, reply.Futures, 3)
}

func TestSubmit_CustomHandler(t *testing.T) {
	_, a := setupSimulator(t)
	d := NewDispatcher(a)

	reply, err := d.Submit(context.Background(), Command{
		Path:   "/stage/speed",
		Params: models.NewParams().Set("hz", 800),
		Handler: func(resp *http.Response) (Reply, error) {
			return Reply{Kind: ReplyImmediate, Artifact: models.Artifact{
				Kind:        models.ArtifactText,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        []byte("handled"),
			}}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "handled", reply.Artifact.Text())
}

func TestSubmit_SendsRequestID(t *testing.T) {
	ids := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	d := NewDispatcher(NewMiddlewareAdapter(srv.URL, WithHTTPClient(srv.Client())))
	reply, err := d.Submit(context.Background(), Command{Path: "/stage/led_pwm", Params: models.NewParams().Set("pwm", 0.2)})
	require.NoError(t, err)

	got := <-ids
	assert.Equal(t, reply.RequestID, got)
	_, err = uuid.Parse(got)
	assert.NoError(t, err)
}

func TestDecodeFutures(t *testing.T) {
	cases := []struct {
		body string
		want []models.FutureID
	}{
		{"12", []models.FutureID{12}},
		{"[1, 2, 3]", []models.FutureID{1, 2, 3}},
		{" [4]\n", []models.FutureID{4}},
		{"[]", []models.FutureID{}},
	}
	for _, tc := range cases {
		got, err := DecodeFutures([]byte(tc.body))
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.want, got, tc.body)
	}

	_, err := DecodeFutures([]byte(`"pending"`))
	require.Error(t, err)
	assert.True(t, apperrors.IsDecode(err))
}

// blockingServer держит ответ, пока не закрыт release.
func blockingServer(t *testing.T) (*MiddlewareAdapter, chan struct{}, chan struct{}) {
	t.Helper()
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			entered <- struct{}{}
			<-release
		}
		_, _ = w.Write([]byte("OK"))
	}))
	t.Cleanup(srv.Close)
	return NewMiddlewareAdapter(srv.URL, WithHTTPClient(srv.Client())), entered, release
}

func TestForm_RejectsSecondSubmitWhileInFlight(t *testing.T) {
	a, entered, release := blockingServer(t)
	d := NewDispatcher(a)
	slow := d.NewForm("/slow", ExpectText, nil)
	fast := d.NewForm("/fast", ExpectText, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = slow.Submit(context.Background(), models.NewParams())
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first submit did not reach the server")
	}
	assert.True(t, slow.Busy())

	_, err := slow.Submit(context.Background(), models.NewParams())
	require.ErrorIs(t, err, apperrors.ErrFormBusy)

	// Другая форма не блокируется
	reply, err := fast.Submit(context.Background(), models.NewParams())
	require.NoError(t, err)
	assert.Equal(t, "OK", reply.Artifact.Text())

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.False(t, slow.Busy())

	_, err = slow.Submit(context.Background(), models.NewParams())
	require.NoError(t, err)
}

func TestForm_ValidatesBeforeSending(t *testing.T) {
	sim, a := setupSimulator(t)
	schema, err := a.FetchSchema(context.Background())
	require.NoError(t, err)
	descriptors, err := schema.Operation("/stage/relative")
	require.NoError(t, err)

	form := NewDispatcher(a).NewForm("/stage/relative", ExpectText, descriptors)
	assert.Equal(t, "/stage/relative", form.Path())

	_, err = form.Submit(context.Background(), models.NewParams().Set("size", "HALF"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"n" is required`)

	_, err = form.Submit(context.Background(), models.NewParams().Set("n", 1).Set("size", "DOUBLE"))
	require.Error(t, err)
	assert.Equal(t, 0, sim.Hits("/stage/relative"))
	assert.False(t, form.Busy())

	reply, err := form.Submit(context.Background(), models.NewParams().Set("n", 3).Set("size", "HALF"))
	require.NoError(t, err)
	assert.Contains(t, reply.Artifact.Text(), "position 12")
}
