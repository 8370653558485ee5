package rig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/internal/simulator"
	"github.com/iwtcode/rigAdapter/middleware"
	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
	"github.com/iwtcode/rigAdapter/settings"
)

var usbMounts = []models.Mount{
	{Device: "/dev/sda1", Mountpoint: "/media/usb0", FsType: "vfat", Opts: "rw"},
	{Device: "/dev/sdb1", Mountpoint: "/media/usb1", FsType: "vfat", Opts: "rw"},
}

func setupTest(t *testing.T, port settings.Port, opts ...simulator.Option) (*Client, *simulator.Server) {
	t.Helper()
	sim := simulator.New(opts...)
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	cfg := &Config{
		Host:             srv.URL,
		StatusPath:       middleware.DefaultStatusPath,
		StatusInterval:   5 * time.Millisecond,
		FutureRetryDelay: time.Millisecond,
		LogLevel:         "off",
	}
	if port == nil {
		port = settings.NewMemoryPort()
	}
	c, err := New(cfg,
		WithSettingsPort(port),
		WithHTTPClient(srv.Client()),
		WithLogger(logging.Discard()),
	)
	require.NoError(t, err, "Не удалось создать клиент")
	t.Cleanup(c.Close)
	return c, sim
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"RIG_HOST", "RIG_STATUS_PATH", "RIG_STATUS_INTERVAL_MS",
		"RIG_FUTURE_MAX_ATTEMPTS", "RIG_FUTURE_DEADLINE_MS", "RIG_FUTURE_RETRY_MS", "RIG_REQUEST_TIMEOUT_MS", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "localhost:8000", cfg.Host)
	assert.Equal(t, "/system/status", cfg.StatusPath)
	assert.Equal(t, 500*time.Millisecond, cfg.StatusInterval)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "info", cfg.LogLevel)

	// Без ограничений по умолчанию
	assert.Equal(t, 0, cfg.Policy().MaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.Policy().Deadline)
	assert.Equal(t, 200*time.Millisecond, cfg.Policy().RetryDelay)
}

func TestLoad_RetryDelay(t *testing.T) {
	t.Setenv("RIG_FUTURE_RETRY_MS", "0")
	assert.Equal(t, time.Duration(0), Load().Policy().RetryDelay)

	t.Setenv("RIG_FUTURE_RETRY_MS", "75")
	assert.Equal(t, 75*time.Millisecond, Load().Policy().RetryDelay)

	t.Setenv("RIG_FUTURE_RETRY_MS", "-5")
	assert.Equal(t, 200*time.Millisecond, Load().Policy().RetryDelay)

	// Для интервала опроса ноль по-прежнему означает значение по умолчанию
	t.Setenv("RIG_STATUS_INTERVAL_MS", "0")
	assert.Equal(t, middleware.DefaultStatusInterval, Load().StatusInterval)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("RIG_HOST", "10.0.0.5:8000")
	t.Setenv("RIG_STATUS_PATH", "/stage/status")
	t.Setenv("RIG_STATUS_INTERVAL_MS", "250")
	t.Setenv("RIG_FUTURE_MAX_ATTEMPTS", "40")
	t.Setenv("RIG_FUTURE_DEADLINE_MS", "60000")
	t.Setenv("RIG_REQUEST_TIMEOUT_MS", "bogus")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, "10.0.0.5:8000", cfg.Host)
	assert.Equal(t, "/stage/status", cfg.StatusPath)
	assert.Equal(t, 250*time.Millisecond, cfg.StatusInterval)
	assert.Equal(t, 40, cfg.FutureMaxAttempts)
	assert.Equal(t, time.Minute, cfg.FutureDeadline)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestNew_PrefersSavedHost(t *testing.T) {
	port := settings.NewMemoryPort()
	store := settings.NewStore(port, nil)
	require.NoError(t, store.SetHost(context.Background(), "rig.local:9000"))

	c, err := New(&Config{Host: "localhost:8000", LogLevel: "off"}, WithSettingsPort(port))
	require.NoError(t, err)
	assert.Equal(t, "http://rig.local:9000", c.Host())
}

func TestClient_LiveStatus(t *testing.T) {
	c, sim := setupTest(t, nil)
	sim.SetStatus(models.DeviceStatus{Calibrated: true})

	var mu sync.Mutex
	var seen []models.DeviceStatus
	c.OnStatus(func(s models.DeviceStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	c.SetLive(context.Background(), true)
	assert.True(t, c.IsLive())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 5*time.Millisecond)

	c.SetLive(context.Background(), false)
	assert.False(t, c.IsLive())
	last, ok := c.LastStatus()
	require.True(t, ok)
	assert.True(t, last.Calibrated)
}

func TestClient_SubmitFormRemembersParams(t *testing.T) {
	c, sim := setupTest(t, nil)
	ctx := context.Background()

	defaults, err := c.FormDefaults(ctx, "/stage/relative")
	require.NoError(t, err)
	assert.Equal(t, "size=QUARTER&ignore_limits=false", defaults.Encode())

	params := models.NewParams().Set("n", -200).Set("size", "QUARTER")
	reply, err := c.SubmitForm(ctx, "/stage/relative", params)
	require.NoError(t, err)
	assert.Equal(t, "moved -200 QUARTER, position -400", reply.Artifact.Text())
	assert.Contains(t, sim.Requests(), "POST /stage/relative?n=-200&size=QUARTER")

	remembered, err := c.FormDefaults(ctx, "/stage/relative")
	require.NoError(t, err)
	assert.Equal(t, "n=-200&size=QUARTER", remembered.Encode())

	// Форма кэшируется и схема запрашивается один раз
	f1, err := c.Form(ctx, "/stage/relative")
	require.NoError(t, err)
	f2, err := c.Form(ctx, "/stage/relative")
	require.NoError(t, err)
	assert.Same(t, f1, f2)
	assert.Equal(t, 1, sim.Hits(middleware.DefaultSchemaPath))
}

func TestClient_RejectedFormIsNotRemembered(t *testing.T) {
	c, sim := setupTest(t, nil)
	ctx := context.Background()
	sim.Fail("/stage/speed", http.StatusBadRequest, "invalid parameter")

	_, err := c.SubmitForm(ctx, "/stage/speed", models.NewParams().Set("hz", 10))
	require.Error(t, err)
	assert.Equal(t, "invalid parameter", err.Error())

	_, ok := c.Settings().FormParams(ctx, "/stage/speed")
	assert.False(t, ok)
}

func TestClient_UnsupportedForms(t *testing.T) {
	c, sim := setupTest(t, nil)
	ctx := context.Background()

	_, err := c.Form(ctx, "/cam/acquire/{cam_name}")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupported(err))

	_, err = c.Form(ctx, "/system/reboot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not serve API for '/system/reboot'")
	assert.Equal(t, 1, sim.Hits(middleware.DefaultSchemaPath))
}

func TestClient_SchemaUnavailable(t *testing.T) {
	c, sim := setupTest(t, nil)
	sim.Fail(middleware.DefaultSchemaPath, http.StatusInternalServerError, "boom")

	_, err := c.Form(context.Background(), "/stage/relative")
	require.Error(t, err)
	assert.Contains(t, err.Error(), apperrors.SchemaUnavailable)

	// После восстановления схема загружается заново
	sim.Recover(middleware.DefaultSchemaPath)
	_, err = c.Form(context.Background(), "/stage/relative")
	require.NoError(t, err)
}

func TestClient_SingleCardUsesSequencedFutures(t *testing.T) {
	c, sim := setupTest(t, nil)

	var images int
	result, err := c.SingleCard(context.Background(),
		models.NewParams().Set("images", 3).Set("path", "/media/usb0"),
		func(models.Artifact) { images++ })
	require.NoError(t, err)

	assert.Equal(t, 3, images)
	assert.Len(t, result.Images, 3)
	assert.Equal(t, models.CardID("1001"), result.Identity.CardID)
	assert.Empty(t, requestsWithPrefix(sim, "GET /future/"))
	assert.Len(t, requestsWithPrefix(sim, "GET /sfuture/"), 7)
}

func TestClient_ResolveAndToggles(t *testing.T) {
	c, sim := setupTest(t, nil)
	ctx := context.Background()

	id := sim.AddFuture(simulator.Future{Pending: 3, Body: []byte("done")})
	art, err := c.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "done", art.Text())
	assert.Equal(t, 4, sim.Polls(id))

	require.NoError(t, c.ToggleRingLight(ctx))
	assert.Equal(t, 0.2, sim.PWM())

	require.NoError(t, c.TogglePreview(ctx, middleware.CameraHQ))
	assert.True(t, sim.Status().HqPreview)

	img, err := c.Acquire(ctx, middleware.CameraAux, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactImage, img.Kind)
}

func TestClient_ResolveForUsesCommandEndpoint(t *testing.T) {
	c, sim := setupTest(t, nil)
	ctx := context.Background()

	plain := sim.AddFuture(simulator.Future{Body: []byte("plain")})
	art, err := c.ResolveFor(ctx, "/stage/relative", plain)
	require.NoError(t, err)
	assert.Equal(t, "plain", art.Text())

	seq := sim.AddFuture(simulator.Future{Pending: 1, Body: []byte("seq")})
	art, err = c.ResolveFor(ctx, middleware.SingleCardPath, seq)
	require.NoError(t, err)
	assert.Equal(t, "seq", art.Text())

	assert.Equal(t, 1, sim.Hits("/future/1"))
	assert.Equal(t, 0, sim.Hits("/future/2"))
	assert.Equal(t, 2, sim.Hits("/sfuture/2"))
}

func TestClient_StreamDebugAlign(t *testing.T) {
	c, sim := setupTest(t, nil)
	ctx := context.Background()

	form, err := c.Form(ctx, middleware.DebugAlignPath)
	require.NoError(t, err)
	reply, err := form.Submit(ctx, models.NewParams().Set("debug", true))
	require.NoError(t, err)
	require.True(t, reply.Pending())
	require.Len(t, reply.Futures, 1)

	var frames []models.Artifact
	n, err := c.Stream(ctx, reply.Futures[0], func(art models.Artifact) {
		frames = append(frames, art)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, frames, 3)
	for i, art := range frames {
		assert.Equal(t, i, art.Index)
		assert.Equal(t, models.ArtifactImage, art.Kind)
	}
	assert.Empty(t, requestsWithPrefix(sim, "GET /future/"))
	assert.Len(t, requestsWithPrefix(sim, "GET /sfuture/"), 4)
	assert.True(t, sim.Status().Calibrated)
}

func TestMountSelector_SelectsAndPersists(t *testing.T) {
	port := settings.NewMemoryPort()
	c, sim := setupTest(t, port, simulator.WithMounts(usbMounts...))
	ctx := context.Background()

	mounts, err := c.Mounts().Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, usbMounts, mounts)
	active, ok := c.Mounts().Active()
	require.True(t, ok)
	assert.Equal(t, "/media/usb0", active.Mountpoint)

	_, err = c.Mounts().Select(ctx, "/media/usb1")
	require.NoError(t, err)

	// Новый клиент с тем же хранилищем помнит выбор
	again, err := New(&Config{Host: c.Host(), LogLevel: "off"}, WithSettingsPort(port))
	require.NoError(t, err)
	_, err = again.Mounts().Refresh(ctx)
	require.NoError(t, err)
	active, _ = again.Mounts().Active()
	assert.Equal(t, "/media/usb1", active.Mountpoint)

	// Активный носитель отмонтирован: выбирается первый из оставшихся
	_, err = c.Mounts().Unmount(ctx, "/media/usb1")
	require.NoError(t, err)
	active, _ = c.Mounts().Active()
	assert.Equal(t, "/media/usb0", active.Mountpoint)

	sim.SetMounts()
	_, err = c.Mounts().Refresh(ctx)
	require.NoError(t, err)
	_, ok = c.Mounts().Active()
	assert.False(t, ok)
	_, ok = c.Settings().ActiveMount(ctx)
	assert.False(t, ok)

	_, err = c.Mounts().Select(ctx, "/media/usb9")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMountSelector_UsesSavedFilters(t *testing.T) {
	c, sim := setupTest(t, nil, simulator.WithMounts(append(usbMounts,
		models.Mount{Device: "/dev/sdc1", Mountpoint: "/mnt/data", FsType: "ext4"})...))
	ctx := context.Background()

	mounts, err := c.Mounts().SetFilters(ctx, "/mnt", "ext4")
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.Equal(t, "/mnt/data", mounts[0].Mountpoint)
	assert.Contains(t, sim.Requests(), "POST /linux/mounts?mount_point_filter=/mnt&fs_type_filter=ext4")
}

func TestCardCatalog_RenameRevertsOnFailure(t *testing.T) {
	c, sim := setupTest(t, nil, simulator.WithMounts(usbMounts...))
	ctx := context.Background()
	sim.SetCards("/media/usb0",
		models.SensorCard{CardID: "1001", NumImages: 3, AcquisitionTime: models.NewTimestamp(time.Now().UTC()), SubdirPath: "a1b2", ImageFormat: "tiff"})

	cards, err := c.RefreshCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "/media/usb0", c.Cards().Path())

	require.NoError(t, c.Cards().Rename(ctx, "a1b2", "SN-1"))
	assert.Equal(t, models.CardID("SN-1"), c.Cards().Cards()[0].CardID)

	sim.Fail("/system/rename", http.StatusInternalServerError, "read-only filesystem")
	err = c.Cards().Rename(ctx, "a1b2", "SN-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only filesystem")
	assert.Equal(t, models.CardID("SN-1"), c.Cards().Cards()[0].CardID)

	require.ErrorIs(t, c.Cards().Rename(ctx, "zzzz", "X"), apperrors.ErrNotFound)

	require.NoError(t, c.Cards().Delete(ctx, "a1b2"))
	assert.Empty(t, c.Cards().Cards())
	assert.Empty(t, sim.Cards("/media/usb0"))
}

func TestClient_RefreshCardsWithoutMounts(t *testing.T) {
	c, _ := setupTest(t, nil)

	_, err := c.RefreshCards(context.Background())
	require.Error(t, err)
}

func requestsWithPrefix(sim *simulator.Server, prefix string) []string {
	var out []string
	for _, line := range sim.Requests() {
		if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
			out = append(out, line)
		}
	}
	return out
}
