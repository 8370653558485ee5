package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwtcode/rigAdapter/internal/simulator"
	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
)

var testMounts = []models.Mount{
	{Device: "/dev/sda1", Mountpoint: "/media/usb0", FsType: "vfat", Opts: "rw,relatime"},
	{Device: "/dev/mmcblk0p2", Mountpoint: "/", FsType: "ext4", Opts: "rw"},
	{Device: "/dev/sdb1", Mountpoint: "/media/usb1", FsType: "exfat", Opts: "rw"},
	{Device: "/dev/sdc1", Mountpoint: "/media/usb2", FsType: "vfat", Opts: "ro"},
}

func TestListMounts_FiltersAndOrder(t *testing.T) {
	sim, a := setupSimulator(t, simulator.WithMounts(testMounts...))

	mounts, err := a.ListMounts(context.Background(), "/media", "vfat")
	require.NoError(t, err)
	assert.Equal(t, []models.Mount{testMounts[0], testMounts[3]}, mounts)
	assert.Equal(t,
		[]string{"POST /linux/mounts?mount_point_filter=/media&fs_type_filter=vfat"},
		requestsWithPrefix(sim, "POST /linux/mounts"))
}

func TestListMounts_IsIdempotent(t *testing.T) {
	_, a := setupSimulator(t, simulator.WithMounts(testMounts...))

	first, err := a.ListMounts(context.Background(), "/media", "")
	require.NoError(t, err)
	second, err := a.ListMounts(context.Background(), "/media", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 3)
}

func TestUnmount(t *testing.T) {
	sim, a := setupSimulator(t, simulator.WithMounts(testMounts...))

	require.NoError(t, a.Unmount(context.Background(), "/media/usb0"))
	mounts, err := a.ListMounts(context.Background(), "/media", "vfat")
	require.NoError(t, err)
	assert.Equal(t, []models.Mount{testMounts[3]}, mounts)

	err = a.Unmount(context.Background(), "/media/usb0")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperrors.StatusCode(err))
	assert.Contains(t, err.Error(), "not mounted: /media/usb0")
	assert.Equal(t, 2, sim.Hits("/linux/unmount"))
}

func TestCards_ListRenameDelete(t *testing.T) {
	sim, a := setupSimulator(t)
	taken := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sim.SetCards("/media/usb0",
		models.SensorCard{CardID: "1001", NumImages: 3, AcquisitionTime: models.NewTimestamp(taken), SubdirPath: "a1b2", ImageFormat: "tiff"},
		models.SensorCard{CardID: "1002", NumImages: 3, AcquisitionTime: models.NewTimestamp(taken.Add(time.Minute)), SubdirPath: "c3d4", ImageFormat: "tiff"},
	)
	ctx := context.Background()

	cards, err := a.ListCards(ctx, "/media/usb0")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, models.CardID("1001"), cards[0].CardID)
	assert.True(t, taken.Equal(cards[0].AcquisitionTime.Time))

	require.NoError(t, a.RenameCard(ctx, "SN-77", "a1b2", "/media/usb0"))
	assert.Equal(t, models.CardID("SN-77"), sim.Cards("/media/usb0")[0].CardID)
	assert.Contains(t, sim.Requests(), "POST /system/rename?to_id=SN-77&subdir=a1b2&path=/media/usb0")

	require.NoError(t, a.DeleteCard(ctx, "c3d4", "/media/usb0"))
	cards, err = a.ListCards(ctx, "/media/usb0")
	require.NoError(t, err)
	assert.Len(t, cards, 1)

	err = a.RenameCard(ctx, "X", "missing", "/media/usb0")
	require.Error(t, err)
	assert.True(t, apperrors.IsStatus(err))
}

func TestListCards_NaiveTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"card_id":"1001","num_images":3,"acquisition_time":"2023-04-01T12:00:00.123456","subdir_path":"a1b2","image_format":"tiff"},
			{"card_id":1002,"num_images":2,"acquisition_time":"2023-04-01T12:05:00","subdir_path":"c3d4","image_format":"png"},
			{"card_id":"1003","num_images":1,"acquisition_time":"2023-04-01T12:10:00Z","subdir_path":"e5f6","image_format":"png"}
		]`))
	}))
	defer srv.Close()
	a := NewMiddlewareAdapter(srv.URL, WithHTTPClient(srv.Client()))

	cards, err := a.ListCards(context.Background(), "/media/usb0")
	require.NoError(t, err)
	require.Len(t, cards, 3)

	assert.True(t, time.Date(2023, 4, 1, 12, 0, 0, 123456000, time.Local).Equal(cards[0].AcquisitionTime.Time))
	assert.True(t, time.Date(2023, 4, 1, 12, 5, 0, 0, time.Local).Equal(cards[1].AcquisitionTime.Time))
	assert.True(t, time.Date(2023, 4, 1, 12, 10, 0, 0, time.UTC).Equal(cards[2].AcquisitionTime.Time))
	assert.Equal(t, models.CardID("1002"), cards[1].CardID)
}

func TestListCards_EmptyPath(t *testing.T) {
	_, a := setupSimulator(t)

	_, err := a.ListCards(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, "path is required", errorBody(err))
}

func TestAcquire(t *testing.T) {
	_, a := setupSimulator(t)

	art, err := a.Acquire(context.Background(), CameraHQ, 0.5)
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactImage, art.Kind)
	assert.Equal(t, "image/png", art.ContentType)
	assert.NotEmpty(t, art.Body)

	_, err = a.Acquire(context.Background(), "thermal", 0)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, apperrors.StatusCode(err))
}

func TestTogglePreview(t *testing.T) {
	sim, a := setupSimulator(t)
	ctx := context.Background()

	require.NoError(t, a.TogglePreview(ctx, CameraAux, sim.Status()))
	assert.True(t, sim.Status().AuxPreview)
	assert.False(t, sim.Status().HqPreview)

	require.NoError(t, a.TogglePreview(ctx, CameraAux, sim.Status()))
	assert.False(t, sim.Status().AuxPreview)
}

func TestStage_MoveAndRingLight(t *testing.T) {
	sim, a := setupSimulator(t)
	ctx := context.Background()

	msg, err := a.MoveRelative(ctx, 5, StepEighth)
	require.NoError(t, err)
	assert.Equal(t, "moved 5 EIGHTH, position 5", msg)
	assert.Equal(t, 5, sim.Status().Position)

	require.NoError(t, a.ToggleRingLight(ctx, sim.Status()))
	assert.Equal(t, RingLightOnPWM, sim.PWM())
	assert.True(t, sim.Status().Led)

	require.NoError(t, a.ToggleRingLight(ctx, sim.Status()))
	assert.Equal(t, 0.0, sim.PWM())
	assert.False(t, sim.Status().Led)

	sim.UpdateStatus(func(s *models.DeviceStatus) { s.Estop = true })
	_, err = a.MoveRelative(ctx, 1, StepFull)
	require.Error(t, err)
	assert.Equal(t, "emergency stop engaged", errorBody(err))
}

// errorBody возвращает тело ответа Middleware из цепочки ошибок.
func errorBody(err error) string {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return ""
	}
	return appErr.Message
}
