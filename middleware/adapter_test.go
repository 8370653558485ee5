package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
)

func TestNormalizeHost(t *testing.T) {
	cases := map[string]string{
		"":                     "http://localhost:8000",
		"localhost:8000":       "http://localhost:8000",
		"10.0.0.5:8000/":       "http://10.0.0.5:8000",
		"https://rig.local":    "https://rig.local",
		"  http://rig:8000/  ": "http://rig:8000",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeHost(in), "host %q", in)
	}
}

func TestURL_QueryIsNotPercentEncoded(t *testing.T) {
	a := NewMiddlewareAdapter("rig:8000")

	assert.Equal(t,
		"http://rig:8000/linux/mounts?mount_point_filter=/media&fs_type_filter=vfat",
		a.URL("/linux/mounts", "mount_point_filter=/media&fs_type_filter=vfat"))
	assert.Equal(t, "http://rig:8000/system/status", a.URL("/system/status", ""))
	// Только байты, недопустимые в строке запроса HTTP
	assert.Equal(t, "http://rig:8000/x?path=/media/my%20card", a.URL("/x", "path=/media/my card"))
}

func TestReadStatus(t *testing.T) {
	sim, a := setupSimulator(t)
	sim.SetStatus(models.DeviceStatus{Led: true, Calibrated: true, Position: 1200})

	status, err := a.ReadStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatus{Led: true, Calibrated: true, Position: 1200}, status)
	assert.Equal(t, 1, sim.Hits(DefaultStatusPath))
}

func TestReadStatus_LegacyPath(t *testing.T) {
	sim, a := setupSimulator(t)
	legacy := NewMiddlewareAdapter(a.Host(), WithStatusPath(LegacyStatusPath))

	_, err := legacy.ReadStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sim.Hits(LegacyStatusPath))
	assert.Equal(t, 0, sim.Hits(DefaultStatusPath))
}

func TestReadStatus_ErrorBodyIsVerbatim(t *testing.T) {
	sim, a := setupSimulator(t)
	sim.Fail(DefaultStatusPath, http.StatusServiceUnavailable, "stage controller offline")

	_, err := a.ReadStatus(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsStatus(err))
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.StatusCode(err))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "stage controller offline", appErr.Error())
}

func TestReadStatus_TransportError(t *testing.T) {
	a := NewMiddlewareAdapter("127.0.0.1:1")

	_, err := a.ReadStatus(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
}

func TestReadStatus_CancelledContext(t *testing.T) {
	_, a := setupSimulator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.ReadStatus(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, apperrors.IsTransport(err))
}
