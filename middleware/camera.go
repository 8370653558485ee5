package middleware

import (
	"context"
	"fmt"

	"github.com/iwtcode/rigAdapter/models"
)

const (
	CameraHQ  = "hq"
	CameraAux = "aux"
)

// Acquire делает один снимок камерой. scale <= 0 оставляет масштаб сервера.
func (a *MiddlewareAdapter) Acquire(ctx context.Context, camera string, scale float64) (models.Artifact, error) {
	query := models.NewParams()
	if scale > 0 {
		query.Set("scale", scale)
	}
	body, contentType, err := a.getBytes(ctx, "/cam/acquire/"+camera, query.Encode())
	if err != nil {
		return models.Artifact{}, fmt.Errorf("failed to acquire %s image: %w", camera, err)
	}
	return models.Artifact{
		Kind:        models.ArtifactImage,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// StartPreview открывает окно живого просмотра на дисплее стенда.
func (a *MiddlewareAdapter) StartPreview(ctx context.Context, camera string) error {
	if _, _, err := a.getBytes(ctx, "/cam/preview/start/"+camera, ""); err != nil {
		return fmt.Errorf("failed to start %s camera: %w", camera, err)
	}
	return nil
}

func (a *MiddlewareAdapter) StopPreview(ctx context.Context, camera string) error {
	if _, _, err := a.getBytes(ctx, "/cam/preview/stop/"+camera, ""); err != nil {
		return fmt.Errorf("failed to stop %s camera: %w", camera, err)
	}
	return nil
}

// TogglePreview переключает просмотр камеры по флагу из статуса.
func (a *MiddlewareAdapter) TogglePreview(ctx context.Context, camera string, status models.DeviceStatus) error {
	running := status.HqPreview
	if camera == CameraAux {
		running = status.AuxPreview
	}
	if running {
		return a.StopPreview(ctx, camera)
	}
	return a.StartPreview(ctx, camera)
}
