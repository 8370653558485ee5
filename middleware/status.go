package middleware

import (
	"context"
	"fmt"

	"github.com/iwtcode/rigAdapter/models"
)

// ReadStatus считывает текущий снимок состояния стенда.
func (a *MiddlewareAdapter) ReadStatus(ctx context.Context) (models.DeviceStatus, error) {
	var status models.DeviceStatus
	if err := a.getJSON(ctx, a.statusPath, "", &status); err != nil {
		return models.DeviceStatus{}, fmt.Errorf("failed to read status: %w", err)
	}
	return status, nil
}
