package middleware

import (
	"context"
	"fmt"

	"github.com/iwtcode/rigAdapter/models"
)

// Размеры шага драйвера.
const (
	StepFull    = "FULL"
	StepHalf    = "HALF"
	StepQuarter = "QUARTER"
	StepEighth  = "EIGHTH"
)

// RingLightOnPWM - скважность, с которой панель включает кольцевую подсветку.
const RingLightOnPWM = 0.2

// MoveRelative сдвигает стол на n шагов размера size. Ответ сервера возвращается как текст.
func (a *MiddlewareAdapter) MoveRelative(ctx context.Context, n int, size string) (string, error) {
	query := models.NewParams().Set("n", n).Set("size", size)
	body, err := a.postBytes(ctx, "/stage/relative", query.Encode())
	if err != nil {
		return "", fmt.Errorf("failed to move stage by %d: %w", n, err)
	}
	return string(body), nil
}

// SetRingLight задает скважность ШИМ кольцевой подсветки.
func (a *MiddlewareAdapter) SetRingLight(ctx context.Context, pwm float64) error {
	query := models.NewParams().Set("pwm", pwm)
	if _, err := a.postBytes(ctx, "/stage/led_pwm", query.Encode()); err != nil {
		return fmt.Errorf("failed to set ring light: %w", err)
	}
	return nil
}

// ToggleRingLight выключает подсветку, если она горит, иначе включает.
func (a *MiddlewareAdapter) ToggleRingLight(ctx context.Context, status models.DeviceStatus) error {
	if status.Led {
		return a.SetRingLight(ctx, 0)
	}
	return a.SetRingLight(ctx, RingLightOnPWM)
}
