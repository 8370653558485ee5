package middleware

import (
	"context"
	"fmt"

	"github.com/iwtcode/rigAdapter/models"
)

// ListMounts возвращает смонтированные носители, отфильтрованные сервером.
// Порядок сохраняется таким, каким его вернул Middleware.
func (a *MiddlewareAdapter) ListMounts(ctx context.Context, mountPointFilter, fsTypeFilter string) ([]models.Mount, error) {
	query := models.NewParams().
		Set("mount_point_filter", mountPointFilter).
		Set("fs_type_filter", fsTypeFilter)

	var mounts []models.Mount
	if err := a.postJSON(ctx, "/linux/mounts", query.Encode(), &mounts); err != nil {
		return nil, fmt.Errorf("failed to list mounts: %w", err)
	}
	return mounts, nil
}

// Unmount отмонтирует носитель по точке монтирования.
func (a *MiddlewareAdapter) Unmount(ctx context.Context, mountpoint string) error {
	query := models.NewParams().Set("mountpoint", mountpoint)
	if _, err := a.postBytes(ctx, "/linux/unmount", query.Encode()); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", mountpoint, err)
	}
	return nil
}

// ListCards возвращает записи об отснятых картах в каталоге path.
func (a *MiddlewareAdapter) ListCards(ctx context.Context, path string) ([]models.SensorCard, error) {
	query := models.NewParams().Set("path", path)

	var cards []models.SensorCard
	if err := a.getJSON(ctx, "/system/cards", query.Encode(), &cards); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// RenameCard меняет идентификатор карты в подкаталоге subdir.
func (a *MiddlewareAdapter) RenameCard(ctx context.Context, toID, subdir, path string) error {
	query := models.NewParams().
		Set("to_id", toID).
		Set("subdir", subdir).
		Set("path", path)
	if _, err := a.postBytes(ctx, "/system/rename", query.Encode()); err != nil {
		return fmt.Errorf("failed to rename card to %s: %w", toID, err)
	}
	return nil
}

// DeleteCard удаляет запись карты вместе с изображениями.
func (a *MiddlewareAdapter) DeleteCard(ctx context.Context, subdir, path string) error {
	query := models.NewParams().
		Set("subdir", subdir).
		Set("path", path)
	if _, err := a.postBytes(ctx, "/system/delete", query.Encode()); err != nil {
		return fmt.Errorf("failed to delete card %s: %w", subdir, err)
	}
	return nil
}
