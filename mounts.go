package rig

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
	"github.com/iwtcode/rigAdapter/settings"
)

// MountAPI - операции Middleware над съемными носителями.
type MountAPI interface {
	ListMounts(ctx context.Context, mountPointFilter, fsTypeFilter string) ([]models.Mount, error)
	Unmount(ctx context.Context, mountpoint string) error
}

// MountSelector держит список носителей и выбранный из них активный.
// Выбор сохраняется в настройках и переживает перезапуск панели.
type MountSelector struct {
	api    MountAPI
	store  *settings.Store
	logger logrus.FieldLogger

	mu     sync.Mutex
	mounts []models.Mount
	active *models.Mount
}

func NewMountSelector(api MountAPI, store *settings.Store, logger logrus.FieldLogger) *MountSelector {
	return &MountSelector{
		api:    api,
		store:  store,
		logger: logging.WithPrefix(logger, "MOUNTS"),
	}
}

// Refresh перечитывает список носителей с сохраненными фильтрами.
// Активный носитель сохраняется, если он все еще смонтирован, иначе выбирается первый.
func (m *MountSelector) Refresh(ctx context.Context) ([]models.Mount, error) {
	mpFilter := m.store.MountPointFilter(ctx)
	fsFilter := m.store.FsTypeFilter(ctx)

	mounts, err := m.api.ListMounts(ctx, mpFilter, fsFilter)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	previous := m.active
	m.mu.Unlock()
	if previous == nil {
		if saved, ok := m.store.ActiveMount(ctx); ok {
			previous = &saved
		}
	}

	var active *models.Mount
	if previous != nil {
		for i := range mounts {
			if mounts[i].Mountpoint == previous.Mountpoint {
				active = &mounts[i]
				break
			}
		}
	}
	if active == nil && len(mounts) > 0 {
		active = &mounts[0]
	}

	m.mu.Lock()
	m.mounts = mounts
	if active != nil {
		selected := *active
		m.active = &selected
	} else {
		m.active = nil
	}
	m.mu.Unlock()

	if err := m.persist(ctx, active); err != nil {
		m.logger.WithError(err).Warn("Failed to persist active mount")
	}

	m.logger.WithFields(logrus.Fields{
		"count":  len(mounts),
		"filter": mpFilter,
		"fstype": fsFilter,
	}).Debug("Mounts refreshed")
	return append([]models.Mount(nil), mounts...), nil
}

func (m *MountSelector) persist(ctx context.Context, active *models.Mount) error {
	if active == nil {
		return m.store.ClearActiveMount(ctx)
	}
	return m.store.SetActiveMount(ctx, *active)
}

// Mounts возвращает последний полученный список.
func (m *MountSelector) Mounts() []models.Mount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Mount(nil), m.mounts...)
}

// Active возвращает выбранный носитель.
func (m *MountSelector) Active() (models.Mount, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return models.Mount{}, false
	}
	return *m.active, true
}

// Select делает активным носитель из последнего списка.
func (m *MountSelector) Select(ctx context.Context, mountpoint string) (models.Mount, error) {
	m.mu.Lock()
	var found *models.Mount
	for i := range m.mounts {
		if m.mounts[i].Mountpoint == mountpoint {
			selected := m.mounts[i]
			found = &selected
			break
		}
	}
	if found != nil {
		m.active = found
	}
	m.mu.Unlock()

	if found == nil {
		return models.Mount{}, fmt.Errorf("mount %s: %w", mountpoint, apperrors.ErrNotFound)
	}
	if err := m.persist(ctx, found); err != nil {
		return *found, err
	}
	return *found, nil
}

// SetFilters сохраняет фильтры и перечитывает список.
func (m *MountSelector) SetFilters(ctx context.Context, mountPointFilter, fsTypeFilter string) ([]models.Mount, error) {
	if err := m.store.SetMountPointFilter(ctx, mountPointFilter); err != nil {
		return nil, err
	}
	if err := m.store.SetFsTypeFilter(ctx, fsTypeFilter); err != nil {
		return nil, err
	}
	return m.Refresh(ctx)
}

// Unmount отмонтирует носитель и обновляет список.
func (m *MountSelector) Unmount(ctx context.Context, mountpoint string) ([]models.Mount, error) {
	if err := m.api.Unmount(ctx, mountpoint); err != nil {
		return nil, err
	}
	m.logger.WithField("mountpoint", mountpoint).Info("Mount released")
	return m.Refresh(ctx)
}
