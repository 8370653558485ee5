package settings

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/models"
)

// DefaultTTL - срок хранения любой записи настроек.
const DefaultTTL = 7 * 24 * time.Hour

const (
	DefaultMountPointFilter = "/media"
	DefaultFsTypeFilter     = "vfat"
)

const (
	KeyHost             = "host"
	KeyMountPointFilter = "mountPointFilter"
	KeyFsTypeFilter     = "fsTypeFilter"
	KeyActiveMount      = "activeMount"
	formKeyPrefix       = "form:"
)

// Port - хранилище строковых значений со сроком жизни.
type Port interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Store дает типизированный доступ к настройкам панели.
// Ошибки чтения не прерывают работу: значение считается незаданным.
type Store struct {
	port   Port
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewStore(port Port, logger logrus.FieldLogger) *Store {
	return &Store{
		port:   port,
		ttl:    DefaultTTL,
		logger: logging.WithPrefix(logger, "SETTINGS"),
	}
}

func (s *Store) get(ctx context.Context, key string) (string, bool) {
	value, ok, err := s.port.Get(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to read setting")
		return "", false
	}
	return value, ok
}

func (s *Store) set(ctx context.Context, key, value string) error {
	if err := s.port.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to save setting")
		return err
	}
	return nil
}

// getJSON декодирует сохраненное значение. Испорченная запись удаляется.
func (s *Store) getJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := s.get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Discarding malformed setting")
		if delErr := s.port.Delete(ctx, key); delErr != nil {
			s.logger.WithError(delErr).WithField("key", key).Warn("Failed to delete malformed setting")
		}
		return false
	}
	return true
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.set(ctx, key, string(data))
}

// Host возвращает сохраненный адрес Middleware или пустую строку.
func (s *Store) Host(ctx context.Context) string {
	host, _ := s.get(ctx, KeyHost)
	return host
}

func (s *Store) SetHost(ctx context.Context, host string) error {
	return s.set(ctx, KeyHost, strings.TrimSpace(host))
}

func (s *Store) MountPointFilter(ctx context.Context) string {
	if v, ok := s.get(ctx, KeyMountPointFilter); ok {
		return v
	}
	return DefaultMountPointFilter
}

func (s *Store) SetMountPointFilter(ctx context.Context, filter string) error {
	return s.set(ctx, KeyMountPointFilter, filter)
}

func (s *Store) FsTypeFilter(ctx context.Context) string {
	if v, ok := s.get(ctx, KeyFsTypeFilter); ok {
		return v
	}
	return DefaultFsTypeFilter
}

func (s *Store) SetFsTypeFilter(ctx context.Context, filter string) error {
	return s.set(ctx, KeyFsTypeFilter, filter)
}

// ActiveMount возвращает выбранный носитель, если он сохранен.
func (s *Store) ActiveMount(ctx context.Context) (models.Mount, bool) {
	var m models.Mount
	if !s.getJSON(ctx, KeyActiveMount, &m) {
		return models.Mount{}, false
	}
	return m, true
}

func (s *Store) SetActiveMount(ctx context.Context, m models.Mount) error {
	return s.setJSON(ctx, KeyActiveMount, m)
}

func (s *Store) ClearActiveMount(ctx context.Context) error {
	return s.port.Delete(ctx, KeyActiveMount)
}

// FormParams возвращает последние отправленные параметры формы path.
func (s *Store) FormParams(ctx context.Context, path string) (*models.Params, bool) {
	params := models.NewParams()
	if !s.getJSON(ctx, formKeyPrefix+path, params) {
		return nil, false
	}
	return params, true
}

// SetFormParams сохраняет параметры формы с сохранением порядка ключей.
func (s *Store) SetFormParams(ctx context.Context, path string, params *models.Params) error {
	return s.setJSON(ctx, formKeyPrefix+path, params)
}
