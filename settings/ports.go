package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryPort хранит настройки в памяти процесса.
type MemoryPort struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryPort() *MemoryPort {
	return &MemoryPort{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock подменяет источник времени.
func (p *MemoryPort) WithClock(now func() time.Time) *MemoryPort {
	p.now = now
	return p
}

func (p *MemoryPort) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !p.now().Before(e.expiresAt) {
		delete(p.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (p *MemoryPort) Set(_ context.Context, key, value string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = p.now().Add(ttl)
	}
	p.entries[key] = e
	return nil
}

func (p *MemoryPort) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
	return nil
}

type fileEntry struct {
	Value     string    `yaml:"value"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

type fileDocument struct {
	Entries map[string]fileEntry `yaml:"entries"`
}

// FilePort хранит настройки в YAML файле. Просроченные записи вычищаются при записи.
type FilePort struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFilePort(path string) *FilePort {
	return &FilePort{path: path, now: time.Now}
}

// WithClock подменяет источник времени.
func (p *FilePort) WithClock(now func() time.Time) *FilePort {
	p.now = now
	return p
}

func (p *FilePort) load() (fileDocument, error) {
	doc := fileDocument{Entries: make(map[string]fileEntry)}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse settings file %s: %w", p.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]fileEntry)
	}
	return doc, nil
}

func (p *FilePort) save(doc fileDocument) error {
	now := p.now()
	for key, e := range doc.Entries {
		if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
			delete(doc.Entries, key)
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if dir := filepath.Dir(p.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return os.Rename(tmp, p.path)
}

func (p *FilePort) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.load()
	if err != nil {
		return "", false, err
	}
	e, ok := doc.Entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.ExpiresAt.IsZero() && !p.now().Before(e.ExpiresAt) {
		return "", false, nil
	}
	return e.Value, true, nil
}

func (p *FilePort) Set(_ context.Context, key, value string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.load()
	if err != nil {
		return err
	}
	e := fileEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = p.now().Add(ttl).UTC()
	}
	doc.Entries[key] = e
	return p.save(doc)
}

func (p *FilePort) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Entries[key]; !ok {
		return nil
	}
	delete(doc.Entries, key)
	return p.save(doc)
}

// RedisPort хранит настройки в Redis. Срок жизни записей - штатный TTL Redis.
type RedisPort struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPort создает порт. prefix отделяет ключи панели от прочих данных.
func NewRedisPort(client redis.UniversalClient, prefix string) *RedisPort {
	return &RedisPort{client: client, prefix: prefix}
}

func (p *RedisPort) key(key string) string {
	return p.prefix + key
}

func (p *RedisPort) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := p.client.Get(ctx, p.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (p *RedisPort) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := p.client.Set(ctx, p.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (p *RedisPort) Delete(ctx context.Context, key string) error {
	if err := p.client.Del(ctx, p.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
