package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Provider returns the settings in force right now. Callers read it once per
// operation and never cache the result across calls.
type Provider interface {
	Current(ctx context.Context) (Settings, error)
}

// Static always returns the same settings
type Static struct {
	Settings Settings
}

// Current implements Provider
func (s Static) Current(context.Context) (Settings, error) { return s.Settings, nil }

// ParseSettings decodes a YAML document over the defaults and validates it
func ParseSettings(data []byte) (Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: failed to parse settings: %v", ErrInvalidSettings, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettingsFile reads and validates a settings file
func LoadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	return ParseSettings(data)
}

// lastValid remembers the most recent settings that passed validation so a
// bad edit never replaces a working configuration
type lastValid struct {
	mu sync.Mutex
	s  Settings
}

func newLastValid() *lastValid { return &lastValid{s: Default()} }

func (l *lastValid) accept(s Settings) Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s = s
	return s
}

func (l *lastValid) get() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s
}

// FileProvider re-reads a YAML settings file on every call
type FileProvider struct {
	path string
	last *lastValid
}

// NewFileProvider returns a provider backed by path
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, last: newLastValid()}
}

// Current implements Provider
func (p *FileProvider) Current(context.Context) (Settings, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p.last.get(), nil
		}
		log.Warn().Err(err).Str("path", p.path).Msg("Settings file unreadable, keeping previous settings")
		return p.last.get(), nil
	}
	s, err := ParseSettings(data)
	if err != nil {
		log.Warn().Err(err).Str("path", p.path).Msg("Settings rejected, keeping previous settings")
		return p.last.get(), nil
	}
	return p.last.accept(s), nil
}

// DefaultSettingsKey is the Redis key holding the settings document
const DefaultSettingsKey = "pairsrun:settings"

// RedisProvider reads the settings document from a Redis key on every call
type RedisProvider struct {
	client  *redis.Client
	key     string
	timeout time.Duration
	last    *lastValid
}

// NewRedisProvider returns a provider backed by key on client
func NewRedisProvider(client *redis.Client, key string) *RedisProvider {
	if key == "" {
		key = DefaultSettingsKey
	}
	return &RedisProvider{client: client, key: key, timeout: 2 * time.Second, last: newLastValid()}
}

// Current implements Provider. A missing key, an unreachable Redis or a
// rejected document all keep the previous valid settings.
func (p *RedisProvider) Current(ctx context.Context) (Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	data, err := p.client.Get(ctx, p.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return p.last.get(), nil
		}
		log.Warn().Err(err).Str("key", p.key).Msg("Settings store unreachable, keeping previous settings")
		return p.last.get(), nil
	}

	s, err := ParseSettings(data)
	if err != nil {
		log.Warn().Err(err).Str("key", p.key).Msg("Settings rejected, keeping previous settings")
		return p.last.get(), nil
	}
	return p.last.accept(s), nil
}

// Store validates s and writes it to Redis; invalid settings are never written
func (p *RedisProvider) Store(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}
	return nil
}
