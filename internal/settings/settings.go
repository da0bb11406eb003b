// Package settings supplies the routing configuration.
//
// The router reads the configuration on conversation creation and on every
// inbound message, so providers return a fresh copy each call and pick up
// changes without a restart.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// RoutingKey is the settings row holding the routing configuration.
const RoutingKey = "routing"

// Provider returns the current routing configuration.
type Provider interface {
	RoutingConfig(ctx context.Context) (*model.RoutingConfig, error)
}

// Updater is implemented by providers that accept configuration changes.
type Updater interface {
	UpdateRoutingConfig(ctx context.Context, cfg *model.RoutingConfig) error
}

// Default is used when no configuration was stored yet.
func Default() *model.RoutingConfig {
	return &model.RoutingConfig{
		Mode:           model.ModeHuman,
		WelcomeMessage: "Hi! Thanks for reaching out. How can we help?",
		OfflineMessage: "We are currently offline and will reply during working hours.",
		Human:          &model.HumanSettings{},
	}
}

// Static always returns the same configuration. Used in tests and single-binary demos.
type Static struct {
	mu  sync.RWMutex
	cfg model.RoutingConfig
}

// NewStatic wraps cfg.
func NewStatic(cfg *model.RoutingConfig) *Static {
	return &Static{cfg: *copyConfig(cfg)}
}

// RoutingConfig implements Provider.
func (s *Static) RoutingConfig(ctx context.Context) (*model.RoutingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyConfig(&s.cfg), nil
}

// UpdateRoutingConfig implements Updater.
func (s *Static) UpdateRoutingConfig(ctx context.Context, cfg *model.RoutingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = *copyConfig(cfg)
	s.mu.Unlock()
	return nil
}

// FileProvider reads a YAML file and reloads it when its modification time changes.
type FileProvider struct {
	path   string
	logger *logger.Logger

	mu      sync.Mutex
	modTime time.Time
	cfg     *model.RoutingConfig
}

// NewFileProvider loads path once to fail fast on a broken file.
func NewFileProvider(path string, log *logger.Logger) (*FileProvider, error) {
	p := &FileProvider{path: path, logger: log}
	if _, err := p.RoutingConfig(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// RoutingConfig implements Provider. A file that becomes invalid after startup
// keeps the last good configuration in effect.
func (p *FileProvider) RoutingConfig(ctx context.Context) (*model.RoutingConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		if p.cfg != nil {
			p.logger.Warn("routing config unreadable, keeping previous", zap.String("path", p.path), zap.Error(err))
			return copyConfig(p.cfg), nil
		}
		return nil, fmt.Errorf("failed to stat routing config: %w", err)
	}

	if p.cfg == nil || !info.ModTime().Equal(p.modTime) {
		cfg, err := p.load()
		if err != nil {
			if p.cfg != nil {
				p.logger.Warn("routing config invalid, keeping previous", zap.String("path", p.path), zap.Error(err))
				return copyConfig(p.cfg), nil
			}
			return nil, err
		}
		p.cfg = cfg
		p.modTime = info.ModTime()
		p.logger.Info("routing config loaded", zap.String("path", p.path), zap.String("mode", string(cfg.Mode)))
	}

	return copyConfig(p.cfg), nil
}

func (p *FileProvider) load() (*model.RoutingConfig, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing config: %w", err)
	}

	var cfg model.RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse routing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateRoutingConfig implements Updater by rewriting the YAML file.
func (p *FileProvider) UpdateRoutingConfig(ctx context.Context, cfg *model.RoutingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode routing config: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write routing config: %w", err)
	}
	p.cfg = copyConfig(cfg)
	if info, err := os.Stat(p.path); err == nil {
		p.modTime = info.ModTime()
	}
	return nil
}

// KV is the subset of the store used by StoreProvider.
type KV interface {
	GetSetting(ctx context.Context, name string) ([]byte, error)
	PutSetting(ctx context.Context, name string, value []byte) error
}

// StoreProvider keeps the configuration as JSON in the settings table.
type StoreProvider struct {
	kv       KV
	fallback *model.RoutingConfig
}

// NewStoreProvider creates a provider that returns fallback until a
// configuration is stored.
func NewStoreProvider(kv KV, fallback *model.RoutingConfig) *StoreProvider {
	if fallback == nil {
		fallback = Default()
	}
	return &StoreProvider{kv: kv, fallback: fallback}
}

// RoutingConfig implements Provider.
func (p *StoreProvider) RoutingConfig(ctx context.Context) (*model.RoutingConfig, error) {
	data, err := p.kv.GetSetting(ctx, RoutingKey)
	if errors.Is(err, model.ErrNotFound) {
		return copyConfig(p.fallback), nil
	}
	if err != nil {
		return nil, err
	}

	var cfg model.RoutingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode routing config: %w", err)
	}
	return &cfg, nil
}

// UpdateRoutingConfig implements Updater.
func (p *StoreProvider) UpdateRoutingConfig(ctx context.Context, cfg *model.RoutingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode routing config: %w", err)
	}
	return p.kv.PutSetting(ctx, RoutingKey, data)
}

// copyConfig returns a deep copy so callers cannot mutate the cached value.
func copyConfig(cfg *model.RoutingConfig) *model.RoutingConfig {
	out := *cfg
	if cfg.Human != nil {
		h := *cfg.Human
		out.Human = &h
	}
	if cfg.AI != nil {
		a := *cfg.AI
		out.AI = &a
	}
	if cfg.Hybrid != nil {
		h := *cfg.Hybrid
		h.HandoffTriggers = append([]string(nil), cfg.Hybrid.HandoffTriggers...)
		out.Hybrid = &h
	}
	out.WorkingHours.Days = append([]string(nil), cfg.WorkingHours.Days...)
	return &out
}
