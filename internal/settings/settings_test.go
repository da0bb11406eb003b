package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/internal/store"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

const hybridYAML = `mode: hybrid
welcome_message: Halo! Ada yang bisa kami bantu?
offline_message: Kami sedang offline
working_hours:
  enabled: true
  start: "09:00"
  end: "17:00"
  days: [mon, tue, wed, thu, fri]
  timezone: UTC
hybrid:
  handoff_triggers: [refund, bicara dengan agen]
  ai:
    model: claude-3-5-sonnet
    temperature: 0.3
    timeout: 10s
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFileProvider_LoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	writeFile(t, path, hybridYAML)

	p, err := NewFileProvider(path, logger.NewNop())
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}

	cfg, err := p.RoutingConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != model.ModeHybrid {
		t.Errorf("expected hybrid, got %s", cfg.Mode)
	}
	if got := cfg.HandoffTriggers(); len(got) != 2 || got[1] != "bicara dengan agen" {
		t.Errorf("unexpected triggers: %v", got)
	}
	if cfg.AIParams().TimeoutDuration() != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.AIParams().TimeoutDuration())
	}

	// Mutating the returned value must not leak into the provider.
	cfg.Hybrid.HandoffTriggers[0] = "changed"
	again, _ := p.RoutingConfig(context.Background())
	if again.Hybrid.HandoffTriggers[0] != "refund" {
		t.Error("provider returned a shared configuration")
	}
}

func TestFileProvider_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	writeFile(t, path, hybridYAML)

	p, err := NewFileProvider(path, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "mode: ai\nai:\n  model: gpt-4o\n")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	cfg, err := p.RoutingConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != model.ModeAI || cfg.AI.Model != "gpt-4o" {
		t.Errorf("expected reloaded ai config, got %+v", cfg)
	}

	// A broken edit keeps the last good configuration.
	writeFile(t, path, "mode: hybrid\n")
	evenLater := later.Add(time.Minute)
	if err := os.Chtimes(path, evenLater, evenLater); err != nil {
		t.Fatal(err)
	}
	cfg, err = p.RoutingConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != model.ModeAI {
		t.Errorf("expected previous config to stay in effect, got %s", cfg.Mode)
	}
}

func TestFileProvider_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	writeFile(t, path, "mode: human\n")

	if _, err := NewFileProvider(path, logger.NewNop()); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for missing human block, got %v", err)
	}
}

func TestFileProvider_Update(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	writeFile(t, path, hybridYAML)

	p, err := NewFileProvider(path, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	next := &model.RoutingConfig{Mode: model.ModeHuman, Human: &model.HumanSettings{AutoReplyEnabled: true, AutoReplyText: "Mohon tunggu"}}
	if err := p.UpdateRoutingConfig(context.Background(), next); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileProvider(path, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	cfg, _ := reopened.RoutingConfig(context.Background())
	if cfg.Mode != model.ModeHuman || cfg.Human.AutoReplyText != "Mohon tunggu" {
		t.Errorf("expected persisted human config, got %+v", cfg)
	}
}

func TestStoreProvider(t *testing.T) {
	s, err := store.Open(context.Background(), store.DriverSQLite, ":memory:", logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	p := NewStoreProvider(s, nil)
	ctx := context.Background()

	cfg, err := p.RoutingConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != model.ModeHuman {
		t.Errorf("expected default human mode, got %s", cfg.Mode)
	}

	if err := p.UpdateRoutingConfig(ctx, &model.RoutingConfig{Mode: model.ModeAI}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for missing ai block, got %v", err)
	}

	next := &model.RoutingConfig{Mode: model.ModeAI, AI: &model.AISettings{Model: "claude-3-5-haiku", MaxTokens: 512}}
	if err := p.UpdateRoutingConfig(ctx, next); err != nil {
		t.Fatal(err)
	}
	cfg, err = p.RoutingConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != model.ModeAI || cfg.AI.MaxTokens != 512 {
		t.Errorf("unexpected stored config: %+v", cfg)
	}
}
