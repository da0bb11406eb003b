package model

import (
	"errors"
	"testing"
	"time"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusUnassigned, StatusActive, true},
		{StatusUnassigned, StatusClosed, true},
		{StatusUnassigned, StatusPending, false},
		{StatusActive, StatusPending, true},
		{StatusPending, StatusActive, true},
		{StatusActive, StatusClosed, true},
		{StatusPending, StatusClosed, true},
		{StatusActive, StatusUnassigned, false},
		{StatusClosed, StatusActive, false},
		{StatusClosed, StatusClosed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestCustomerValidate(t *testing.T) {
	if err := (Customer{Name: "  "}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for blank name, got %v", err)
	}
	if err := (Customer{Name: "Budi"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRoutingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RoutingConfig
		wantErr bool
	}{
		{"human ok", RoutingConfig{Mode: ModeHuman, Human: &HumanSettings{}}, false},
		{"human missing block", RoutingConfig{Mode: ModeHuman}, true},
		{"auto reply without text", RoutingConfig{Mode: ModeHuman, Human: &HumanSettings{AutoReplyEnabled: true}}, true},
		{"ai ok", RoutingConfig{Mode: ModeAI, AI: &AISettings{}}, false},
		{"ai missing block", RoutingConfig{Mode: ModeAI, Human: &HumanSettings{}}, true},
		{"hybrid ok", RoutingConfig{Mode: ModeHybrid, Hybrid: &HybridSettings{HandoffTriggers: []string{"refund"}}}, false},
		{"hybrid missing block", RoutingConfig{Mode: ModeHybrid, AI: &AISettings{}}, true},
		{"unknown mode", RoutingConfig{Mode: "robot"}, true},
		{"bad hours", RoutingConfig{
			Mode:         ModeHuman,
			Human:        &HumanSettings{},
			WorkingHours: WorkingHours{Enabled: true, Start: "9am", End: "17:00"},
		}, true},
		{"bad weekday", RoutingConfig{
			Mode:         ModeHuman,
			Human:        &HumanSettings{},
			WorkingHours: WorkingHours{Enabled: true, Start: "09:00", End: "17:00", Days: []string{"funday"}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAIParamsFollowsMode(t *testing.T) {
	cfg := RoutingConfig{
		Mode:   ModeHybrid,
		AI:     &AISettings{Model: "stale"},
		Hybrid: &HybridSettings{AI: AISettings{Model: "hybrid-model"}},
	}
	if got := cfg.AIParams().Model; got != "hybrid-model" {
		t.Errorf("expected hybrid block params, got %q", got)
	}

	cfg.Mode = ModeHuman
	if cfg.AIParams() != nil {
		t.Error("expected nil AI params in human mode")
	}
}

func TestTimeoutDuration(t *testing.T) {
	var nilSettings *AISettings
	if got := nilSettings.TimeoutDuration(); got != DefaultAITimeout {
		t.Errorf("expected default for nil settings, got %v", got)
	}
	if got := (&AISettings{Timeout: "5s"}).TimeoutDuration(); got != 5*time.Second {
		t.Errorf("expected 5s, got %v", got)
	}
	if got := (&AISettings{Timeout: "bogus"}).TimeoutDuration(); got != DefaultAITimeout {
		t.Errorf("expected default for invalid value, got %v", got)
	}
}

func TestWorkingHoursParseDefaultsToEveryDay(t *testing.T) {
	w, err := WorkingHours{Start: "08:30", End: "17:00"}.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if w.Start != 8*60+30 || w.End != 17*60 {
		t.Errorf("unexpected window %d-%d", w.Start, w.End)
	}
	if len(w.Days) != 7 {
		t.Errorf("expected all 7 days, got %d", len(w.Days))
	}
	if w.Location != time.UTC {
		t.Errorf("expected UTC location, got %v", w.Location)
	}
}
