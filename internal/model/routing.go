package model

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which actor is responsible for replying.
type Mode string

const (
	ModeHuman  Mode = "human"
	ModeAI     Mode = "ai"
	ModeHybrid Mode = "hybrid"
)

// DefaultAITimeout bounds an AI call when the settings leave it unset.
const DefaultAITimeout = 30 * time.Second

// RoutingConfig is the deployment-wide routing configuration. Exactly one
// mode-specific block is meaningful: the one selected by Mode.
type RoutingConfig struct {
	Mode           Mode         `json:"mode" yaml:"mode"`
	WelcomeMessage string       `json:"welcome_message,omitempty" yaml:"welcome_message"`
	OfflineMessage string       `json:"offline_message,omitempty" yaml:"offline_message"`
	WorkingHours   WorkingHours `json:"working_hours" yaml:"working_hours"`

	Human  *HumanSettings  `json:"human,omitempty" yaml:"human"`
	AI     *AISettings     `json:"ai,omitempty" yaml:"ai"`
	Hybrid *HybridSettings `json:"hybrid,omitempty" yaml:"hybrid"`
}

// HumanSettings applies when Mode is human.
type HumanSettings struct {
	AutoReplyEnabled bool   `json:"auto_reply_enabled" yaml:"auto_reply_enabled"`
	AutoReplyText    string `json:"auto_reply_text,omitempty" yaml:"auto_reply_text"`
}

// AISettings is passed through to the AI collaborator untouched, except for
// Timeout which bounds the call.
type AISettings struct {
	Model        string  `json:"model,omitempty" yaml:"model"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt"`
	Knowledge    string  `json:"knowledge,omitempty" yaml:"knowledge"`
	Timeout      string  `json:"timeout,omitempty" yaml:"timeout"`
}

// TimeoutDuration returns the parsed call timeout, falling back to DefaultAITimeout.
func (a *AISettings) TimeoutDuration() time.Duration {
	if a == nil || a.Timeout == "" {
		return DefaultAITimeout
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil || d <= 0 {
		return DefaultAITimeout
	}
	return d
}

// HybridSettings applies when Mode is hybrid.
type HybridSettings struct {
	HandoffTriggers []string   `json:"handoff_triggers" yaml:"handoff_triggers"`
	AI              AISettings `json:"ai" yaml:"ai"`
}

// WorkingHours is the window during which automated replies are sent normally.
// A window whose End is before Start wraps past midnight.
type WorkingHours struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Start    string   `json:"start,omitempty" yaml:"start"`
	End      string   `json:"end,omitempty" yaml:"end"`
	Days     []string `json:"days,omitempty" yaml:"days"`
	Timezone string   `json:"timezone,omitempty" yaml:"timezone"`
}

// Window is the parsed form of WorkingHours.
type Window struct {
	Start    int // minutes after midnight
	End      int
	Days     map[time.Weekday]bool
	Location *time.Location
}

// Parse validates and converts the working hours into a Window.
func (w WorkingHours) Parse() (*Window, error) {
	start, err := parseClock(w.Start)
	if err != nil {
		return nil, fmt.Errorf("working_hours.start: %w", err)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return nil, fmt.Errorf("working_hours.end: %w", err)
	}

	days := make(map[time.Weekday]bool, 7)
	if len(w.Days) == 0 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			days[d] = true
		}
	}
	for _, name := range w.Days {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("working_hours.days: unknown weekday %q", name)
		}
		days[d] = true
	}

	loc := time.UTC
	if w.Timezone != "" {
		loc, err = time.LoadLocation(w.Timezone)
		if err != nil {
			return nil, fmt.Errorf("working_hours.timezone: %w", err)
		}
	}

	return &Window{Start: start, End: end, Days: days, Location: loc}, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate checks that the block for the selected mode is present and well formed.
func (c *RoutingConfig) Validate() error {
	switch c.Mode {
	case ModeHuman:
		if c.Human == nil {
			return ValidationError("mode human requires a human block")
		}
		if c.Human.AutoReplyEnabled && strings.TrimSpace(c.Human.AutoReplyText) == "" {
			return ValidationError("auto reply enabled without auto_reply_text")
		}
	case ModeAI:
		if c.AI == nil {
			return ValidationError("mode ai requires an ai block")
		}
	case ModeHybrid:
		if c.Hybrid == nil {
			return ValidationError("mode hybrid requires a hybrid block")
		}
	default:
		return ValidationError(fmt.Sprintf("unknown routing mode %q", c.Mode))
	}

	if c.WorkingHours.Enabled {
		if _, err := c.WorkingHours.Parse(); err != nil {
			return ValidationError(err.Error())
		}
	}
	return nil
}

// AIParams returns the AI parameters of the selected mode, or nil in human mode.
func (c *RoutingConfig) AIParams() *AISettings {
	switch c.Mode {
	case ModeAI:
		return c.AI
	case ModeHybrid:
		if c.Hybrid != nil {
			return &c.Hybrid.AI
		}
	}
	return nil
}

// HandoffTriggers returns the configured trigger phrases, empty outside hybrid mode.
func (c *RoutingConfig) HandoffTriggers() []string {
	if c.Mode == ModeHybrid && c.Hybrid != nil {
		return c.Hybrid.HandoffTriggers
	}
	return nil
}
