// Package policy decides who answers an inbound customer message.
//
// Decide is a pure function of (configuration, text, time): the router calls it
// once per inbound message and acts on the returned Decision. No I/O happens here.
package policy

import (
	"strings"
	"time"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// Kind is the routing outcome for one inbound message.
type Kind string

const (
	// KindNone means no automated reply; the message waits for a human.
	KindNone Kind = "none"
	// KindAutoReply sends the configured human-mode auto-reply.
	KindAutoReply Kind = "auto_reply"
	// KindAIForward asks the AI collaborator for a reply.
	KindAIForward Kind = "ai_forward"
	// KindHandoff suppresses the AI and flags the conversation for a human.
	KindHandoff Kind = "handoff"
	// KindOffline replaces any automated reply with the offline message.
	KindOffline Kind = "offline"
)

// Decision is the result of evaluating the routing policy.
type Decision struct {
	Mode         model.Mode `json:"mode"`
	Kind         Kind       `json:"kind"`
	Reply        string     `json:"reply,omitempty"`
	NeedsHuman   bool       `json:"needs_human"`
	Trigger      string     `json:"trigger,omitempty"`
	OutsideHours bool       `json:"outside_hours"`
}

// CallsAI reports whether the router must call the AI collaborator.
func (d Decision) CallsAI() bool {
	return d.Kind == KindAIForward
}

// Decide evaluates the routing policy for one inbound customer message.
func Decide(cfg *model.RoutingConfig, text string, now time.Time) Decision {
	d := Decision{Mode: cfg.Mode, Kind: KindNone}

	switch cfg.Mode {
	case model.ModeHuman:
		if cfg.Human != nil && cfg.Human.AutoReplyEnabled {
			d.Kind = KindAutoReply
			d.Reply = cfg.Human.AutoReplyText
		}
	case model.ModeAI:
		d.Kind = KindAIForward
	case model.ModeHybrid:
		if trigger, ok := MatchTrigger(cfg.HandoffTriggers(), text); ok {
			d.Kind = KindHandoff
			d.NeedsHuman = true
			d.Trigger = trigger
		} else {
			d.Kind = KindAIForward
		}
	}

	if cfg.WorkingHours.Enabled {
		window, err := cfg.WorkingHours.Parse()
		// An unparseable window never blocks replies; Validate rejects it on save.
		if err == nil && !WithinHours(window, now) {
			d.OutsideHours = true
			d.Kind = KindOffline
			d.Reply = cfg.OfflineMessage
		}
	}

	return d
}

// MatchTrigger returns the first trigger phrase contained in text, compared
// case-insensitively. Blank triggers never match.
func MatchTrigger(triggers []string, text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, trigger := range triggers {
		phrase := strings.ToLower(strings.TrimSpace(trigger))
		if phrase == "" {
			continue
		}
		if strings.Contains(lowered, phrase) {
			return trigger, true
		}
	}
	return "", false
}

// WithinHours reports whether now falls inside the working window.
// Equal start and end means the whole day. For windows that wrap past
// midnight, the early-morning part belongs to the previous day's shift.
func WithinHours(w *model.Window, now time.Time) bool {
	local := now.In(w.Location)
	minute := local.Hour()*60 + local.Minute()
	day := local.Weekday()

	switch {
	case w.Start == w.End:
		return w.Days[day]
	case w.Start < w.End:
		return w.Days[day] && minute >= w.Start && minute < w.End
	case minute >= w.Start:
		return w.Days[day]
	case minute < w.End:
		return w.Days[(day+6)%7]
	}
	return false
}
