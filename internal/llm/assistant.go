package llm

import (
	"context"
	"strings"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// EscalationMarker is the token a model emits to ask for a human.
const EscalationMarker = "[[handoff]]"

const escalationInstruction = "If the customer needs a human agent or you cannot help, include " + EscalationMarker + " in your reply."

// maxHistory bounds the messages sent to the model.
const maxHistory = 40

// Assistant turns a conversation into a completion request and interprets the reply.
type Assistant struct {
	client Client
}

// NewAssistant wraps an LLM client.
func NewAssistant(client Client) *Assistant {
	return &Assistant{client: client}
}

// Complete asks the model for the next reply of the conversation.
func (a *Assistant) Complete(ctx context.Context, req model.AIRequest) (model.AIReply, error) {
	resp, err := a.client.Complete(ctx, &CompletionRequest{
		Model:       orDefault(req.Params.Model, a.client.DefaultModel()),
		System:      systemPrompt(req),
		Messages:    chatHistory(req.History),
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
	})
	if err != nil {
		return model.AIReply{}, model.UpstreamError(a.client.Name(), err)
	}

	text, escalate := StripEscalation(resp.Content)
	return model.AIReply{
		Text:      text,
		Escalate:  escalate,
		Model:     resp.Model,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		LatencyMs: resp.LatencyMs,
	}, nil
}

func systemPrompt(req model.AIRequest) string {
	var b strings.Builder
	b.WriteString(req.Params.SystemPrompt)
	if req.Params.Knowledge != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Knowledge:\n")
		b.WriteString(req.Params.Knowledge)
	}
	if name := req.Conversation.Customer.Name; name != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("The customer's name is ")
		b.WriteString(name)
		b.WriteString(".")
	}
	if req.Mode == model.ModeHybrid {
		b.WriteString("\n\n")
		b.WriteString(escalationInstruction)
	}
	return strings.TrimSpace(b.String())
}

// chatHistory maps stored messages onto user/assistant turns. Consecutive
// turns of the same role are merged and the history starts with a user turn.
func chatHistory(history []model.Message) []ChatMessage {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	var out []ChatMessage
	for _, m := range history {
		role := RoleAssistant
		if m.SenderType == model.SenderCustomer {
			role = RoleUser
		}
		if len(out) == 0 && role != RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + m.Body
			continue
		}
		out = append(out, ChatMessage{Role: role, Content: m.Body})
	}
	return out
}

// StripEscalation removes every escalation marker and reports whether one was present.
func StripEscalation(text string) (string, bool) {
	if !strings.Contains(text, EscalationMarker) {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, EscalationMarker, "")), true
}
