// Package notify delivers transcripts and alerts to people outside the
// console: a Telegram chat, a Slack-style webhook, or both.
package notify

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

const (
	summarySheet  = "Conversation"
	messagesSheet = "Messages"
	timeLayout    = "2006-01-02 15:04:05"
)

// TranscriptFileName returns the attachment name for a transcript.
func TranscriptFileName(t *model.Transcript) string {
	return fmt.Sprintf("transcript-%s.xlsx", t.Conversation.ID)
}

// BuildWorkbook renders the transcript as an xlsx workbook with a summary
// sheet and one row per message.
func BuildWorkbook(t *model.Transcript) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}

	c := t.Conversation
	summary := [][2]any{
		{"Conversation", c.ID},
		{"Channel", string(c.Channel)},
		{"Status", string(c.Status)},
		{"Customer", c.Customer.Name},
		{"Phone", c.Customer.Phone},
		{"Email", c.Customer.Email},
		{"Company", c.Customer.Company},
		{"Handler", string(c.Handler)},
		{"Assigned agent", deref(c.AssignedAgentID)},
		{"Created", formatTime(&c.CreatedAt)},
		{"Started", formatTime(c.StartedAt)},
		{"Ended", formatTime(c.EndedAt)},
		{"Messages", len(t.Messages)},
	}
	for i, row := range summary {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			if err := f.SetCellValue(summarySheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	if _, err := f.NewSheet(messagesSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	headers := []string{"#", "Time", "Sender", "Name", "Source", "Message"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(messagesSheet, cell, h); err != nil {
			return nil, err
		}
	}
	for i, m := range t.Messages {
		row := []any{m.Seq, m.CreatedAt.Format(timeLayout), string(m.SenderType), m.SenderName, string(m.Source), m.Body}
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			if err := f.SetCellValue(messagesSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	if err := f.SetColWidth(messagesSheet, "F", "F", 80); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
