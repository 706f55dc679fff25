// Package domain holds the card and review-log types shared by every layer.
package domain

import (
	"strings"
	"time"

	"github.com/conorfennell/dailyreview/internal/fsrs"
)

// Status is the user-facing lifecycle status of a card, independent of its
// memory State.
type Status string

const (
	StatusTriaging  Status = "triaging"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusTriaging, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// Card is a single prompt plus its scheduling snapshot.
type Card struct {
	ID                 string    `json:"id"`
	Owner              string    `json:"owner"`
	Front              string    `json:"front"`
	Context            *string   `json:"context"`
	SourceConversation *string   `json:"source_conversation"`
	Tags               []string  `json:"tags"`
	CreatedAt          time.Time `json:"created_at"`
	Status             Status    `json:"status"`
	fsrs.Snapshot
}

// ReviewLog records a single review event for a card. Entries are never
// updated; they go away only when their card is deleted.
type ReviewLog struct {
	ID          string      `json:"id"`
	CardID      string      `json:"card_id"`
	Rating      fsrs.Rating `json:"rating"`
	Answer      *string     `json:"answer"`
	LLMScore    *float64    `json:"llm_score"`
	LLMFeedback *string     `json:"llm_feedback"`
	ReviewedAt  time.Time   `json:"reviewed_at"`
}

// Draft is the content needed to create a card. An empty ID asks for a
// random one.
type Draft struct {
	ID                 string   `json:"id,omitempty"`
	Front              string   `json:"front"`
	Context            *string  `json:"context,omitempty"`
	SourceConversation *string  `json:"source_conversation,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// CardEdit is a partial update. Nil fields are left alone; an empty Context or
// SourceConversation clears the field.
type CardEdit struct {
	Front              *string   `json:"front,omitempty"`
	Context            *string   `json:"context,omitempty"`
	SourceConversation *string   `json:"source_conversation,omitempty"`
	Tags               *[]string `json:"tags,omitempty"`
	Status             *Status   `json:"status,omitempty"`
}

// IsEmpty reports whether the edit changes nothing.
func (e CardEdit) IsEmpty() bool {
	return e.Front == nil && e.Context == nil && e.SourceConversation == nil && e.Tags == nil && e.Status == nil
}

// ReviewMeta is the optional free-text answer and grader output attached to a review.
type ReviewMeta struct {
	Answer      *string
	LLMScore    *float64
	LLMFeedback *string
}

// ListFilter narrows ListCards. A nil Status lists everything.
type ListFilter struct {
	Status *Status
}

// DueResult is the due queue plus a summary of what comes next.
type DueResult struct {
	Cards         []Card     `json:"cards"`
	UpcomingCount int        `json:"upcoming_count"`
	NextDue       *time.Time `json:"next_due"`
}

// Counts are the badge numbers shown in the UI.
type Counts struct {
	New int `json:"new"`
	Due int `json:"due"`
}

// NormalizeTags trims each tag, drops empties and duplicates, and keeps the
// first-seen order. It never returns nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// OptionalText trims s and returns nil when nothing is left.
func OptionalText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
