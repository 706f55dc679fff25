// Package lifecycle enforces the status transitions around the memory model:
// triage, activation, suspension, editing and review.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/dailyreview/internal/domain"
	"github.com/conorfennell/dailyreview/internal/fsrs"
)

// Machine applies card transitions. Like the scheduler it wraps, it is pure:
// every method returns new values and never touches storage.
type Machine struct {
	scheduler *fsrs.Scheduler
}

// New returns a Machine that schedules reviews with s.
func New(s *fsrs.Scheduler) *Machine {
	return &Machine{scheduler: s}
}

// Scheduler exposes the underlying scheduler.
func (m *Machine) Scheduler() *fsrs.Scheduler {
	return m.scheduler
}

// Create builds a triaging card from a draft.
func (m *Machine) Create(owner string, d domain.Draft, now time.Time) (domain.Card, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return domain.Card{}, fmt.Errorf("%w: owner is required", domain.ErrInvalidInput)
	}
	front := strings.TrimSpace(d.Front)
	if front == "" {
		return domain.Card{}, fmt.Errorf("%w: front is required", domain.ErrInvalidInput)
	}

	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = uuid.NewString()
	}

	return domain.Card{
		ID:                 id,
		Owner:              owner,
		Front:              front,
		Context:            domain.OptionalText(d.Context),
		SourceConversation: domain.OptionalText(d.SourceConversation),
		Tags:               domain.NormalizeTags(d.Tags),
		CreatedAt:          now,
		Status:             domain.StatusTriaging,
		Snapshot:           m.scheduler.Initialize(now),
	}, nil
}

// Accept moves a triaging card into the active review rotation. The
// scheduling snapshot is left as created.
func (m *Machine) Accept(c domain.Card) (domain.Card, error) {
	if c.Status != domain.StatusTriaging {
		return domain.Card{}, fmt.Errorf("%w: cannot accept a %s card", domain.ErrInvalidOperation, c.Status)
	}
	c.Status = domain.StatusActive
	return c, nil
}

// Skip suspends a triaging card. Only Edit can bring it back.
func (m *Machine) Skip(c domain.Card) (domain.Card, error) {
	if c.Status != domain.StatusTriaging {
		return domain.Card{}, fmt.Errorf("%w: cannot skip a %s card", domain.ErrInvalidOperation, c.Status)
	}
	c.Status = domain.StatusSuspended
	return c, nil
}

// Edit applies content and status changes. Scheduling fields cannot be
// reached through an edit.
func (m *Machine) Edit(c domain.Card, e domain.CardEdit) (domain.Card, error) {
	if e.Front != nil {
		front := strings.TrimSpace(*e.Front)
		if front == "" {
			return domain.Card{}, fmt.Errorf("%w: front cannot be empty", domain.ErrInvalidInput)
		}
		c.Front = front
	}
	if e.Context != nil {
		c.Context = domain.OptionalText(e.Context)
	}
	if e.SourceConversation != nil {
		c.SourceConversation = domain.OptionalText(e.SourceConversation)
	}
	if e.Tags != nil {
		c.Tags = domain.NormalizeTags(*e.Tags)
	}
	if e.Status != nil {
		if !e.Status.IsValid() {
			return domain.Card{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, *e.Status)
		}
		c.Status = *e.Status
	}
	return c, nil
}

// Review advances an active card and returns it together with the log entry
// describing the review. Status is never changed by a review.
func (m *Machine) Review(c domain.Card, r fsrs.Rating, now time.Time, meta domain.ReviewMeta) (domain.Card, domain.ReviewLog, error) {
	if !r.IsValid() {
		return domain.Card{}, domain.ReviewLog{}, fmt.Errorf("%w: rating %d", domain.ErrInvalidInput, int(r))
	}
	if meta.LLMScore != nil && (*meta.LLMScore < 0 || *meta.LLMScore > 1) {
		return domain.Card{}, domain.ReviewLog{}, fmt.Errorf("%w: llm score %f outside [0, 1]", domain.ErrInvalidInput, *meta.LLMScore)
	}
	if c.Status != domain.StatusActive {
		return domain.Card{}, domain.ReviewLog{}, fmt.Errorf("%w: cannot review a %s card", domain.ErrInvalidOperation, c.Status)
	}

	c.Snapshot = m.scheduler.Advance(c.Snapshot, r, now)
	log := domain.ReviewLog{
		ID:          uuid.NewString(),
		CardID:      c.ID,
		Rating:      r,
		Answer:      domain.OptionalText(meta.Answer),
		LLMScore:    meta.LLMScore,
		LLMFeedback: domain.OptionalText(meta.LLMFeedback),
		ReviewedAt:  now,
	}
	return c, log, nil
}

// Preview shows what each rating would do to an active card.
func (m *Machine) Preview(c domain.Card, now time.Time) (map[fsrs.Rating]fsrs.Snapshot, error) {
	if c.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: cannot preview a %s card", domain.ErrInvalidOperation, c.Status)
	}
	return m.scheduler.Preview(c.Snapshot, now), nil
}
