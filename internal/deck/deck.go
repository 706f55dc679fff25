// Package deck orchestrates card operations: it reads from storage, applies
// the lifecycle machine, and writes the result back.
package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conorfennell/dailyreview/internal/domain"
	"github.com/conorfennell/dailyreview/internal/fsrs"
	"github.com/conorfennell/dailyreview/internal/grader"
	"github.com/conorfennell/dailyreview/internal/lifecycle"
	"github.com/conorfennell/dailyreview/internal/storage"
)

// MaxBatch caps how many cards one create call may submit.
const MaxBatch = 500

// Service is safe for concurrent use.
type Service struct {
	store   storage.Store
	machine *lifecycle.Machine
	grader  grader.Grader
	policy  grader.Policy
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithGrader sets the answer grader. Without one, Evaluate reports
// grader.ErrUnavailable.
func WithGrader(g grader.Grader) Option {
	return func(s *Service) { s.grader = g }
}

// WithPolicy sets the thresholds used to suggest a rating from a score.
func WithPolicy(p grader.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now. Tests use it to pin review instants.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service.
func New(store storage.Store, machine *lifecycle.Machine, opts ...Option) *Service {
	s := &Service{
		store:   store,
		machine: machine,
		grader:  grader.Disabled{},
		policy:  grader.DefaultPolicy(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the service clock, in UTC at the millisecond precision storage keeps.
func (s *Service) Now() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Create files drafts into triage. The batch is all or nothing.
func (s *Service) Create(ctx context.Context, owner string, drafts []domain.Draft) ([]domain.Card, error) {
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: at least one card is required", domain.ErrInvalidInput)
	}
	if len(drafts) > MaxBatch {
		return nil, fmt.Errorf("%w: at most %d cards per request", domain.ErrInvalidInput, MaxBatch)
	}

	now := s.Now()
	cards := make([]domain.Card, 0, len(drafts))
	for i, d := range drafts {
		c, err := s.machine.Create(owner, d, now)
		if err != nil {
			return nil, fmt.Errorf("card %d: %w", i, err)
		}
		cards = append(cards, c)
	}

	created, err := s.store.CreateCards(ctx, cards)
	if err != nil {
		return nil, err
	}
	s.logger.Info("cards created", "owner", owner, "count", len(created))
	return created, nil
}

// ImportResult summarises an Import call.
type ImportResult struct {
	Created []domain.Card `json:"created"`
	Skipped int           `json:"skipped"`
}

// Import creates the drafts whose IDs are not stored yet. Drafts must carry
// deterministic IDs so that importing the same source twice is a no-op.
func (s *Service) Import(ctx context.Context, owner string, drafts []domain.Draft) (ImportResult, error) {
	res := ImportResult{Created: []domain.Card{}}
	var fresh []domain.Draft
	seen := make(map[string]struct{}, len(drafts))
	for _, d := range drafts {
		if d.ID == "" {
			return res, fmt.Errorf("%w: imported cards need an id", domain.ErrInvalidInput)
		}
		if _, dup := seen[d.ID]; dup {
			res.Skipped++
			continue
		}
		seen[d.ID] = struct{}{}

		_, err := s.store.GetCard(ctx, owner, d.ID)
		switch {
		case err == nil:
			res.Skipped++
		case errors.Is(err, domain.ErrNotFound):
			fresh = append(fresh, d)
		default:
			return res, err
		}
	}

	for start := 0; start < len(fresh); start += MaxBatch {
		end := min(start+MaxBatch, len(fresh))
		created, err := s.Create(ctx, owner, fresh[start:end])
		if err != nil {
			return res, err
		}
		res.Created = append(res.Created, created...)
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, owner, id string) (domain.Card, error) {
	return s.store.GetCard(ctx, owner, id)
}

func (s *Service) List(ctx context.Context, owner string, f domain.ListFilter) ([]domain.Card, error) {
	if f.Status != nil && !f.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, *f.Status)
	}
	return s.store.ListCards(ctx, owner, f)
}

// Due returns the cards due now plus the upcoming summary.
func (s *Service) Due(ctx context.Context, owner string) (domain.DueResult, error) {
	return s.store.DueCards(ctx, owner, s.Now())
}

func (s *Service) Counts(ctx context.Context, owner string) (domain.Counts, error) {
	return s.store.Counts(ctx, owner, s.Now())
}

// Edit changes content fields or status.
func (s *Service) Edit(ctx context.Context, owner, id string, e domain.CardEdit) (domain.Card, error) {
	c, err := s.store.GetCard(ctx, owner, id)
	if err != nil {
		return domain.Card{}, err
	}
	if _, err := s.machine.Edit(c, e); err != nil {
		return domain.Card{}, err
	}
	return s.store.EditCard(ctx, owner, id, e)
}

// Accept moves a triaging card into review rotation.
func (s *Service) Accept(ctx context.Context, owner, id string) (domain.Card, error) {
	return s.transition(ctx, owner, id, s.machine.Accept)
}

// Skip suspends a triaging card.
func (s *Service) Skip(ctx context.Context, owner, id string) (domain.Card, error) {
	return s.transition(ctx, owner, id, s.machine.Skip)
}

func (s *Service) transition(ctx context.Context, owner, id string, fn func(domain.Card) (domain.Card, error)) (domain.Card, error) {
	c, err := s.store.GetCard(ctx, owner, id)
	if err != nil {
		return domain.Card{}, err
	}
	next, err := fn(c)
	if err != nil {
		return domain.Card{}, err
	}
	// Conditional on the status read above so a concurrent transition wins
	// or loses cleanly.
	return s.store.SetStatus(ctx, owner, id, c.Status, next.Status)
}

// Delete removes a card and its history.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if err := s.store.DeleteCard(ctx, owner, id); err != nil {
		return err
	}
	s.logger.Info("card deleted", "owner", owner, "card_id", id)
	return nil
}

// ReviewInput carries a rating plus optional answer and grader output.
type ReviewInput struct {
	Rating      fsrs.Rating
	Answer      *string
	LLMScore    *float64
	LLMFeedback *string
}

// ReviewOutput is the updated card and the log entry written for it.
type ReviewOutput struct {
	Card domain.Card      `json:"card"`
	Log  domain.ReviewLog `json:"log"`
}

// Review rates a card. The write is conditional on the card not having been
// reviewed since it was read; a lost race returns domain.ErrConflict.
func (s *Service) Review(ctx context.Context, owner, id string, in ReviewInput) (ReviewOutput, error) {
	c, err := s.store.GetCard(ctx, owner, id)
	if err != nil {
		return ReviewOutput{}, err
	}

	now := s.Now()
	next, entry, err := s.machine.Review(c, in.Rating, now, domain.ReviewMeta{
		Answer:      in.Answer,
		LLMScore:    in.LLMScore,
		LLMFeedback: in.LLMFeedback,
	})
	if err != nil {
		return ReviewOutput{}, err
	}

	stored, err := s.store.RecordReview(ctx, owner, id, c.Reps, next.Snapshot, entry)
	if err != nil {
		return ReviewOutput{}, err
	}
	s.logger.Info("card reviewed",
		"owner", owner,
		"card_id", id,
		"rating", in.Rating,
		"state", stored.State,
		"due", stored.Due,
	)
	return ReviewOutput{Card: stored, Log: entry}, nil
}

// EvaluateOutput is the grader verdict plus the rating it suggests. The
// suggestion is never applied automatically.
type EvaluateOutput struct {
	grader.Result
	Suggested fsrs.Rating `json:"suggested_rating"`
}

// Evaluate grades answer against the card.
func (s *Service) Evaluate(ctx context.Context, owner, id, answer string) (EvaluateOutput, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return EvaluateOutput{}, fmt.Errorf("%w: answer is required", domain.ErrInvalidInput)
	}
	c, err := s.store.GetCard(ctx, owner, id)
	if err != nil {
		return EvaluateOutput{}, err
	}

	res, err := s.grader.Evaluate(ctx, c.Front, c.Context, answer)
	if err != nil {
		s.logger.Warn("grading failed", "card_id", id, "error", err)
		return EvaluateOutput{}, err
	}
	return EvaluateOutput{Result: res, Suggested: s.policy.Suggest(res.Score)}, nil
}

// PreviewOutput shows the current recall probability and the outcome of each
// rating.
type PreviewOutput struct {
	Retrievability float64                       `json:"retrievability"`
	Outcomes       map[fsrs.Rating]fsrs.Snapshot `json:"outcomes"`
}

func (s *Service) Preview(ctx context.Context, owner, id string) (PreviewOutput, error) {
	c, err := s.store.GetCard(ctx, owner, id)
	if err != nil {
		return PreviewOutput{}, err
	}
	now := s.Now()
	outcomes, err := s.machine.Preview(c, now)
	if err != nil {
		return PreviewOutput{}, err
	}
	return PreviewOutput{
		Retrievability: s.machine.Scheduler().Retrievability(c.Snapshot, now),
		Outcomes:       outcomes,
	}, nil
}

// History lists a card's reviews, oldest first.
func (s *Service) History(ctx context.Context, owner, id string) ([]domain.ReviewLog, error) {
	return s.store.ListReviewLogs(ctx, owner, id)
}

// Sources lists what the owner has imported from.
func (s *Service) Sources(ctx context.Context, owner string) ([]storage.Source, error) {
	return s.store.ListSources(ctx, owner)
}

// MarkSourceScanned records a completed import of path.
func (s *Service) MarkSourceScanned(ctx context.Context, owner, path string) error {
	return s.store.TouchSource(ctx, owner, path, s.Now())
}
