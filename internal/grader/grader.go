// Package grader scores free-form answers against a card. Scores are advisory:
// they are shown to the learner and logged with the review, and can suggest a
// rating, but the scheduler never reads them.
package grader

import (
	"context"
	"errors"

	"github.com/conorfennell/dailyreview/internal/config"
	"github.com/conorfennell/dailyreview/internal/fsrs"
)

// ErrUnavailable wraps every grading failure: disabled grader, network error,
// exhausted retries or an unusable response.
var ErrUnavailable = errors.New("grader unavailable")

// Result is a grader's verdict. Score is always within [0, 1].
type Result struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Grader evaluates an answer to a card. context may be nil.
type Grader interface {
	Evaluate(ctx context.Context, front string, cardContext *string, answer string) (Result, error)
}

// Disabled is the Grader used when grading is switched off.
type Disabled struct{}

func (Disabled) Evaluate(context.Context, string, *string, string) (Result, error) {
	return Result{}, errors.Join(ErrUnavailable, errors.New("grading is disabled"))
}

// New returns the configured grader, or Disabled.
func New(cfg config.GraderConfig) (Grader, error) {
	if !cfg.Enabled {
		return Disabled{}, nil
	}
	return NewAnthropic(cfg)
}

// Policy maps a score onto a suggested rating.
type Policy struct {
	AgainBelow float64
	HardBelow  float64
	GoodBelow  float64
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return PolicyFrom(config.DefaultConfig().Policy)
}

// PolicyFrom builds a Policy from its config section.
func PolicyFrom(c config.PolicyConfig) Policy {
	return Policy{AgainBelow: c.AgainBelow, HardBelow: c.HardBelow, GoodBelow: c.GoodBelow}
}

// Suggest returns the rating a score most plausibly corresponds to.
func (p Policy) Suggest(score float64) fsrs.Rating {
	switch {
	case score < p.AgainBelow:
		return fsrs.Again
	case score < p.HardBelow:
		return fsrs.Hard
	case score < p.GoodBelow:
		return fsrs.Good
	default:
		return fsrs.Easy
	}
}
