// Package fsrs implements the FSRS-6 memory model used to schedule card reviews.
//
// The package is pure: a Scheduler is immutable once built and every method maps
// an input snapshot to a new snapshot without side effects.
package fsrs

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidParams is returned when scheduler parameters are out of range.
var ErrInvalidParams = errors.New("fsrs: invalid parameters")

// Weights is the 21-value FSRS-6 weight vector.
type Weights [21]float64

// DefaultWeights are the published FSRS-6 defaults (py-fsrs / ts-fsrs v6).
var DefaultWeights = Weights{
	0.212, 1.2931, 2.3065, 8.2956, // w0-w3 initial stability per rating
	6.4133, 0.8334, 3.0194, 0.001, // w4-w7 difficulty
	1.8722, 0.1666, 0.796, 1.4835, // w8-w11 recall / forget stability
	0.0614, 0.2629, 1.6483, 0.6014, // w12-w15 forget stability, hard penalty
	1.8729, 0.5425, 0.0912, 0.0658, // w16-w19 easy bonus, short-term
	0.1542, // w20 decay
}

var weightLower = Weights{
	0.001, 0.001, 0.001, 0.001,
	1.0, 0.001, 0.001, 0.001,
	0.0, 0.0, 0.001, 0.001,
	0.001, 0.001, 0.0, 0.0,
	1.0, 0.0, 0.0, 0.0,
	0.1,
}

var weightUpper = Weights{
	100.0, 100.0, 100.0, 100.0,
	10.0, 4.0, 4.0, 0.75,
	4.5, 0.8, 3.5, 5.0,
	0.25, 0.9, 4.0, 1.0,
	6.0, 2.0, 2.0, 0.8,
	0.8,
}

// Validate checks every weight against its trainable bounds.
func (w Weights) Validate() error {
	for i := range w {
		if w[i] < weightLower[i] || w[i] > weightUpper[i] {
			return fmt.Errorf("%w: w[%d] = %f, bounds [%f, %f]",
				ErrInvalidParams, i, w[i], weightLower[i], weightUpper[i])
		}
	}
	return nil
}

// Params holds the configuration for a Scheduler.
type Params struct {
	Weights          Weights
	DesiredRetention float64         // target recall probability, (0, 1]
	LearningSteps    []time.Duration // ladder for New/Learning cards
	RelearningSteps  []time.Duration // ladder after a lapse
	MaximumInterval  int             // days
	EnableFuzz       bool
	EnableShortTerm  bool
}

// DefaultParams provides the defaults the original app ran with.
func DefaultParams() *Params {
	return &Params{
		Weights:          DefaultWeights,
		DesiredRetention: 0.9,
		LearningSteps:    []time.Duration{time.Minute, 10 * time.Minute},
		RelearningSteps:  []time.Duration{10 * time.Minute},
		MaximumInterval:  36500,
		EnableFuzz:       false,
		EnableShortTerm:  true,
	}
}

// Validate reports whether the parameters can build a Scheduler.
func (p *Params) Validate() error {
	if err := p.Weights.Validate(); err != nil {
		return err
	}
	if p.DesiredRetention <= 0 || p.DesiredRetention > 1 {
		return fmt.Errorf("%w: desired retention %f out of range (0, 1]", ErrInvalidParams, p.DesiredRetention)
	}
	if p.MaximumInterval < 1 {
		return fmt.Errorf("%w: maximum interval %d must be positive", ErrInvalidParams, p.MaximumInterval)
	}
	for _, steps := range [][]time.Duration{p.LearningSteps, p.RelearningSteps} {
		for _, d := range steps {
			if d <= 0 {
				return fmt.Errorf("%w: step %s must be positive", ErrInvalidParams, d)
			}
		}
	}
	return nil
}

// clone copies the params so callers cannot mutate a running Scheduler's ladders.
func (p *Params) clone() Params {
	out := *p
	out.LearningSteps = append([]time.Duration(nil), p.LearningSteps...)
	out.RelearningSteps = append([]time.Duration(nil), p.RelearningSteps...)
	return out
}
