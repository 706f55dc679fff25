package fsrs

import (
	"math"
	"math/rand/v2"
	"time"
)

const day = 24 * time.Hour

// Scheduler advances card snapshots. It holds no mutable state and is safe
// for concurrent use.
type Scheduler struct {
	params Params
	algo   algo
}

// NewScheduler validates p and builds a Scheduler. A nil p uses DefaultParams.
func NewScheduler(p *Params) (*Scheduler, error) {
	if p == nil {
		p = DefaultParams()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{params: p.clone(), algo: newAlgo(p.Weights)}, nil
}

// Params returns a copy of the scheduler's configuration.
func (s *Scheduler) Params() Params {
	return s.params.clone()
}

// Initialize returns the snapshot of a card that has never been reviewed.
func (s *Scheduler) Initialize(now time.Time) Snapshot {
	return Snapshot{Due: now, State: New}
}

// Advance applies one review with rating r at instant now and returns the
// resulting snapshot. The input is never modified and identical inputs always
// produce identical outputs.
func (s *Scheduler) Advance(snap Snapshot, r Rating, now time.Time) Snapshot {
	r = r.clamp()
	c := snap.clone()
	c.Stability = finite(c.Stability)
	c.Difficulty = finite(c.Difficulty)
	c.LearningSteps = max(c.LearningSteps, 0)
	c.Reps = max(c.Reps, 0)
	c.Lapses = max(c.Lapses, 0)
	c.ElapsedDays = s.elapsedDays(snap, now)

	var interval time.Duration
	switch c.State {
	case Learning:
		s.updateMemory(&c, r)
		interval = s.stepLadder(&c, r, s.params.LearningSteps, now, snap.Reps)
	case Relearning:
		s.updateMemory(&c, r)
		interval = s.stepLadder(&c, r, s.params.RelearningSteps, now, snap.Reps)
	case Review:
		s.updateMemory(&c, r)
		interval = s.reviewTransition(&c, r, now, snap.Reps)
	default:
		c.Stability = s.algo.initStability(r)
		c.Difficulty = s.algo.initDifficulty(r, true)
		c.State = Learning
		c.LearningSteps = 0
		interval = s.stepLadder(&c, r, s.params.LearningSteps, now, snap.Reps)
	}

	reviewed := now
	c.LastReview = &reviewed
	c.Due = now.Add(interval)
	c.ScheduledDays = math.Floor(interval.Hours() / 24)
	c.Reps++
	return c
}

// Preview returns the outcome of each possible rating without committing to one.
func (s *Scheduler) Preview(snap Snapshot, now time.Time) map[Rating]Snapshot {
	out := make(map[Rating]Snapshot, len(Ratings))
	for _, r := range Ratings {
		out[r] = s.Advance(snap, r, now)
	}
	return out
}

// Retrievability is the modelled probability of recall at now. Cards that were
// never reviewed report 0.
func (s *Scheduler) Retrievability(snap Snapshot, now time.Time) float64 {
	if snap.State == New || snap.LastReview == nil || finite(snap.Stability) <= 0 {
		return 0
	}
	return s.algo.retrievability(s.elapsedDays(snap, now), snap.Stability)
}

// elapsedDays is the fractional number of days since the last review (or since
// the due instant for a card never reviewed), clamped to zero under clock skew.
func (s *Scheduler) elapsedDays(snap Snapshot, now time.Time) float64 {
	ref := snap.Due
	if snap.LastReview != nil {
		ref = *snap.LastReview
	}
	if ref.IsZero() {
		return 0
	}
	return math.Max(0, now.Sub(ref).Hours()/24)
}

// updateMemory moves stability and difficulty for a card whose memory is already
// initialised. Degenerate stored values are clamped before use.
func (s *Scheduler) updateMemory(c *Snapshot, r Rating) {
	stability := clampS(c.Stability)
	difficulty := clampD(c.Difficulty)

	if c.ElapsedDays < 1 && s.params.EnableShortTerm {
		c.Stability = s.algo.shortTermStability(stability, r)
	} else {
		retr := s.algo.retrievability(c.ElapsedDays, stability)
		c.Stability = s.algo.nextStability(difficulty, stability, retr, r)
	}
	c.Difficulty = s.algo.nextDifficulty(difficulty, r)
}

// stepLadder walks the short-interval ladder used by Learning and Relearning.
func (s *Scheduler) stepLadder(c *Snapshot, r Rating, steps []time.Duration, now time.Time, reps int) time.Duration {
	step := c.LearningSteps
	if len(steps) == 0 || (step >= len(steps) && r != Again) {
		return s.graduate(c, now, reps)
	}

	switch r {
	case Again:
		c.LearningSteps = 0
		return steps[0]
	case Hard:
		if step == 0 && len(steps) == 1 {
			return steps[0] * 3 / 2
		}
		if step == 0 {
			return (steps[0] + steps[1]) / 2
		}
		return steps[min(step, len(steps)-1)]
	case Good:
		next := step + 1
		if next >= len(steps) {
			return s.graduate(c, now, reps)
		}
		c.LearningSteps = next
		return steps[next]
	default:
		return s.graduate(c, now, reps)
	}
}

// reviewTransition handles a card already in long-interval review.
func (s *Scheduler) reviewTransition(c *Snapshot, r Rating, now time.Time, reps int) time.Duration {
	if r == Again {
		c.Lapses++
		if len(s.params.RelearningSteps) > 0 {
			c.State = Relearning
			c.LearningSteps = 0
			return s.params.RelearningSteps[0]
		}
	}
	return s.graduate(c, now, reps)
}

// graduate moves the card to Review and returns its retention-based interval.
func (s *Scheduler) graduate(c *Snapshot, now time.Time, reps int) time.Duration {
	c.State = Review
	c.LearningSteps = 0
	days := s.algo.nextInterval(c.Stability, s.params.DesiredRetention, s.params.MaximumInterval)
	if s.params.EnableFuzz {
		seed := uint64(now.UnixNano())
		rng := rand.New(rand.NewPCG(seed, uint64(reps)^math.Float64bits(c.Stability)))
		days = applyFuzz(days, s.params.MaximumInterval, rng)
	}
	return time.Duration(days) * day
}
