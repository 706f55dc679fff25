package fsrs

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, mutate func(*Params)) *Scheduler {
	t.Helper()
	p := DefaultParams()
	if mutate != nil {
		mutate(p)
	}
	s, err := NewScheduler(p)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return s
}

func reviewCard(stability, difficulty float64, lastReview time.Time) Snapshot {
	lr := lastReview
	return Snapshot{
		Due:           lastReview.Add(time.Duration(math.Round(stability)) * day),
		Stability:     stability,
		Difficulty:    difficulty,
		ScheduledDays: math.Round(stability),
		Reps:          4,
		State:         Review,
		LastReview:    &lr,
	}
}

func TestInitialize(t *testing.T) {
	s := newTestScheduler(t, nil)
	snap := s.Initialize(t0)

	if snap.State != New {
		t.Errorf("Expected state New, got %s", snap.State)
	}
	if !snap.Due.Equal(t0) {
		t.Errorf("Expected due %v, got %v", t0, snap.Due)
	}
	if snap.Stability != 0 || snap.Difficulty != 0 || snap.Reps != 0 || snap.Lapses != 0 || snap.LearningSteps != 0 {
		t.Errorf("Expected zeroed counters and memory, got %+v", snap)
	}
	if snap.LastReview != nil {
		t.Errorf("Expected no last review, got %v", *snap.LastReview)
	}
}

func TestAdvanceFromNew(t *testing.T) {
	s := newTestScheduler(t, nil)
	now := t0.Add(time.Hour)

	tests := []struct {
		rating   Rating
		state    State
		steps    int
		interval time.Duration
	}{
		{Again, Learning, 0, time.Minute},
		{Hard, Learning, 0, 5*time.Minute + 30*time.Second},
		{Good, Learning, 1, 10 * time.Minute},
		{Easy, Review, 0, 8 * day},
	}

	for _, tt := range tests {
		t.Run(tt.rating.String(), func(t *testing.T) {
			got := s.Advance(s.Initialize(t0), tt.rating, now)

			if got.State != tt.state {
				t.Errorf("Expected state %s, got %s", tt.state, got.State)
			}
			if got.LearningSteps != tt.steps {
				t.Errorf("Expected learning step %d, got %d", tt.steps, got.LearningSteps)
			}
			if d := got.Due.Sub(now); d != tt.interval {
				t.Errorf("Expected interval %s, got %s", tt.interval, d)
			}
			if got.Stability != DefaultWeights[tt.rating-1] {
				t.Errorf("Expected initial stability %.4f, got %.4f", DefaultWeights[tt.rating-1], got.Stability)
			}
			if got.Difficulty < 1 || got.Difficulty > 10 {
				t.Errorf("Difficulty %.4f outside [1, 10]", got.Difficulty)
			}
			if got.Reps != 1 || got.Lapses != 0 {
				t.Errorf("Expected reps=1 lapses=0, got reps=%d lapses=%d", got.Reps, got.Lapses)
			}
			if got.LastReview == nil || !got.LastReview.Equal(now) {
				t.Errorf("Expected last review %v, got %v", now, got.LastReview)
			}
		})
	}
}

func TestInitialDifficultyOrdering(t *testing.T) {
	s := newTestScheduler(t, nil)
	prev := math.Inf(1)
	for _, r := range Ratings {
		d := s.Advance(s.Initialize(t0), r, t0).Difficulty
		if d > prev {
			t.Errorf("Expected difficulty to fall as rating rises, %s gave %.4f after %.4f", r, d, prev)
		}
		prev = d
	}
}

func TestLearningLadder(t *testing.T) {
	s := newTestScheduler(t, nil)
	first := s.Advance(s.Initialize(t0), Good, t0)
	now := first.Due

	t.Run("Good on last step graduates", func(t *testing.T) {
		got := s.Advance(first, Good, now)
		if got.State != Review {
			t.Fatalf("Expected Review, got %s", got.State)
		}
		if got.ScheduledDays < 1 {
			t.Errorf("Expected at least one day, got %.0f", got.ScheduledDays)
		}
		if want := time.Duration(got.ScheduledDays) * day; got.Due.Sub(now) != want {
			t.Errorf("Expected due %s after review, got %s", want, got.Due.Sub(now))
		}
	})

	t.Run("Again resets to first step", func(t *testing.T) {
		got := s.Advance(first, Again, now)
		if got.State != Learning || got.LearningSteps != 0 {
			t.Errorf("Expected Learning step 0, got %s step %d", got.State, got.LearningSteps)
		}
		if got.Due.Sub(now) != time.Minute {
			t.Errorf("Expected 1m, got %s", got.Due.Sub(now))
		}
		if got.Lapses != 0 {
			t.Errorf("Again in Learning must not count a lapse, got %d", got.Lapses)
		}
	})

	t.Run("Hard repeats current step", func(t *testing.T) {
		got := s.Advance(first, Hard, now)
		if got.State != Learning || got.LearningSteps != 1 {
			t.Errorf("Expected Learning step 1, got %s step %d", got.State, got.LearningSteps)
		}
		if got.Due.Sub(now) != 10*time.Minute {
			t.Errorf("Expected 10m, got %s", got.Due.Sub(now))
		}
	})

	t.Run("empty ladder graduates immediately", func(t *testing.T) {
		s := newTestScheduler(t, func(p *Params) { p.LearningSteps = nil })
		got := s.Advance(s.Initialize(t0), Again, t0)
		if got.State != Review {
			t.Errorf("Expected Review, got %s", got.State)
		}
	})

	t.Run("single step Hard waits one and a half steps", func(t *testing.T) {
		s := newTestScheduler(t, func(p *Params) { p.LearningSteps = []time.Duration{10 * time.Minute} })
		got := s.Advance(s.Initialize(t0), Hard, t0)
		if got.Due.Sub(t0) != 15*time.Minute {
			t.Errorf("Expected 15m, got %s", got.Due.Sub(t0))
		}
	})
}

func TestReviewAgainLapses(t *testing.T) {
	s := newTestScheduler(t, nil)
	now := t0.Add(5 * day)
	card := reviewCard(5, 5, t0)

	got := s.Advance(card, Again, now)

	if got.State != Relearning {
		t.Errorf("Expected Relearning, got %s", got.State)
	}
	if got.Lapses != card.Lapses+1 {
		t.Errorf("Expected lapses %d, got %d", card.Lapses+1, got.Lapses)
	}
	if got.LearningSteps != 0 {
		t.Errorf("Expected learning step reset to 0, got %d", got.LearningSteps)
	}
	if got.Stability >= card.Stability {
		t.Errorf("Expected stability below %.2f after a lapse, got %.4f", card.Stability, got.Stability)
	}
	if got.Difficulty <= card.Difficulty {
		t.Errorf("Expected difficulty above %.2f after a lapse, got %.4f", card.Difficulty, got.Difficulty)
	}
	if got.Due.Sub(now) != 10*time.Minute {
		t.Errorf("Expected relearning step of 10m, got %s", got.Due.Sub(now))
	}

	t.Run("Again while relearning is not another lapse", func(t *testing.T) {
		again := s.Advance(got, Again, got.Due)
		if again.State != Relearning || again.Lapses != got.Lapses {
			t.Errorf("Expected Relearning with %d lapses, got %s with %d", got.Lapses, again.State, again.Lapses)
		}
	})

	t.Run("Good while relearning returns to review", func(t *testing.T) {
		back := s.Advance(got, Good, got.Due)
		if back.State != Review {
			t.Errorf("Expected Review, got %s", back.State)
		}
	})

	t.Run("no relearning steps keeps the card in review", func(t *testing.T) {
		s := newTestScheduler(t, func(p *Params) { p.RelearningSteps = nil })
		got := s.Advance(card, Again, now)
		if got.State != Review || got.Lapses != card.Lapses+1 {
			t.Errorf("Expected Review with one lapse, got %s with %d", got.State, got.Lapses)
		}
		if got.ScheduledDays < 1 {
			t.Errorf("Expected at least one day, got %.0f", got.ScheduledDays)
		}
	})
}

func TestReviewIntervalsAreMonotonic(t *testing.T) {
	s := newTestScheduler(t, nil)
	card := reviewCard(5, 5, t0)
	now := t0.Add(5 * day)

	preview := s.Preview(card, now)
	if len(preview) != len(Ratings) {
		t.Fatalf("Expected %d previews, got %d", len(Ratings), len(preview))
	}
	for i := 1; i < len(Ratings); i++ {
		lo, hi := preview[Ratings[i-1]], preview[Ratings[i]]
		if hi.Due.Before(lo.Due) {
			t.Errorf("%s due %v is before %s due %v", Ratings[i], hi.Due, Ratings[i-1], lo.Due)
		}
	}
	if good := preview[Good]; good.Stability <= card.Stability {
		t.Errorf("Expected Good to grow stability beyond %.2f, got %.4f", card.Stability, good.Stability)
	}
}

func TestAdvanceInvariants(t *testing.T) {
	s := newTestScheduler(t, nil)
	future := t0.Add(3 * day)

	cards := map[string]Snapshot{
		"new":              s.Initialize(t0),
		"review":           reviewCard(12, 4, t0),
		"clock skew":       reviewCard(12, 4, future),
		"zero stability":   {State: Review, Due: t0, LastReview: &t0},
		"nan memory":       {State: Learning, Stability: math.NaN(), Difficulty: math.Inf(1), Due: t0, LastReview: &t0},
		"negative counter": {State: Relearning, Stability: 2, Difficulty: 5, Reps: -3, LearningSteps: -1, Due: t0, LastReview: &t0},
	}

	for name, card := range cards {
		for _, r := range Ratings {
			t.Run(name+"/"+r.String(), func(t *testing.T) {
				now := t0.Add(time.Hour)
				got := s.Advance(card, r, now)

				if math.IsNaN(got.Stability) || math.IsNaN(got.Difficulty) || math.IsNaN(got.ElapsedDays) {
					t.Fatalf("NaN in result: %+v", got)
				}
				if got.Stability < minStability || got.Stability > maxStability {
					t.Errorf("Stability %.4f outside bounds", got.Stability)
				}
				if got.Difficulty < minDifficulty || got.Difficulty > maxDifficulty {
					t.Errorf("Difficulty %.4f outside bounds", got.Difficulty)
				}
				if got.ElapsedDays < 0 {
					t.Errorf("Elapsed days %.4f is negative", got.ElapsedDays)
				}
				if got.Due.Before(now) {
					t.Errorf("Due %v is before now %v", got.Due, now)
				}
				if got.Reps != max(card.Reps, 0)+1 {
					t.Errorf("Expected reps %d, got %d", max(card.Reps, 0)+1, got.Reps)
				}
				wantLapses := card.Lapses
				if card.State == Review && r == Again {
					wantLapses++
				}
				if got.Lapses != wantLapses {
					t.Errorf("Expected lapses %d, got %d", wantLapses, got.Lapses)
				}
				if got.State == New {
					t.Errorf("A reviewed card must leave New")
				}
			})
		}
	}
}

func TestAdvanceIsPure(t *testing.T) {
	s := newTestScheduler(t, func(p *Params) { p.EnableFuzz = true })
	card := reviewCard(30, 6, t0)
	before := *card.LastReview
	now := t0.Add(31 * day)

	a := s.Advance(card, Good, now)
	b := s.Advance(card, Good, now)

	if a.Due != b.Due || a.Stability != b.Stability || a.Difficulty != b.Difficulty {
		t.Errorf("Expected identical results, got %+v and %+v", a, b)
	}
	if !card.LastReview.Equal(before) || card.Reps != 4 {
		t.Errorf("Advance modified its input: %+v", card)
	}
	*a.LastReview = a.LastReview.Add(time.Hour)
	if b.LastReview.Equal(*a.LastReview) {
		t.Errorf("Results share a LastReview pointer")
	}
}

func TestFuzzStaysInRange(t *testing.T) {
	s := newTestScheduler(t, func(p *Params) {
		p.EnableFuzz = true
		p.MaximumInterval = 40
	})
	for i := range 50 {
		now := t0.Add(time.Duration(i) * 7 * time.Hour)
		got := s.Advance(reviewCard(35, 5, now.Add(-35*day)), Easy, now)
		if got.ScheduledDays < 1 || got.ScheduledDays > 40 {
			t.Errorf("Fuzzed interval %.0f outside [1, 40]", got.ScheduledDays)
		}
	}
}

func TestMaximumInterval(t *testing.T) {
	s := newTestScheduler(t, func(p *Params) { p.MaximumInterval = 10 })
	got := s.Advance(reviewCard(1000, 2, t0), Easy, t0.Add(1000*day))
	if got.ScheduledDays != 10 {
		t.Errorf("Expected interval capped at 10 days, got %.0f", got.ScheduledDays)
	}
}

func TestRetrievability(t *testing.T) {
	s := newTestScheduler(t, nil)

	if r := s.Retrievability(s.Initialize(t0), t0.Add(day)); r != 0 {
		t.Errorf("Expected 0 for a new card, got %.4f", r)
	}

	card := reviewCard(5, 5, t0)
	if r := s.Retrievability(card, t0); math.Abs(r-1) > 1e-9 {
		t.Errorf("Expected 1 right after review, got %.4f", r)
	}
	if r := s.Retrievability(card, t0.Add(5*day)); math.Abs(r-0.9) > 1e-9 {
		t.Errorf("Expected 0.9 after stability days, got %.6f", r)
	}
	if r := s.Retrievability(card, t0.Add(-day)); math.Abs(r-1) > 1e-9 {
		t.Errorf("Expected skewed clock to clamp to 1, got %.4f", r)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero retention", func(p *Params) { p.DesiredRetention = 0 }},
		{"retention above one", func(p *Params) { p.DesiredRetention = 1.5 }},
		{"zero maximum interval", func(p *Params) { p.MaximumInterval = 0 }},
		{"negative learning step", func(p *Params) { p.LearningSteps = []time.Duration{-time.Minute} }},
		{"zero relearning step", func(p *Params) { p.RelearningSteps = []time.Duration{0} }},
		{"decay out of bounds", func(p *Params) { p.Weights[20] = 0.9 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(p)
			if _, err := NewScheduler(p); err == nil {
				t.Errorf("Expected an error")
			}
		})
	}

	if err := DefaultParams().Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestSchedulerCopiesParams(t *testing.T) {
	p := DefaultParams()
	s, err := NewScheduler(p)
	if err != nil {
		t.Fatal(err)
	}
	p.LearningSteps[0] = time.Hour
	if got := s.Params().LearningSteps[0]; got != time.Minute {
		t.Errorf("Scheduler observed caller mutation, first step = %s", got)
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		in      string
		want    Rating
		wantErr bool
	}{
		{"Again", Again, false},
		{"Hard", Hard, false},
		{"Good", Good, false},
		{"Easy", Easy, false},
		{"good", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRating(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRating(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRating(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if Rating(0).IsValid() || Rating(5).IsValid() {
		t.Errorf("Expected ratings outside 1..4 to be invalid")
	}
}
