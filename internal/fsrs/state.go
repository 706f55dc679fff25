package fsrs

import (
	"fmt"
	"time"
)

// State is the memory stage of a card; it selects the update branch.
type State int

const (
	New State = iota
	Learning
	Review
	Relearning
)

var stateNames = [...]string{New: "new", Learning: "learning", Review: "review", Relearning: "relearning"}

func (s State) isValid() bool {
	return s >= New && s <= Relearning
}

func (s State) String() string {
	if s.isValid() {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState converts a lowercase state name into a State.
func ParseState(name string) (State, error) {
	for s := New; s <= Relearning; s++ {
		if stateNames[s] == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("fsrs: invalid state: %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.isValid() {
		return nil, fmt.Errorf("fsrs: invalid state: %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	v, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Snapshot is the scheduling half of a card. It is a value: Advance returns a new one.
type Snapshot struct {
	Due           time.Time  `json:"due"`
	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   float64    `json:"elapsed_days"`
	ScheduledDays float64    `json:"scheduled_days"`
	LearningSteps int        `json:"learning_steps"`
	Reps          int        `json:"reps"`
	Lapses        int        `json:"lapses"`
	State         State      `json:"state"`
	LastReview    *time.Time `json:"last_review"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.LastReview != nil {
		v := *s.LastReview
		out.LastReview = &v
	}
	return out
}
