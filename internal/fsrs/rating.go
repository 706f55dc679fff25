package fsrs

import (
	"errors"
	"fmt"
)

// ErrInvalidRating is returned when a rating name or value is not one of the four grades.
var ErrInvalidRating = errors.New("fsrs: invalid rating")

// Rating is the user's response to a card review.
type Rating int

const (
	Again Rating = iota + 1 // forgot
	Hard
	Good
	Easy
)

// Ratings lists every valid rating in ascending order.
var Ratings = []Rating{Again, Hard, Good, Easy}

var ratingNames = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

// IsValid reports whether r is one of Again, Hard, Good, Easy.
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// ParseRating converts "Again", "Hard", "Good" or "Easy" into a Rating.
func ParseRating(s string) (Rating, error) {
	for r := Again; r <= Easy; r++ {
		if ratingNames[r] == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRating, s)
}

// MarshalText implements encoding.TextMarshaler; JSON encodes ratings as names.
func (r Rating) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRating, int(r))
	}
	return []byte(ratingNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rating) UnmarshalText(text []byte) error {
	v, err := ParseRating(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// clamp forces r into the valid range.
func (r Rating) clamp() Rating {
	switch {
	case r < Again:
		return Again
	case r > Easy:
		return Easy
	}
	return r
}
