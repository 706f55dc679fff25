// Package queue derives the due queue and badge counters from a set of cards.
// Every function is read-only and evaluates all cards against a single now.
package queue

import (
	"slices"
	"time"

	"github.com/conorfennell/dailyreview/internal/domain"
)

// Less orders cards by due instant, then by id so equal due times have a
// stable order.
func Less(a, b domain.Card) bool {
	if !a.Due.Equal(b.Due) {
		return a.Due.Before(b.Due)
	}
	return a.ID < b.ID
}

func compare(a, b domain.Card) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	}
	return 0
}

// IsDue reports whether c is active and due at or before now.
func IsDue(c domain.Card, now time.Time) bool {
	return c.Status == domain.StatusActive && !c.Due.After(now)
}

// Partition splits the active cards into due and upcoming in one pass so a
// card is always in exactly one of the two.
func Partition(cards []domain.Card, now time.Time) domain.DueResult {
	res := domain.DueResult{Cards: []domain.Card{}}
	for _, c := range cards {
		if c.Status != domain.StatusActive {
			continue
		}
		if IsDue(c, now) {
			res.Cards = append(res.Cards, c)
			continue
		}
		res.UpcomingCount++
		if res.NextDue == nil || c.Due.Before(*res.NextDue) {
			next := c.Due
			res.NextDue = &next
		}
	}
	slices.SortStableFunc(res.Cards, compare)
	return res
}

// Counts returns the triage and due badge numbers.
func Counts(cards []domain.Card, now time.Time) domain.Counts {
	var out domain.Counts
	for _, c := range cards {
		switch {
		case c.Status == domain.StatusTriaging:
			out.New++
		case IsDue(c, now):
			out.Due++
		}
	}
	return out
}
