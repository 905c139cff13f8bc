// Package leitner implements the five-box spaced-repetition state
// machine.
//
// A card lives in one of five boxes. A correct answer promotes it one
// box (capped at five); a wrong answer demotes it to box one, with no
// partial credit. Each box has a fixed review interval; the next review
// date is computed from the box the card lands in, measured from the
// moment of the answer.
//
// Everything here is a pure function of (card, answer, now) so callers
// never need synchronization and tests never need a real clock.
package leitner

import (
	"strings"
	"time"

	"github.com/cardbank/cardbank/internal/model"
)

// boxIntervalDays maps a box number to the days until the next review.
// Index 0 is unused; boxes are 1-based.
var boxIntervalDays = [model.MaxBox + 1]int{0, 1, 2, 3, 7, 14}

// Interval returns the review interval for a box. Out-of-range boxes
// are treated as box one so corrupt input never schedules a card into
// the far future.
func Interval(box int) time.Duration {
	if box < model.MinBox || box > model.MaxBox {
		box = model.MinBox
	}
	return time.Duration(boxIntervalDays[box]) * 24 * time.Hour
}

// NextBox returns the box a card moves to after an answer.
func NextBox(box int, correct bool) int {
	if !correct {
		return model.MinBox
	}
	if box < model.MinBox {
		box = model.MinBox
	}
	if box >= model.MaxBox {
		return model.MaxBox
	}
	return box + 1
}

// Answer applies one review result to a card: box transition, review
// stamp, and next-eligible date from the new box's interval.
func Answer(c *model.Card, correct bool, now time.Time) {
	c.BoxNum = NextBox(c.BoxNum, correct)
	c.LastReviewed = &now
	next := now.Add(Interval(c.BoxNum))
	c.NextReviewDate = &next
	c.UpdatedAt = now
}

// Reviewable reports whether a card is eligible for review: its next
// review date has passed or was never set.
func Reviewable(c model.Card, now time.Time) bool {
	if c.NextReviewDate == nil {
		return true
	}
	return !c.NextReviewDate.After(now)
}

// Scope narrows a study session to a subject, topic, and/or box. Zero
// values match everything.
type Scope struct {
	Subject string
	Topic   string
	Box     int
}

// Matches reports whether a card falls inside the scope.
func (s Scope) Matches(c model.Card) bool {
	if s.Subject != "" && !strings.EqualFold(s.Subject, c.Subject) {
		return false
	}
	if s.Topic != "" && !strings.EqualFold(s.Topic, c.Topic) {
		return false
	}
	if s.Box != 0 && s.Box != c.BoxNum {
		return false
	}
	return true
}

// DueCards returns the reviewable cards inside the scope, in input
// order.
func DueCards(cards []model.Card, s Scope, now time.Time) []model.Card {
	due := []model.Card{}
	for _, c := range cards {
		if s.Matches(c) && Reviewable(c, now) {
			due = append(due, c)
		}
	}
	return due
}

// SessionComplete reports whether no reviewable card remains in scope.
func SessionComplete(cards []model.Card, s Scope, now time.Time) bool {
	return len(DueCards(cards, s, now)) == 0
}
