// Package model provides the data structures shared across the card bank.
//
// The remote record store has no schema enforcement: cards and topic
// shells live in one untyped collection, as loosely-shaped JSON objects.
// This package is the single place where those objects get a type. The
// structures here are flat and JSON-friendly so each field can round-trip
// through the remote record unchanged.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Box bounds for the five-tier review scheme.
const (
	MinBox = 1
	MaxBox = 5
)

// Type discriminant values. Every persisted item carries exactly one.
const (
	TypeCard  = "card"
	TypeTopic = "topic"
)

// Option is one multiple-choice answer on a card.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Card is an atomic study unit.
//
// BoxNum is the card's current Leitner box (1-5). NextReviewDate is when
// the card becomes reviewable again; a nil value means "reviewable now".
type Card struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Subject   string `json:"subject,omitempty"`
	Topic     string `json:"topic,omitempty"`
	TopicID   string `json:"topicId,omitempty"`
	ExamBoard string `json:"examBoard,omitempty"`
	ExamType  string `json:"examType,omitempty"`

	Question string   `json:"question,omitempty"`
	Answer   string   `json:"answer,omitempty"`
	Options  []Option `json:"options,omitempty"`

	BoxNum         int        `json:"boxNum"`
	LastReviewed   *time.Time `json:"lastReviewed,omitempty"`
	NextReviewDate *time.Time `json:"nextReviewDate,omitempty"`

	CardColor string `json:"cardColor,omitempty"`
	TextColor string `json:"textColor,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the invariants a persisted card must hold.
func (c *Card) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.BoxNum < MinBox || c.BoxNum > MaxBox {
		return fmt.Errorf("boxNum must be between %d and %d (got %d)", MinBox, MaxBox, c.BoxNum)
	}
	if c.LastReviewed != nil && c.NextReviewDate != nil && c.NextReviewDate.Before(*c.LastReviewed) {
		return fmt.Errorf("nextReviewDate must not precede lastReviewed")
	}
	return nil
}

// SetDefaults applies defaults for optional fields so that cards coming
// from untyped input behave consistently.
func (c *Card) SetDefaults() {
	if c.Type == "" {
		c.Type = TypeCard
	}
	if c.BoxNum == 0 {
		c.BoxNum = MinBox
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
}

// CorrectIndex returns the index of the correct option, or -1 when the
// card has no options or none is flagged.
func (c *Card) CorrectIndex() int {
	for i, o := range c.Options {
		if o.IsCorrect {
			return i
		}
	}
	return -1
}

// ToMap converts the card to its untyped collection form.
func (c Card) ToMap() map[string]any {
	return toMap(c)
}

// CardFromMap builds a Card from an untyped collection item. Unknown
// fields are dropped; missing fields take their zero values.
func CardFromMap(m map[string]any) Card {
	var c Card
	fromMap(m, &c)
	c.Type = TypeCard
	return c
}

// NewID generates a collision-resistant identifier for shells and cards.
func NewID() string {
	return gonanoid.Must(12)
}

// toMap and fromMap round-trip a struct through JSON. The collections on
// the remote record are untyped, so this is the canonical conversion.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func fromMap(m map[string]any, out any) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	// Best effort: partially-valid input still yields the valid fields.
	_ = json.Unmarshal(data, out)
}
