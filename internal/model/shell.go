package model

import (
	"fmt"
	"strings"
	"time"
)

// TopicShell is a named topic container. Shells exist independently of
// cards: a topic declared in a topic list gets a shell before any card
// is created for it, and the shell survives until explicitly deleted.
//
// The shell id is stable across saves. IsEmpty is derived state: it is
// recomputed from card associations on every merge and never trusted
// from input.
type TopicShell struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Subject   string `json:"subject,omitempty"`
	ExamBoard string `json:"examBoard,omitempty"`
	ExamType  string `json:"examType,omitempty"`
	Name      string `json:"name"`

	// Color is the topic-level shade; BaseColor the subject-level color
	// it was derived from.
	Color     string `json:"color,omitempty"`
	BaseColor string `json:"baseColor,omitempty"`

	IsEmpty bool `json:"isEmpty"`

	// Cards holds the ids of cards associated with this shell.
	Cards []string `json:"cards,omitempty"`

	CreatedAt time.Time `json:"created,omitempty"`
	UpdatedAt time.Time `json:"updated,omitempty"`
}

// Validate checks the invariants a persisted shell must hold.
func (s *TopicShell) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Key returns the legacy identity used when id-less input has to be
// matched: subject plus topic name, case-insensitive.
func (s *TopicShell) Key() string {
	return ShellKey(s.Subject, s.Name)
}

// ShellKey builds the legacy (subject, topic-name) identity.
func ShellKey(subject, name string) string {
	return strings.ToLower(strings.TrimSpace(subject)) + "|" + strings.ToLower(strings.TrimSpace(name))
}

// ToMap converts the shell to its untyped collection form.
func (s TopicShell) ToMap() map[string]any {
	return toMap(s)
}

// ShellFromMap builds a TopicShell from an untyped collection item.
func ShellFromMap(m map[string]any) TopicShell {
	var s TopicShell
	fromMap(m, &s)
	s.Type = TypeTopic
	// Legacy records used "topic" instead of "name".
	if s.Name == "" {
		if topic, ok := m["topic"].(string); ok {
			s.Name = topic
		}
	}
	return s
}
