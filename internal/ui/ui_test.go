package ui

import (
	"strings"
	"testing"

	"github.com/cardbank/cardbank/internal/model"
)

func TestBoxBadge(t *testing.T) {
	badge := BoxBadge(2)
	if !strings.Contains(badge, "2/5") {
		t.Errorf("Badge missing box position: %q", badge)
	}
}

func TestCardQuestion(t *testing.T) {
	c := model.Card{
		Subject:  "Maths",
		Topic:    "Algebra",
		Question: "Solve x+1=3",
		BoxNum:   1,
	}

	out := CardQuestion(c)
	if !strings.Contains(out, "Solve x+1=3") {
		t.Errorf("Question text missing: %q", out)
	}
	if !strings.Contains(out, "Maths") || !strings.Contains(out, "Algebra") {
		t.Errorf("Header missing subject/topic: %q", out)
	}
}

func TestCardQuestionWithOptions(t *testing.T) {
	c := model.Card{
		Subject:  "Maths",
		Question: "2+2?",
		BoxNum:   1,
		Options: []model.Option{
			{Text: "3"},
			{Text: "4", IsCorrect: true},
		},
	}

	out := CardQuestion(c)
	if !strings.Contains(out, "a) 3") || !strings.Contains(out, "b) 4") {
		t.Errorf("Options not lettered: %q", out)
	}
}

func TestCardAnswer(t *testing.T) {
	c := model.Card{Answer: "4"}
	if out := CardAnswer(c); !strings.Contains(out, "4") {
		t.Errorf("Answer text missing: %q", out)
	}

	mc := model.Card{
		Options: []model.Option{
			{Text: "3"},
			{Text: "4", IsCorrect: true},
		},
	}
	if out := CardAnswer(mc); !strings.Contains(out, "b) 4") {
		t.Errorf("Correct option not shown: %q", out)
	}
}

func TestTopicLine(t *testing.T) {
	line := TopicLine("Algebra", "#3cb44b", 3)
	if !strings.Contains(line, "Algebra") || !strings.Contains(line, "3 cards") {
		t.Errorf("Topic line incomplete: %q", line)
	}

	single := TopicLine("Geometry", "", 1)
	if !strings.Contains(single, "1 card") || strings.Contains(single, "1 cards") {
		t.Errorf("Singular count wrong: %q", single)
	}
}
