// Package genai drafts flashcards for a topic using the Anthropic API.
//
// Generated cards go through the same sanitization and reconciliation
// path as user-authored ones; the model's output is never trusted as
// structured data without recovery parsing.
package genai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cardbank/cardbank/internal/codec"
	"github.com/cardbank/cardbank/internal/model"
)

const systemPrompt = `You write study flashcards. Reply with only a JSON array of objects,
each {"question": string, "answer": string, "options": [{"text": string, "isCorrect": bool}]}.
The options field is optional; include it only for multiple-choice cards with exactly one
correct option. No prose, no markdown fences.`

// completer abstracts the model call so tests can fake it.
type completer interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// Generator drafts cards for a subject/topic pair.
type Generator struct {
	model  completer
	logger *log.Logger
}

// Config holds generator configuration
type Config struct {
	// APIKey for the Anthropic API (required)
	APIKey string

	// Model to use (default: claude-sonnet-4-5)
	Model string

	// Logger for generation activity (default: stderr logger)
	Logger *log.Logger
}

// New creates a card generator backed by the Anthropic API.
func New(config Config) (*Generator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required for card generation")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5"
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))
	return &Generator{
		model:  &anthropicCompleter{client: client, model: anthropic.Model(config.Model)},
		logger: config.Logger,
	}, nil
}

// Request describes the cards to draft.
type Request struct {
	Subject   string
	Topic     string
	ExamBoard string
	ExamType  string
	Count     int
}

// Generate asks the model for cards and parses its reply. Cards come
// back sanitized with defaults applied; the caller still owns topic
// resolution and saving.
func (g *Generator) Generate(ctx context.Context, req Request) ([]model.Card, error) {
	if req.Subject == "" || req.Topic == "" {
		return nil, fmt.Errorf("subject and topic are required")
	}
	if req.Count <= 0 {
		req.Count = 5
	}

	raw, err := g.model.complete(ctx, buildPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("failed to generate cards: %w", err)
	}

	cards := parseCards(raw, req)
	if len(cards) == 0 {
		return nil, fmt.Errorf("model returned no usable cards")
	}

	g.logger.Printf("Generated %d card(s) for %s / %s", len(cards), req.Subject, req.Topic)
	return cards, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d flashcards on the topic %q for the subject %q.", req.Count, req.Topic, req.Subject)
	if req.ExamBoard != "" {
		fmt.Fprintf(&b, " Exam board: %s.", req.ExamBoard)
	}
	if req.ExamType != "" {
		fmt.Fprintf(&b, " Exam level: %s.", req.ExamType)
	}
	return b.String()
}

// parseCards recovers the card array from the model's reply. Fences and
// surrounding prose are stripped; the recovering decoder handles the
// rest or degrades to nothing.
func parseCards(raw string, req Request) []model.Card {
	raw = stripFences(raw)
	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			raw = raw[start : end+1]
		}
	}

	var cards []model.Card
	for _, item := range codec.DecodeSlice(raw) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		card := model.CardFromMap(m)
		if card.Question == "" || card.Answer == "" {
			continue
		}
		card.Subject = req.Subject
		card.Topic = req.Topic
		card.ExamBoard = req.ExamBoard
		card.ExamType = req.ExamType
		if card.ID == "" {
			card.ID = model.NewID()
		}
		card.Sanitize()
		card.SetDefaults()
		cards = append(cards, card)
	}
	return cards
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// anthropicCompleter is the production completer.
type anthropicCompleter struct {
	client anthropic.Client
	model  anthropic.Model
}

func (a *anthropicCompleter) complete(ctx context.Context, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
