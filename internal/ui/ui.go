// Package ui renders cards, topics, and status lines for the terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/cardbank/cardbank/internal/model"
)

var (
	accentStyle = lipgloss.NewStyle().Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(60)
)

// Colorized reports whether the terminal can show the palette swatches.
func Colorized() bool {
	return termenv.EnvColorProfile() != termenv.Ascii
}

// RenderAccent renders emphasized text.
func RenderAccent(s string) string {
	return accentStyle.Render(s)
}

// RenderPass renders success markers.
func RenderPass(s string) string {
	return passStyle.Render(s)
}

// RenderWarn renders warning markers.
func RenderWarn(s string) string {
	return warnStyle.Render(s)
}

// Faint renders de-emphasized text.
func Faint(s string) string {
	return faintStyle.Render(s)
}

// Errorf renders an error line.
func Errorf(format string, args ...any) string {
	return errorStyle.Render(fmt.Sprintf(format, args...))
}

// Swatch renders a colored block for a palette hex value, falling back
// to the hex string itself on monochrome terminals.
func Swatch(hex string) string {
	if hex == "" {
		return "      "
	}
	if !Colorized() {
		return hex
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Render("██ ") + faintStyle.Render(hex)
}

// BoxBadge renders a Leitner box indicator like [2/5].
func BoxBadge(boxNum int) string {
	return accentStyle.Render(fmt.Sprintf("[%d/%d]", boxNum, model.MaxBox))
}

// CardQuestion renders the front of a card for a study session.
func CardQuestion(c model.Card) string {
	var b strings.Builder
	header := c.Subject
	if c.Topic != "" {
		header += " / " + c.Topic
	}
	b.WriteString(faintStyle.Render(header) + " " + BoxBadge(c.BoxNum) + "\n")
	b.WriteString(c.Question)
	if len(c.Options) > 0 {
		b.WriteString("\n")
		for i, o := range c.Options {
			b.WriteString(fmt.Sprintf("\n  %c) %s", 'a'+i, o.Text))
		}
	}

	style := cardStyle
	if c.CardColor != "" && Colorized() {
		style = style.BorderForeground(lipgloss.Color(c.CardColor))
	}
	return style.Render(b.String())
}

// CardAnswer renders the back of a card.
func CardAnswer(c model.Card) string {
	answer := c.Answer
	if i := c.CorrectIndex(); i >= 0 {
		answer = fmt.Sprintf("%c) %s", 'a'+i, c.Options[i].Text)
	}
	return cardStyle.Render(accentStyle.Render("Answer") + "\n" + answer)
}

// TopicLine renders one topic row for listings: swatch, name, counts.
func TopicLine(name, color string, cardCount int) string {
	count := faintStyle.Render(fmt.Sprintf("(%d cards)", cardCount))
	if cardCount == 1 {
		count = faintStyle.Render("(1 card)")
	}
	return fmt.Sprintf("%s  %s %s", Swatch(color), name, count)
}
