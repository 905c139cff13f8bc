package model

import "github.com/microcosm-cc/bluemonday"

// cardPolicy strips unsafe HTML from user-authored and AI-generated
// card text while keeping the markup the study views rely on: images,
// and the math/span elements used for formula rendering.
var cardPolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("img")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowElements("math", "span")
	p.AllowAttrs("class").OnElements("span")
	return p
}()

// SanitizeText strips unsafe HTML from a single text field.
func SanitizeText(s string) string {
	return cardPolicy.Sanitize(s)
}

// SanitizeCard sanitizes every text field on a card in place. Called at
// the ingest boundary (card add, AI generation) so nothing downstream
// has to re-check.
func (c *Card) Sanitize() {
	c.Question = SanitizeText(c.Question)
	c.Answer = SanitizeText(c.Answer)
	for i := range c.Options {
		c.Options[i].Text = SanitizeText(c.Options[i].Text)
	}
}
