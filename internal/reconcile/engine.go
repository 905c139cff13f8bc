// Package reconcile merges client-side topic and card state against the
// collection already persisted on the remote record.
//
// The engine owns no state: every entrypoint is a pure function of
// (existing remote items, newly submitted input) and produces the flat
// collection to write back. Guarantees:
//
//   - No existing shell id is ever dropped. Topics the caller did not
//     mention are preserved untouched; deletion happens only through an
//     explicit delete path, never as a merge side effect.
//   - Shell ids are stable. A topic that already has a shell keeps its
//     id across renames and recolors.
//   - Malformed input degrades per item instead of failing the merge; a
//     corrupted entry must not block saving everything else.
package reconcile

import (
	"strings"
	"time"

	"github.com/cardbank/cardbank/internal/model"
	"github.com/cardbank/cardbank/internal/palette"
)

// MergeResult is the output of a topic-shell merge.
type MergeResult struct {
	// Items is the final flat collection: merged shells followed by the
	// untouched existing cards.
	Items []map[string]any

	// ColorMap is the extended subject color map.
	ColorMap model.ColorMap

	// Metadata holds refreshed per-topic bookkeeping for every shell the
	// caller submitted.
	Metadata []model.TopicMetadata
}

// MergeTopicShells reconciles submitted topic lists against the
// existing remote collection.
//
// For every topic entry a candidate shell is built with a stable id
// (submitted id when present, the matching existing shell's id on a
// legacy name match, a fresh id otherwise) and the subject's derived
// shade. Candidates matching an existing shell keep that shell's card
// association and creation timestamp while adopting the candidate's
// name and colors. isEmpty is recomputed from card references on every
// output shell; it is derived state and never trusted from input.
// Output shell ids are unique: a duplicated submitted id turns the
// later entry into a new shell.
func MergeTopicShells(existing []any, lists []model.TopicList, colors model.ColorMap, now time.Time) MergeResult {
	shellMaps, cardMaps := model.SplitByType(existing)

	colors = colors.Clone()
	for _, list := range lists {
		if list.Subject == "" {
			continue
		}
		if _, ok := colors[list.Subject]; !ok {
			colors[list.Subject] = palette.AssignSubjectColor(list.Subject, colors)
		}
	}

	// Index existing shells by id and by legacy (subject, name) key.
	// Entries leave the index once matched so a later candidate cannot
	// merge into the same shell twice.
	byID := make(map[string]model.TopicShell, len(shellMaps))
	byKey := make(map[string]string, len(shellMaps)) // legacy key -> id
	order := make([]string, 0, len(shellMaps))
	for _, m := range shellMaps {
		s := model.ShellFromMap(m)
		if s.ID == "" {
			s.ID = model.NewID()
		}
		if _, dup := byID[s.ID]; dup {
			continue
		}
		byID[s.ID] = s
		order = append(order, s.ID)
		if _, taken := byKey[s.Key()]; !taken {
			byKey[s.Key()] = s.ID
		}
	}

	// Which shell ids do cards still reference.
	referenced := cardRefs(cardMaps)

	var merged []model.TopicShell
	var meta []model.TopicMetadata
	matched := map[string]bool{}
	emitted := map[string]bool{}

	for _, list := range lists {
		shades := palette.DeriveTopicShades(colors[list.Subject], len(list.Topics))
		for i, entry := range list.Topics {
			if strings.TrimSpace(entry.Name) == "" {
				continue
			}

			id := entry.ID
			if id == "" {
				// Legacy id-less input: first (subject, name) match wins;
				// leftovers become new shells. Accidental duplication is
				// preferred over merging unrelated topics.
				key := model.ShellKey(list.Subject, entry.Name)
				if exID, ok := byKey[key]; ok && !matched[exID] {
					id = exID
				} else {
					id = model.NewID()
				}
			}
			if emitted[id] {
				// A later entry reusing an already-emitted id becomes a
				// new shell, same as a legacy leftover. Output ids stay
				// unique.
				id = model.NewID()
			}

			shell := model.TopicShell{
				ID:        id,
				Type:      model.TypeTopic,
				Subject:   list.Subject,
				ExamBoard: list.ExamBoard,
				ExamType:  list.ExamType,
				Name:      entry.Name,
				Color:     shades[i],
				BaseColor: colors[list.Subject],
				CreatedAt: now,
				UpdatedAt: now,
			}

			if ex, ok := byID[id]; ok && !matched[id] {
				// Keep the existing shell's identity-carrying state,
				// adopt the candidate's presentation.
				shell.Cards = ex.Cards
				if !ex.CreatedAt.IsZero() {
					shell.CreatedAt = ex.CreatedAt
				}
				matched[id] = true
			}

			shell.IsEmpty = !referenced[shell.ID] && len(shell.Cards) == 0
			emitted[shell.ID] = true
			merged = append(merged, shell)
			meta = append(meta, model.TopicMetadata{
				TopicID:     shell.ID,
				Subject:     shell.Subject,
				Name:        shell.Name,
				LastUpdated: now,
			})
		}
	}

	// Existing shells never matched by a candidate are preserved; the
	// caller's silence is not a delete.
	for _, id := range order {
		if matched[id] {
			continue
		}
		s := byID[id]
		s.IsEmpty = !referenced[s.ID] && len(s.Cards) == 0
		merged = append(merged, s)
	}

	items := make([]map[string]any, 0, len(merged)+len(cardMaps))
	for _, s := range merged {
		items = append(items, s.ToMap())
	}
	items = append(items, cardMaps...)

	return MergeResult{Items: items, ColorMap: colors, Metadata: meta}
}

// AddCardsToBank inserts new cards into the existing collection.
//
// Each card's shell is resolved by topicId first, then by the legacy
// (subject, topic-name) key. Resolved cards are stamped with the
// shell's id and the shell's isEmpty flips to false. Cards with no
// resolvable shell are kept as orphans; they stay recoverable. A card
// id already present in the collection is skipped, never overwritten;
// updates go through a dedicated path.
//
// Returns the final collection and the number of cards actually added.
func AddCardsToBank(existing []any, newCards []model.Card, now time.Time) ([]map[string]any, int) {
	shellMaps, cardMaps := model.SplitByType(existing)

	shells := make([]model.TopicShell, 0, len(shellMaps))
	byID := map[string]int{}
	byKey := map[string]int{}
	for _, m := range shellMaps {
		s := model.ShellFromMap(m)
		idx := len(shells)
		shells = append(shells, s)
		if s.ID != "" {
			if _, dup := byID[s.ID]; !dup {
				byID[s.ID] = idx
			}
		}
		if _, dup := byKey[s.Key()]; !dup {
			byKey[s.Key()] = idx
		}
	}

	existingIDs := map[string]bool{}
	for _, m := range cardMaps {
		if id, ok := m["id"].(string); ok && id != "" {
			existingIDs[id] = true
		}
	}

	added := 0
	var appended []map[string]any
	for _, card := range newCards {
		if card.ID == "" {
			card.ID = model.NewID()
		}
		if existingIDs[card.ID] {
			continue
		}
		existingIDs[card.ID] = true

		card.Sanitize()
		card.SetDefaults()
		if card.CreatedAt.IsZero() {
			card.CreatedAt = now
		}
		card.UpdatedAt = now

		idx, ok := resolveShell(card, byID, byKey)
		if ok {
			shell := &shells[idx]
			card.TopicID = shell.ID
			if card.CardColor == "" {
				card.CardColor = shell.Color
			}
			shell.Cards = appendUnique(shell.Cards, card.ID)
			shell.IsEmpty = false
			shell.UpdatedAt = now
		}
		// Unresolvable cards keep whatever topicId they arrived with and
		// are stored as orphans.

		if card.CardColor != "" && card.TextColor == "" {
			card.TextColor = palette.TextColorFor(card.CardColor)
		}

		appended = append(appended, card.ToMap())
		added++
	}

	items := make([]map[string]any, 0, len(shells)+len(cardMaps)+len(appended))
	for _, s := range shells {
		items = append(items, s.ToMap())
	}
	items = append(items, cardMaps...)
	items = append(items, appended...)

	return items, added
}

// Orphans returns the cards in a collection whose topic shell cannot be
// resolved by id or by (subject, topic-name).
func Orphans(items []any) []model.Card {
	shellMaps, cardMaps := model.SplitByType(items)

	ids := map[string]bool{}
	keys := map[string]bool{}
	for _, m := range shellMaps {
		s := model.ShellFromMap(m)
		if s.ID != "" {
			ids[s.ID] = true
		}
		keys[s.Key()] = true
	}

	var orphans []model.Card
	for _, m := range cardMaps {
		c := model.CardFromMap(m)
		if c.TopicID != "" && ids[c.TopicID] {
			continue
		}
		if keys[model.ShellKey(c.Subject, c.Topic)] {
			continue
		}
		orphans = append(orphans, c)
	}
	return orphans
}

// MergeTopicLists merges incoming per-subject lists into the existing
// set: an incoming list replaces only its own subject's entry, every
// other subject is carried forward.
func MergeTopicLists(existing, incoming []model.TopicList) []model.TopicList {
	replaced := map[string]bool{}
	for _, in := range incoming {
		replaced[in.Subject] = true
	}

	out := make([]model.TopicList, 0, len(existing)+len(incoming))
	for _, ex := range existing {
		if !replaced[ex.Subject] {
			out = append(out, ex)
		}
	}
	return append(out, incoming...)
}

// MergeMetadata merges metadata entries by composite key; the entry
// with the newest lastUpdated stamp wins.
func MergeMetadata(existing, incoming []model.TopicMetadata) []model.TopicMetadata {
	index := map[string]int{}
	out := make([]model.TopicMetadata, 0, len(existing)+len(incoming))

	for _, m := range append(append([]model.TopicMetadata{}, existing...), incoming...) {
		key := m.Key()
		if i, ok := index[key]; ok {
			if m.LastUpdated.After(out[i].LastUpdated) {
				out[i] = m
			}
			continue
		}
		index[key] = len(out)
		out = append(out, m)
	}
	return out
}

func resolveShell(card model.Card, byID, byKey map[string]int) (int, bool) {
	if card.TopicID != "" {
		if idx, ok := byID[card.TopicID]; ok {
			return idx, true
		}
	}
	if card.Subject != "" && card.Topic != "" {
		if idx, ok := byKey[model.ShellKey(card.Subject, card.Topic)]; ok {
			return idx, true
		}
	}
	return 0, false
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func cardRefs(cardMaps []map[string]any) map[string]bool {
	refs := map[string]bool{}
	for _, m := range cardMaps {
		if id, ok := m["topicId"].(string); ok && id != "" {
			refs[id] = true
		}
	}
	return refs
}
