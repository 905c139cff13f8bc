package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/cardbank/cardbank/internal/leitner"
	"github.com/cardbank/cardbank/internal/model"
	"github.com/cardbank/cardbank/internal/ui"
)

var studyCmd = &cobra.Command{
	Use:     "study",
	GroupID: "core",
	Short:   "Review due cards; answers move them between boxes",
	Long: `Run a study session over the cards due for review.

Cards live in five Leitner boxes. A correct answer promotes a card one
box and schedules its next review further out (1, 2, 3, 7, then 14
days); a wrong answer sends it back to box 1 for tomorrow.

The session ends when no card in scope is due. Box movements are saved
back to the remote record with field preservation.

Example usage:
  cb study                          # everything due now
  cb study --subject Maths          # one subject
  cb study --topic Algebra --box 1  # narrow further
  cb study --due "next friday"      # preview what will be due
  cb study --offline                # cached copy, no save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		topic, _ := cmd.Flags().GetString("topic")
		box, _ := cmd.Flags().GetInt("box")
		dueStr, _ := cmd.Flags().GetString("due")
		limit, _ := cmd.Flags().GetInt("limit")
		offline, _ := cmd.Flags().GetBool("offline")

		now := time.Now()
		if dueStr != "" {
			parsed, err := parseDue(dueStr, now)
			if err != nil {
				return err
			}
			now = parsed
		}

		logger := newCLILogger("[study] ")

		var snap model.Snapshot
		if offline {
			var err error
			snap, err = cachedSnapshot(cmd.Context())
			if err != nil {
				return err
			}
		} else {
			client, tokens, err := newStoreClient(logger)
			if err != nil {
				return err
			}
			snap, err = fetchSnapshot(cmd.Context(), client, logger)
			if err != nil {
				return err
			}
			coord := newCoordinator(client, tokens, logger)
			defer coord.Close()

			return runSession(snap, leitner.Scope{Subject: subject, Topic: topic, Box: box}, now, limit,
				func(updated model.Snapshot) error { return saveSnapshot(coord, updated) })
		}

		return runSession(snap, leitner.Scope{Subject: subject, Topic: topic, Box: box}, now, limit, nil)
	},
}

// runSession walks the due cards, asks for answers, and hands the
// updated snapshot to save (nil save means review-only).
func runSession(snap model.Snapshot, scope leitner.Scope, now time.Time, limit int,
	save func(model.Snapshot) error) error {

	_, cardMaps := model.SplitByType(snap.Items)
	cards := make([]model.Card, 0, len(cardMaps))
	for _, m := range cardMaps {
		cards = append(cards, model.CardFromMap(m))
	}

	due := leitner.DueCards(cards, scope, now)
	if len(due) == 0 {
		fmt.Printf("%s Nothing due. Come back later.\n", ui.RenderPass("✓"))
		return nil
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	fmt.Printf("%s %d card(s) due\n\n", ui.RenderAccent("→"), len(due))

	reviewed := make(map[string]model.Card, len(due))
	correct := 0
	for i := range due {
		card := due[i]
		fmt.Println(ui.CardQuestion(card))

		reveal := true
		if err := runForm(huh.NewConfirm().
			Title("Reveal answer?").
			Affirmative("Show").
			Negative("Stop session").
			Value(&reveal)); err != nil {
			return err
		}
		if !reveal {
			break
		}

		fmt.Println(ui.CardAnswer(card))

		var got bool
		if err := runForm(huh.NewConfirm().
			Title("Did you get it right?").
			Value(&got)); err != nil {
			return err
		}

		leitner.Answer(&card, got, now)
		reviewed[card.ID] = card
		if got {
			correct++
		}
		fmt.Printf("%s moved to box %d, next review %s\n\n",
			ui.Faint("·"), card.BoxNum, card.NextReviewDate.Local().Format("2006-01-02"))
	}

	if len(reviewed) == 0 {
		return nil
	}

	fmt.Printf("%s Session done: %d/%d correct\n", ui.RenderPass("✓"), correct, len(reviewed))

	if save == nil {
		fmt.Println(ui.Faint("Offline session; box movements were not saved."))
		return nil
	}

	// Fold the reviewed cards back into the untyped collection.
	for i, raw := range snap.Items {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if c, ok := reviewed[id]; ok {
			snap.Items[i] = c.ToMap()
		}
	}

	if err := save(snap); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	fmt.Printf("%s Saved\n", ui.RenderPass("✓"))
	return nil
}

func runForm(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).Run()
}

// parseDue turns phrases like "tomorrow" or "next friday" into a time.
func parseDue(s string, now time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --due %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --due %q", s)
	}
	return r.Time, nil
}

func init() {
	studyCmd.Flags().StringP("subject", "s", "", "Limit to one subject")
	studyCmd.Flags().StringP("topic", "t", "", "Limit to one topic")
	studyCmd.Flags().IntP("box", "b", 0, "Limit to one Leitner box (1-5)")
	studyCmd.Flags().String("due", "", `Review as of a natural-language time ("tomorrow", "next friday")`)
	studyCmd.Flags().IntP("limit", "n", 0, "Maximum cards this session")
	studyCmd.Flags().Bool("offline", false, "Use the cached copy and skip saving")
	rootCmd.AddCommand(studyCmd)
}
