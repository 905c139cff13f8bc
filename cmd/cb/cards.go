package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardbank/cardbank/internal/leitner"
	"github.com/cardbank/cardbank/internal/model"
	"github.com/cardbank/cardbank/internal/reconcile"
	"github.com/cardbank/cardbank/internal/ui"
)

var cardsCmd = &cobra.Command{
	Use:     "cards",
	GroupID: "core",
	Short:   "List cards and add new ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		topic, _ := cmd.Flags().GetString("topic")
		box, _ := cmd.Flags().GetInt("box")
		dueOnly, _ := cmd.Flags().GetBool("due")
		offline, _ := cmd.Flags().GetBool("offline")

		snap, err := loadForListing(cmd, offline)
		if err != nil {
			return err
		}

		_, cardMaps := model.SplitByType(snap.Items)
		scope := leitner.Scope{Subject: subject, Topic: topic, Box: box}

		now := time.Now()
		var cards []model.Card
		for _, m := range cardMaps {
			c := model.CardFromMap(m)
			if !scope.Matches(c) {
				continue
			}
			if dueOnly && !leitner.Reviewable(c, now) {
				continue
			}
			cards = append(cards, c)
		}

		if len(cards) == 0 {
			fmt.Println(ui.Faint("No cards found."))
			return nil
		}

		sort.Slice(cards, func(i, j int) bool {
			if cards[i].Subject != cards[j].Subject {
				return cards[i].Subject < cards[j].Subject
			}
			return cards[i].Question < cards[j].Question
		})

		for _, c := range cards {
			due := ""
			if c.NextReviewDate != nil {
				due = ui.Faint("due " + c.NextReviewDate.Local().Format("2006-01-02"))
			}
			fmt.Printf("%s %s  %s %s\n", ui.BoxBadge(c.BoxNum), truncate(c.Question, 60),
				ui.Faint(c.Subject+"/"+c.Topic), due)
		}
		fmt.Printf("\n%d card(s)\n", len(cards))
		return nil
	},
}

var cardsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a card to the bank",
	Long: `Add a single card to the remote card bank.

The card is attached to its topic shell when one matches the subject
and topic (by id or by name); otherwise it is kept as an orphan and
reported by 'cb cards orphans'. New cards start in box 1.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		topic, _ := cmd.Flags().GetString("topic")
		question, _ := cmd.Flags().GetString("question")
		answer, _ := cmd.Flags().GetString("answer")

		if subject == "" || question == "" || answer == "" {
			return fmt.Errorf("--subject, --question, and --answer are required")
		}

		card := model.Card{
			Subject:  subject,
			Topic:    topic,
			Question: question,
			Answer:   answer,
		}

		logger := newCLILogger("[cards] ")
		client, tokens, err := newStoreClient(logger)
		if err != nil {
			return err
		}

		snap, err := fetchSnapshot(cmd.Context(), client, logger)
		if err != nil {
			return err
		}

		now := time.Now()
		items, added := reconcile.AddCardsToBank(snap.Items, []model.Card{card}, now)
		if added == 0 {
			return fmt.Errorf("card was not added (duplicate id?)")
		}
		snap.Items = make([]any, len(items))
		for i, item := range items {
			snap.Items[i] = item
		}

		coord := newCoordinator(client, tokens, logger)
		defer coord.Close()

		if err := saveSnapshot(coord, snap); err != nil {
			return fmt.Errorf("failed to save card: %w", err)
		}

		fmt.Printf("%s Added card to %s\n", ui.RenderPass("✓"), subject)
		return nil
	},
}

var cardsOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List cards whose topic shell no longer exists",
	Long: `List orphaned cards.

A card is orphaned when it references a topic shell that is gone and
no shell matches its subject and topic name. Orphans stay in the bank
and keep their box position; they are never dropped by a save.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")

		snap, err := loadForListing(cmd, offline)
		if err != nil {
			return err
		}

		orphans := reconcile.Orphans(snap.Items)
		if len(orphans) == 0 {
			fmt.Printf("%s No orphaned cards\n", ui.RenderPass("✓"))
			return nil
		}

		fmt.Printf("%s %d orphaned card(s):\n\n", ui.RenderWarn("⚠"), len(orphans))
		for _, c := range orphans {
			fmt.Printf("  %s  %s\n", truncate(c.Question, 60), ui.Faint(c.Subject+"/"+c.Topic))
		}
		return nil
	},
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	cardsCmd.Flags().StringP("subject", "s", "", "Limit to one subject")
	cardsCmd.Flags().StringP("topic", "t", "", "Limit to one topic")
	cardsCmd.Flags().IntP("box", "b", 0, "Limit to one Leitner box (1-5)")
	cardsCmd.Flags().Bool("due", false, "Only cards due for review")
	cardsCmd.Flags().Bool("offline", false, "Use the cached copy")

	cardsAddCmd.Flags().StringP("subject", "s", "", "Subject the card belongs to")
	cardsAddCmd.Flags().StringP("topic", "t", "", "Topic the card belongs to")
	cardsAddCmd.Flags().StringP("question", "q", "", "Card front")
	cardsAddCmd.Flags().StringP("answer", "a", "", "Card back")

	cardsOrphansCmd.Flags().Bool("offline", false, "Use the cached copy")

	cardsCmd.AddCommand(cardsAddCmd)
	cardsCmd.AddCommand(cardsOrphansCmd)
	rootCmd.AddCommand(cardsCmd)
}
