package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardbank/cardbank/internal/genai"
	"github.com/cardbank/cardbank/internal/reconcile"
	"github.com/cardbank/cardbank/internal/ui"
)

var generateCmd = &cobra.Command{
	Use:     "generate",
	GroupID: "advanced",
	Short:   "Draft cards for a topic with the Anthropic API",
	Long: `Draft flashcards for a topic and fold them into the card bank.

Generated cards are sanitized like any other input and attached to the
matching topic shell. Use --dry-run to preview without saving.

Requires anthropic_api_key in the config or CARDBANK_ANTHROPIC_API_KEY.

Example usage:
  cb generate -s Maths -t "Quadratic equations" -n 10
  cb generate -s Physics -t Waves --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		topic, _ := cmd.Flags().GetString("topic")
		examBoard, _ := cmd.Flags().GetString("exam-board")
		count, _ := cmd.Flags().GetInt("count")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		logger := newCLILogger("[generate] ")

		gen, err := genai.New(genai.Config{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
			Logger: logger,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Drafting %d card(s) for %s / %s...\n", ui.RenderAccent("→"), count, subject, topic)

		cards, err := gen.Generate(cmd.Context(), genai.Request{
			Subject:   subject,
			Topic:     topic,
			ExamBoard: examBoard,
			Count:     count,
		})
		if err != nil {
			return err
		}

		for _, c := range cards {
			fmt.Println()
			fmt.Println(ui.CardQuestion(c))
			fmt.Println(ui.CardAnswer(c))
		}

		if dryRun {
			fmt.Printf("\n%s Dry run; nothing saved\n", ui.Faint("·"))
			return nil
		}

		client, tokens, err := newStoreClient(logger)
		if err != nil {
			return err
		}

		snap, err := fetchSnapshot(cmd.Context(), client, logger)
		if err != nil {
			return err
		}

		items, added := reconcile.AddCardsToBank(snap.Items, cards, time.Now())
		snap.Items = make([]any, len(items))
		for i, item := range items {
			snap.Items[i] = item
		}

		coord := newCoordinator(client, tokens, logger)
		defer coord.Close()

		if err := saveSnapshot(coord, snap); err != nil {
			return fmt.Errorf("failed to save generated cards: %w", err)
		}

		fmt.Printf("\n%s Saved %d card(s)\n", ui.RenderPass("✓"), added)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringP("subject", "s", "", "Subject the cards belong to (required)")
	generateCmd.Flags().StringP("topic", "t", "", "Topic the cards belong to (required)")
	generateCmd.Flags().String("exam-board", "", "Exam board to target")
	generateCmd.Flags().IntP("count", "n", 5, "Number of cards to draft")
	generateCmd.Flags().Bool("dry-run", false, "Preview without saving")
	_ = generateCmd.MarkFlagRequired("subject")
	_ = generateCmd.MarkFlagRequired("topic")
	rootCmd.AddCommand(generateCmd)
}
