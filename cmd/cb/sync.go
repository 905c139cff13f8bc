package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardbank/cardbank/internal/model"
	"github.com/cardbank/cardbank/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Fetch the remote record into the local cache",
	Long: `Fetch the card-bank record from the remote store and cache it locally.

The cached copy backs offline study sessions and listings. Corrupt
JSON in remote fields is recovered where possible and degrades to
empty collections otherwise, so a damaged field never blocks the rest
of the record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newCLILogger("[sync] ")

		client, _, err := newStoreClient(logger)
		if err != nil {
			return err
		}

		fmt.Printf("%s Fetching record...\n", ui.RenderAccent("→"))
		start := time.Now()

		snap, err := fetchSnapshot(cmd.Context(), client, logger)
		if err != nil {
			return err
		}

		shells, cards := model.SplitByType(snap.Items)

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Record: %s\n", snap.RecordID)
		fmt.Printf("   Cards: %d\n", len(cards))
		fmt.Printf("   Topics: %d\n", len(shells))
		fmt.Printf("   Subjects: %d\n", len(snap.ColorMap))
		if !snap.LastSaved.IsZero() {
			fmt.Printf("   Last saved: %s\n", snap.LastSaved.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("   Cache: %s\n", cfg.CachePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
