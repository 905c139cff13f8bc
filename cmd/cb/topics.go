package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardbank/cardbank/internal/model"
	"github.com/cardbank/cardbank/internal/reconcile"
	"github.com/cardbank/cardbank/internal/ui"
)

var topicsCmd = &cobra.Command{
	Use:     "topics",
	GroupID: "core",
	Short:   "List and push topic shells",
	Long: `List the topic shells in the card bank, grouped by subject.

Each topic shell hangs off a subject, carries a derived shade of the
subject's color, and tracks which cards belong to it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		offline, _ := cmd.Flags().GetBool("offline")

		snap, err := loadForListing(cmd, offline)
		if err != nil {
			return err
		}

		shellMaps, cardMaps := model.SplitByType(snap.Items)
		cardCounts := map[string]int{}
		for _, m := range cardMaps {
			if topicID, _ := m["topicId"].(string); topicID != "" {
				cardCounts[topicID]++
			}
		}

		bySubject := map[string][]model.TopicShell{}
		for _, m := range shellMaps {
			shell := model.ShellFromMap(m)
			if subject != "" && !strings.EqualFold(subject, shell.Subject) {
				continue
			}
			bySubject[shell.Subject] = append(bySubject[shell.Subject], shell)
		}

		if len(bySubject) == 0 {
			fmt.Println(ui.Faint("No topics found."))
			return nil
		}

		subjects := make([]string, 0, len(bySubject))
		for s := range bySubject {
			subjects = append(subjects, s)
		}
		sort.Strings(subjects)

		for _, s := range subjects {
			fmt.Printf("\n%s %s\n", ui.Swatch(snap.ColorMap[s]), ui.RenderAccent(s))
			shells := bySubject[s]
			sort.Slice(shells, func(i, j int) bool { return shells[i].Name < shells[j].Name })
			for _, shell := range shells {
				count := cardCounts[shell.ID]
				if count == 0 {
					count = len(shell.Cards)
				}
				fmt.Printf("  %s\n", ui.TopicLine(shell.Name, shell.Color, count))
			}
		}
		fmt.Println()
		return nil
	},
}

var topicsPushCmd = &cobra.Command{
	Use:   "push <topics.json>",
	Short: "Merge a topic-list file into the card bank",
	Long: `Merge topic lists from a JSON file into the remote card bank.

The file holds an array of topic lists:
  [{"subject": "Maths", "examBoard": "AQA", "examType": "GCSE",
    "topics": [{"id": "t1", "name": "Algebra"}]}]

Existing shells keep their identity and cards when a topic is renamed;
new topics get shells with colors derived from the subject color. The
save preserves fields the merge does not touch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read topic list file: %w", err)
		}
		var lists []model.TopicList
		if err := json.Unmarshal(data, &lists); err != nil {
			return fmt.Errorf("failed to parse topic list file: %w", err)
		}
		if len(lists) == 0 {
			return fmt.Errorf("topic list file is empty")
		}

		logger := newCLILogger("[topics] ")
		client, tokens, err := newStoreClient(logger)
		if err != nil {
			return err
		}

		snap, err := fetchSnapshot(cmd.Context(), client, logger)
		if err != nil {
			return err
		}

		now := time.Now()
		merged := reconcile.MergeTopicShells(snap.Items, lists, snap.ColorMap, now)

		snap.Items = make([]any, len(merged.Items))
		for i, item := range merged.Items {
			snap.Items[i] = item
		}
		snap.ColorMap = merged.ColorMap
		snap.TopicLists = reconcile.MergeTopicLists(snap.TopicLists, lists)
		snap.Metadata = reconcile.MergeMetadata(snap.Metadata, merged.Metadata)

		coord := newCoordinator(client, tokens, logger)
		defer coord.Close()

		if err := saveSnapshot(coord, snap); err != nil {
			return fmt.Errorf("failed to save merged topics: %w", err)
		}

		fmt.Printf("%s Merged %d topic list(s) into %s\n", ui.RenderPass("✓"), len(lists), snap.RecordID)
		return nil
	},
}

func loadForListing(cmd *cobra.Command, offline bool) (model.Snapshot, error) {
	if offline {
		return cachedSnapshot(cmd.Context())
	}

	logger := newCLILogger("[topics] ")
	client, _, err := newStoreClient(logger)
	if err != nil {
		// Fall back to the cache when the store is not configured.
		if snap, cacheErr := cachedSnapshot(cmd.Context()); cacheErr == nil {
			fmt.Println(ui.RenderWarn("⚠") + ui.Faint(" store not configured; showing cached copy"))
			return snap, nil
		}
		return model.Snapshot{}, err
	}
	snap, err := fetchSnapshot(cmd.Context(), client, logger)
	if err != nil {
		if cached, cacheErr := cachedSnapshot(cmd.Context()); cacheErr == nil {
			fmt.Println(ui.RenderWarn("⚠") + ui.Faint(" store unreachable; showing cached copy"))
			return cached, nil
		}
		return model.Snapshot{}, err
	}
	return snap, nil
}

func init() {
	topicsCmd.Flags().StringP("subject", "s", "", "Limit to one subject")
	topicsCmd.Flags().Bool("offline", false, "Use the cached copy")
	topicsCmd.AddCommand(topicsPushCmd)
	rootCmd.AddCommand(topicsCmd)
}
