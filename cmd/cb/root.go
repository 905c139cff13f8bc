package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cardbank/cardbank/internal/auth"
	"github.com/cardbank/cardbank/internal/cache"
	"github.com/cardbank/cardbank/internal/config"
	"github.com/cardbank/cardbank/internal/coordinator"
	"github.com/cardbank/cardbank/internal/model"
	"github.com/cardbank/cardbank/internal/store"
)

var (
	cfgFile string
	cfg     *config.Config
	cfgV    *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "cb",
	Short: "Leitner-box flashcard sync and study from the terminal",
	Long: `cb keeps a Leitner-box flashcard bank in a remote keyed-record store
and makes it usable from the terminal.

The remote record is the source of truth: cards, topic shells, topic
lists, colors, and box assignments all live in JSON-string fields of a
single per-user record. cb fetches, reconciles, and saves that record
with field preservation so concurrent writers never truncate each
other's data.

Common workflows:
  cb sync                     # fetch the record into the local cache
  cb study --subject Maths    # review due cards, answers move boxes
  cb topics                   # list topic shells with their colors
  cb serve                    # run the websocket bridge for a UI`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, cfgV, err = config.Load(cfgFile)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./cardbank.yaml, ~/.cardbank/cardbank.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Card bank commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced commands:"},
	)
}

// newStoreClient wires the token source and record client from config.
func newStoreClient(logger *log.Logger) (*store.Client, *auth.TokenSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	tokens := auth.New(auth.Config{
		Token:      cfg.AuthToken,
		RefreshURL: cfg.TokenRefreshURL,
		Logger:     logger,
	})

	client, err := store.New(store.Config{
		BaseURL: cfg.StoreBaseURL,
		APIKey:  cfg.StoreAPIKey,
		Tokens:  tokens,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, tokens, nil
}

func newCoordinator(client *store.Client, tokens *auth.TokenSource, logger *log.Logger) *coordinator.Coordinator {
	return coordinator.New(client, tokens, &coordinator.Config{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		Logger:     logger,
	})
}

// resolveRecordID returns the configured record id, falling back to a
// user-id lookup against the store.
func resolveRecordID(ctx context.Context, client *store.Client) (string, error) {
	if cfg.RecordID != "" {
		return cfg.RecordID, nil
	}
	if cfg.UserID == "" {
		return "", fmt.Errorf("record_id or user_id must be configured")
	}
	id, err := client.FindRecordByUser(ctx, cfg.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve record id for user %s: %w", cfg.UserID, err)
	}
	return id, nil
}

// fetchSnapshot pulls the remote record and refreshes the local cache.
func fetchSnapshot(ctx context.Context, client *store.Client, logger *log.Logger) (model.Snapshot, error) {
	recordID, err := resolveRecordID(ctx, client)
	if err != nil {
		return model.Snapshot{}, err
	}

	rec, err := client.GetRecord(ctx, recordID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("failed to fetch record %s: %w", recordID, err)
	}
	snap := store.DecodeSnapshot(recordID, rec)

	if db, err := cache.Open(cfg.CachePath); err == nil {
		if err := db.SaveSnapshot(ctx, snap, time.Now()); err != nil {
			logger.Printf("Warning: failed to cache snapshot: %v", err)
		}
		_ = db.Close()
	} else {
		logger.Printf("Warning: failed to open cache: %v", err)
	}

	return snap, nil
}

// cachedSnapshot loads the last-fetched copy from the local cache.
func cachedSnapshot(ctx context.Context) (model.Snapshot, error) {
	db, err := cache.Open(cfg.CachePath)
	if err != nil {
		return model.Snapshot{}, err
	}
	defer db.Close()

	recordID := cfg.RecordID
	if recordID == "" {
		ids, err := db.RecordIDs(ctx)
		if err != nil || len(ids) == 0 {
			return model.Snapshot{}, fmt.Errorf("no cached record; run 'cb sync' first")
		}
		recordID = ids[0]
	}

	snap, _, err := db.LoadSnapshot(ctx, recordID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("no cached copy of %s; run 'cb sync' first", recordID)
	}
	return snap, nil
}

// saveSnapshot encodes and enqueues a field-preserving save, waiting
// for the outcome.
func saveSnapshot(coord *coordinator.Coordinator, snap model.Snapshot) error {
	op := &coordinator.Operation{
		Type:           coordinator.OpSave,
		RecordID:       snap.RecordID,
		Fields:         store.EncodeSnapshot(snap, time.Now()),
		PreserveFields: true,
	}
	return <-coord.Enqueue(op)
}

func newCLILogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}
