package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cardbank/cardbank/internal/bridge"
	"github.com/cardbank/cardbank/internal/cache"
	"github.com/cardbank/cardbank/internal/config"
	"github.com/cardbank/cardbank/internal/store"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the websocket bridge and save coordinator",
	Long: `Run the websocket bridge that a presentation layer connects to.

The bridge accepts typed {type, data} messages from verified origins:
- SAVE_DATA: merge topic shells and queue a field-preserving save
- ADD_TO_BANK: fold new cards into the bank and queue a save
- REQUEST_UPDATED_DATA: fetch and return the current record
- REQUEST_RECORD_ID: look up the user's record id
- REQUEST_TOKEN_REFRESH: refresh the bearer token

Saves are serialized through a single queue with retry, backoff, and
one token refresh on authorization failure. After every successful
save the refreshed record is broadcast to all connected clients.

Example usage:
  cb serve                      # listen on the configured port
  cb serve --port 9000          # override the port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port != 0 {
			cfg.BridgePort = port
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logOut := io.Writer(os.Stderr)
		if cfg.LogFile != "" {
			logOut = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			})
		}

		client, tokens, err := newStoreClient(log.New(logOut, "[store] ", log.LstdFlags))
		if err != nil {
			return err
		}

		coord := newCoordinator(client, tokens, log.New(logOut, "[coordinator] ", log.LstdFlags))
		defer coord.Close()

		handler := bridge.NewHandler(bridge.HandlerConfig{
			Records: client,
			Saves:   coord,
			Tokens:  tokens,
			UserID:  cfg.UserID,
			Logger:  log.New(logOut, "[bridge] ", log.LstdFlags),
		})

		server := bridge.NewServer(&bridge.Config{
			Port:           cfg.BridgePort,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         log.New(logOut, "[bridge] ", log.LstdFlags),
		}, handler)

		serveLog := log.New(logOut, "[serve] ", log.LstdFlags)

		// After each save, push the fresh record to every client and
		// update the local cache.
		coord.OnSaved(func(recordID string) {
			ctx := context.Background()
			rec, err := client.GetRecord(ctx, recordID)
			if err != nil {
				serveLog.Printf("Post-save refresh failed for %s: %v", recordID, err)
				return
			}
			snap := store.DecodeSnapshot(recordID, rec)

			if db, err := cache.Open(cfg.CachePath); err == nil {
				if err := db.SaveSnapshot(ctx, snap, time.Now()); err != nil {
					serveLog.Printf("Failed to cache snapshot: %v", err)
				}
				_ = db.Close()
			}

			server.Broadcast(bridge.NewMessage(bridge.MessageTypeBankData, bridge.BankData{
				Cards:      snap.Items,
				ColorMap:   snap.ColorMap,
				TopicLists: snap.TopicLists,
				Metadata:   snap.Metadata,
				RecordID:   snap.RecordID,
				Auth:       tokens.Token(),
			}))
		})

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start bridge: %w", err)
		}

		// Hot-reload coordinator tunables on config file change
		config.Watch(cfgV, func(fresh *config.Config) {
			serveLog.Printf("Config reloaded (max_retries=%d, base_delay=%v)",
				fresh.MaxRetries, fresh.BaseDelay)
			cfg = fresh
		})

		fmt.Printf("Bridge started on ws://localhost:%d/ws\n", cfg.BridgePort)
		fmt.Printf("Health check: http://localhost:%d/health\n", cfg.BridgePort)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down bridge...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}

		fmt.Println("Bridge stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
