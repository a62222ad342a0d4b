package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"paygate/internal/config"
	"paygate/internal/db"
	"paygate/internal/events"
	"paygate/internal/types"
)

type ledgerEntry struct {
	Record *types.ProcessedEventRecord `json:"record"`
	Event  *types.PaymentEvent         `json:"event,omitempty"`
}

func ledgerCmd(c *cli) *cobra.Command {
	var dbURL string
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the processed-event ledger",
	}
	cmd.PersistentFlags().StringVar(&dbURL, "database-url", "", "PostgreSQL URL (default $DATABASE_URL)")

	get := &cobra.Command{
		Use:   "get <provider> <event-id>",
		Short: "Show the ledger entry and stored event for a provider event id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, ok := types.ParseProvider(args[0])
			if !ok {
				return fmt.Errorf("unsupported provider %q", args[0])
			}
			url, err := databaseURL(dbURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			pool, err := db.NewPool(ctx, config.DatabaseConfig{URL: config.SecretString(url), MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			return printLedgerEntry(ctx, cmd, db.NewPostgresStore(pool, events.NewCodec(), c.logger()), provider, args[1])
		},
	}

	cmd.AddCommand(get)
	return cmd
}

// ledgerReader is the read side of db.Store used by `ledger get`.
type ledgerReader interface {
	GetProcessed(ctx context.Context, provider types.Provider, eventID string) (*types.ProcessedEventRecord, error)
	GetEvent(ctx context.Context, provider types.Provider, eventID string) (*types.PaymentEvent, error)
}

func printLedgerEntry(ctx context.Context, cmd *cobra.Command, store ledgerReader, provider types.Provider, eventID string) error {
	rec, err := store.GetProcessed(ctx, provider, eventID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no ledger entry for %s/%s", provider, eventID)
	}
	ev, err := store.GetEvent(ctx, provider, eventID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(ledgerEntry{Record: rec, Event: ev})
}
