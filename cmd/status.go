package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxagent/internal/config"
	"github.com/teemow/inboxagent/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <message-id>",
		Short: "Show whether a message was processed and answered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			return printStatus(cmd.Context(), cmd.OutOrStdout(), st, args[0])
		},
	}
}

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreRedis:
		return store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case config.StoreSQLite:
		return store.NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func printStatus(ctx context.Context, w io.Writer, st store.IdempotencyStore, messageID string) error {
	rec, err := st.Record(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(w, "message %s: not processed\n", messageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up %s: %w", messageID, err)
	}

	fmt.Fprintf(w, "message:   %s\n", rec.MessageID)
	fmt.Fprintf(w, "thread:    %s\n", rec.ThreadID)
	fmt.Fprintf(w, "subject:   %s\n", rec.Subject)
	fmt.Fprintf(w, "processed: %s\n", rec.ProcessedAt.Format(time.RFC3339))
	if rec.Responded() {
		fmt.Fprintf(w, "responded: %s\n", rec.RespondedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "responded: no")
	}
	return nil
}
