// Command catctl validates and imports item banks and simulates adaptive
// test sessions against them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-cat/internal/itembank"
	"github.com/p-n-ai/pai-cat/internal/platform/config"
	"github.com/p-n-ai/pai-cat/internal/platform/database"
)

// bankFlags select an item bank for any subcommand that reads one.
type bankFlags struct {
	source      string
	path        string
	sheet       string
	databaseURL string
}

func (f *bankFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", itembank.SourceStatic, "item bank source: static, dir, xlsx or postgres")
	cmd.Flags().StringVar(&f.path, "path", "", "item directory or workbook path")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "workbook sheet (first sheet when empty)")
	cmd.Flags().StringVar(&f.databaseURL, "database-url", os.Getenv("CAT_DATABASE_URL"), "PostgreSQL URL for the postgres source")
}

// provider opens the selected source. The returned close func is never nil.
func (f *bankFlags) provider(ctx context.Context) (itembank.Provider, func(), error) {
	var pool *pgxpool.Pool
	closeFn := func() {}
	if f.source == itembank.SourcePostgres {
		db, err := database.Open(ctx, config.DatabaseConfig{URL: f.databaseURL, MaxConns: 2, MinConns: 1})
		if err != nil {
			return nil, closeFn, err
		}
		pool = db.Pool
		closeFn = db.Close
	}

	p, err := itembank.NewProvider(itembank.Source{Kind: f.source, Path: f.path, Sheet: f.sheet}, pool)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return p, closeFn, nil
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "catctl",
		Short:         "Manage item banks and simulate adaptive tests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid --log-level %q", logLevel)
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	root.AddCommand(newBankCmd(), newSimulateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
