package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-cat/internal/itembank"
	"github.com/p-n-ai/pai-cat/internal/platform/config"
	"github.com/p-n-ai/pai-cat/internal/platform/database"
)

func newBankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Inspect and import item banks",
	}
	cmd.AddCommand(newBankValidateCmd(), newBankImportCmd())
	return cmd
}

func newBankValidateCmd() *cobra.Command {
	var flags bankFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a bank and report how many items are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, closeFn, err := flags.provider(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			raw, err := p.FetchAll(ctx)
			if err != nil {
				return fmt.Errorf("fetching items: %w", err)
			}
			bank, err := itembank.New(raw)
			if err != nil {
				return err
			}

			topics := map[string]int{}
			for _, it := range bank.Items() {
				for _, tag := range it.TopicTags {
					topics[tag]++
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "records: %d\n", len(raw))
			fmt.Fprintf(out, "usable:  %d\n", bank.Len())
			fmt.Fprintf(out, "skipped: %d\n", len(raw)-bank.Len())
			fmt.Fprintf(out, "topics:  %d\n", len(topics))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newBankImportCmd() *cobra.Command {
	var flags bankFlags

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a file bank and upsert its usable items into PostgreSQL",
		Long: "Reads items from a static, dir or xlsx source and writes the ones that pass\n" +
			"validation into the quiz_questions table at --database-url.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if flags.source == itembank.SourcePostgres {
				return fmt.Errorf("import reads from static, dir or xlsx sources")
			}
			p, err := itembank.NewProvider(itembank.Source{Kind: flags.source, Path: flags.path, Sheet: flags.sheet}, nil)
			if err != nil {
				return err
			}
			raw, err := p.FetchAll(ctx)
			if err != nil {
				return fmt.Errorf("fetching items: %w", err)
			}
			usable, err := usableItems(raw)
			if err != nil {
				return err
			}

			db, err := database.Open(ctx, config.DatabaseConfig{URL: flags.databaseURL, MaxConns: 2, MinConns: 1})
			if err != nil {
				return err
			}
			defer db.Close()

			target, err := itembank.NewPostgresProvider(db.Pool)
			if err != nil {
				return err
			}
			if err := target.EnsureSchema(ctx); err != nil {
				return err
			}
			if err := target.Upsert(ctx, usable); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d items (%d skipped)\n", len(usable), len(raw)-len(usable))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// usableItems returns the records that pass validation, in input order. A
// duplicate id keeps its first usable record, as itembank.New does.
func usableItems(raw []itembank.RawItem) ([]itembank.RawItem, error) {
	if len(raw) == 0 {
		return nil, itembank.ErrNoItems
	}
	seen := make(map[string]bool, len(raw))
	out := make([]itembank.RawItem, 0, len(raw))
	for _, r := range raw {
		item, err := itembank.Validate(r)
		if err != nil {
			slog.Warn("skipping item", "item_id", r.ID, "error", err)
			continue
		}
		if seen[item.ID] {
			slog.Warn("skipping item", "item_id", item.ID, "error", "duplicate id")
			continue
		}
		seen[item.ID] = true
		r.ID = item.ID
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, itembank.ErrEmptyBank
	}
	return out, nil
}
