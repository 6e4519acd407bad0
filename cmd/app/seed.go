package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
)

type seedPackage struct {
	id, name             string
	price                string
	hours, classes, sims int
	support              bool
}

var defaultCatalog = []seedPackage{
	{"essencial", "Essencial", "197.00", 10, 20, 5, false},
	{"completo", "Completo", "297.00", 20, model.Unlimited, model.Unlimited, true},
	{"premium", "Premium", "497.00", 40, model.Unlimited, model.Unlimited, true},
}

func seedCmd(opts *rootOptions) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the default package catalog when it is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if reset {
				if a.cfg.IsProduction() {
					return fmt.Errorf("refusing to reset a production database")
				}
				if _, err := a.db.Exec(ctx, `TRUNCATE user_packages, payments, packages`); err != nil {
					return fmt.Errorf("reset: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ledger and catalog wiped")
			}
			return seedCatalog(ctx, cmd.OutOrStdout(), a.tm, a.packages)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "wipe payments, user packages and the catalog first (non-production only)")
	return cmd
}

func seedCatalog(ctx context.Context, out io.Writer, tm repository.TransactionManager, packages repository.PackageRepository) error {
	existing, err := packages.ListActive(ctx, nil)
	if err != nil {
		return fmt.Errorf("list packages: %w", err)
	}
	if len(existing) > 0 {
		fmt.Fprintf(out, "%d packages already present. No changes.\n", len(existing))
		for _, p := range existing {
			fmt.Fprintf(out, "  - %s %s (%s %s)\n", p.ID, p.Name, p.Price.StringFixed(2), p.Currency)
		}
		return nil
	}

	return tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		for _, s := range defaultCatalog {
			p, err := model.NewPackage(s.id, s.name, decimal.RequireFromString(s.price), "BRL", s.hours, s.classes, s.sims, s.support)
			if err != nil {
				return fmt.Errorf("package %q: %w", s.id, err)
			}
			if err := packages.Save(ctx, tx, p); err != nil {
				return fmt.Errorf("save %q: %w", s.id, err)
			}
			fmt.Fprintf(out, "seeded: %s (%s BRL)\n", p.Name, p.Price.StringFixed(2))
		}
		return nil
	})
}
