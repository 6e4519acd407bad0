package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/infra/sched"
)

func reconcileCmd(opts *rootOptions) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass, or re-fetch a single payment with --ref",
		Example: "  drivepass-billing reconcile\n" +
			"  drivepass-billing reconcile --ref mercadopago:1234567890",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			// events go to the log only; a one-shot run must not block on a broker
			webhooks := a.webhooks(nil, nil)
			out := cmd.OutOrStdout()

			if ref != "" {
				pr, err := parseRef(ref)
				if err != nil {
					return err
				}
				o, err := webhooks.Refetch(ctx, pr)
				if err != nil {
					return err
				}
				for _, p := range o.Payments {
					fmt.Fprintf(out, "%s:%s payment=%s status=%s user_package=%s stage=%s\n",
						p.Ref.Provider, p.Ref.ExternalID, p.PaymentID, p.Status, p.UserPackageID, p.Stage)
				}
				if o.Err != nil {
					return fmt.Errorf("refetch stopped at %s: %w", o.Stage, o.Err)
				}
				return nil
			}

			sc := a.cfg.Scheduler
			rep, err := sched.NewPaymentReconciler(webhooks, a.payments, sc.ReconcileInterval, sc.StaleAfter, sc.BatchSize, a.log).RunOnce(ctx)
			fmt.Fprintf(out, "refetched=%d activated=%d failed=%d\n", rep.Refetched, rep.Activated, rep.Failed)
			return err
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "provider:external_id of a single payment to re-fetch")
	return cmd
}

func parseRef(s string) (model.ProviderRef, error) {
	name, id, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return model.ProviderRef{}, fmt.Errorf("ref %q: expected provider:external_id", s)
	}
	p, ok := model.ParseProvider(name)
	if !ok {
		return model.ProviderRef{}, fmt.Errorf("ref %q: unknown provider %q", s, name)
	}
	return model.ProviderRef{Provider: p, ExternalID: strings.TrimSpace(id)}, nil
}
