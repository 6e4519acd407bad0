package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func revenueCmd(opts *rootOptions) *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "revenue",
		Short: "Print succeeded revenue per currency for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sums, err := a.payments.SumSucceededByPeriod(ctx, nil, period)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sums) == 0 {
				fmt.Fprintf(out, "no succeeded payments (%s)\n", period)
				return nil
			}
			currencies := make([]string, 0, len(sums))
			for c := range sums {
				currencies = append(currencies, c)
			}
			sort.Strings(currencies)
			for _, c := range currencies {
				fmt.Fprintf(out, "%s\t%s\n", c, sums[c].StringFixed(2))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "month", "day|week|month|year|all")
	return cmd
}
