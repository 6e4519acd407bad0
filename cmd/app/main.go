package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	var opts rootOptions
	rootCmd := &cobra.Command{
		Use:           "drivepass-billing",
		Short:         "DrivePass payment reconciliation and entitlement service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config file (environment variables override it)")
	rootCmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "developer mode (console logs, sandbox gateways)")

	rootCmd.AddCommand(serveCmd(&opts))
	rootCmd.AddCommand(reconcileCmd(&opts))
	rootCmd.AddCommand(seedCmd(&opts))
	rootCmd.AddCommand(revenueCmd(&opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	dev        bool
}
