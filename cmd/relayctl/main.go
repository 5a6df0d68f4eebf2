package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskrelay/internal/app"
	"taskrelay/internal/config"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operate the task relay: tables, passes, journal, users",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (default $TASKRELAY_CONFIG)")

	open := func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg, os.Stderr)
	}

	rootCmd.AddCommand(initCmd(open))
	rootCmd.AddCommand(syncCmd(open))
	rootCmd.AddCommand(taskCmd(open))
	rootCmd.AddCommand(journalCmd(open))
	rootCmd.AddCommand(userCmd(open))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type opener func(ctx context.Context) (*app.App, error)

func initCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.EnsureTables(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "tables ready")
			return nil
		},
	}
}
