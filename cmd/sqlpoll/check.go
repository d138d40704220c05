package main

import (
	"context"
	"fmt"

	"github.com/koustreak/sqlpoll/internal/poller"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and connect once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		// check must not touch the stored cursor
		checkCfg := *cfg
		checkCfg.State.CleanRun = false

		engine, err := poller.New(cmd.Context(), &checkCfg, log)
		if err != nil {
			return err
		}
		defer engine.Shutdown(context.Background())

		if err := engine.Check(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration ok, cursor %s\n", engine.Cursor())
		return nil
	},
}
