package main

import (
	"fmt"

	"github.com/koustreak/sqlpoll/internal/poller"
	"github.com/spf13/cobra"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or clear the stored cursor",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored cursor",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}

		store, closeStore, err := poller.NewStore(cmd.Context(), cfg.State)
		if err != nil {
			return err
		}
		defer closeStore()

		v, ok, err := store.Read(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "no cursor stored")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", v, v.Kind())
		return nil
	},
}

var cursorClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored cursor so the next run starts from the beginning",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		store, closeStore, err := poller.NewStore(cmd.Context(), cfg.State)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		log.Info("Cursor cleared")
		return nil
	},
}

func init() {
	cursorCmd.AddCommand(cursorShowCmd, cursorClearCmd)
}
