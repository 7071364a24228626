package main

import (
	"context"
	"time"

	"github.com/dkeye/Mesh/internal/adapters/wsclient"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a room and print its id",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		spinner, _ := pterm.DefaultSpinner.Start("Contacting relay...")
		room, err := wsclient.New(cfg.Peer.SignalURL).CreateRoom(ctx)
		if err != nil {
			spinner.Fail("create room failed")
			return err
		}
		spinner.Success("room created")
		pterm.Println(string(room))
		return nil
	},
}
