package main

import (
	"github.com/dkeye/Mesh/internal/adapters/device"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the capture devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		devs, err := device.NewSynthetic().EnumerateDevices(cmd.Context())
		if err != nil {
			return err
		}
		data := pterm.TableData{{"Kind", "Device", "Label"}}
		for _, d := range devs {
			data = append(data, []string{string(d.Kind), d.DeviceID, d.Label})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}
