package main

import (
	"os"

	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	v   = newViper()
	cfg *config.Config
)

func newViper() *viper.Viper {
	// Quiet until the config says otherwise; the terminal belongs to pterm.
	logging.Setup("warn", true)
	return config.New()
}

var rootCmd = &cobra.Command{
	Use:   "meshpeer",
	Short: "Headless WebRTC mesh participant",
	Long: `meshpeer joins a room on a Mesh relay and connects to every other member directly.

Examples:
  meshpeer create
  meshpeer join 1a2b3c4d --name alice --video
  meshpeer devices`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		logging.Setup(cfg.LogLevel, true)
		if cfg.LogLevel == "debug" || cfg.LogLevel == "trace" {
			pterm.EnableDebugMessages()
		}
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("signal", "", "relay WebSocket URL")
	f.StringSlice("ice", nil, "STUN/TURN urls")
	f.Bool("loopback", false, "gather loopback candidates (single-host meshes)")
	f.String("log-level", "", "zerolog level")
	mustBind("peer.signal_url", f.Lookup("signal"))
	mustBind("peer.ice_servers", f.Lookup("ice"))
	mustBind("peer.loopback", f.Lookup("loopback"))
	mustBind("log_level", f.Lookup("log-level"))

	rootCmd.AddCommand(createCmd, joinCmd, devicesCmd)
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}
