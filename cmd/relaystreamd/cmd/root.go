package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "relaystreamd",
	Short: "Virtual byte-addressable media streaming daemon",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "path to config file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
