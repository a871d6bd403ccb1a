package main

import (
	"fmt"
	"os"

	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"

	"github.com/smite-net/smite-node/lib/config"
)

var log = logger.GetGoI2PLogger()

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "smite-node",
	Short: "Supervises rathole and backhaul tunnel clients for a Smite node",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return config.InitConfig()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "",
		fmt.Sprintf("config file (default $HOME/%s/config.yaml)", config.SMITE_BASE_DIR))
	rootCmd.AddCommand(runCmd, renderCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the node version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "smite-node", Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("smite-node exited with error")
		os.Exit(1)
	}
}
