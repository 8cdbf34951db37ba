package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "smlgpt",
	Short:        "Safety document analysis backend",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("SMLGPT_CONFIG"), "Path to configuration file")
}
