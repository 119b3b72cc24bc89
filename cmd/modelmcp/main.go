package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "modelmcp",
		Short:        "MCP tool server exposing CRUD tools for declared models",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	rootCmd.AddCommand(newServeCmd(), newStdioCmd(), newToolsCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
