package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xscopehub/modelmcp/internal/config"
	"github.com/xscopehub/modelmcp/internal/registry"
	"github.com/xscopehub/modelmcp/internal/store"
	"github.com/xscopehub/modelmcp/internal/tools"
	"github.com/xscopehub/modelmcp/pkg/manifest"
)

func newToolsCmd() *cobra.Command {
	var modelsFile string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool descriptors generated from the models file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelsFile == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				modelsFile = cfg.ModelsFile
			}
			descs, err := manifest.LoadDescriptors(modelsFile)
			if err != nil {
				return err
			}
			reg := registry.New(tools.NewFactory(store.NewMemory()), nil)
			if err := reg.Rebuild(descs); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"tools": reg.Tools().List()})
		},
	}
	cmd.Flags().StringVar(&modelsFile, "models", "", "models file (defaults to models_file from config)")
	return cmd
}
