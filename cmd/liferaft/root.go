package main

import (
	"github.com/spf13/cobra"

	"github.com/meshchat/liferaft/internal/version"
)

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "liferaft",
		Short:   "Offline-first update and distribution gateway",
		Long:    "liferaft keeps a locally installed application serving correctly across indefinite offline periods: tiered response caching, two-generation update transitions, and peer-delivered bundle serving.",
		Version: version.Version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to liferaft.yaml (default: search working directory)")

	root.AddCommand(newServeCommand(&configPath))
	return root
}
