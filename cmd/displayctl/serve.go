package main

import (
	"github.com/spf13/cobra"

	"github.com/danmuck/displayctl/internal/config"
	"github.com/danmuck/displayctl/internal/fleet"
)

func serveCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the display fleet behind the HTTP control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return fleet.NewService(cfg, version).Run()
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "displayctl.toml", "path to the TOML configuration")
	return cmd
}
