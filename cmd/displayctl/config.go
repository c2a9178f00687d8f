package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/displayctl/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage displayctl configuration files",
	}

	var (
		out   string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(out, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&out, "out", "o", "displayctl.toml", "destination path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Load and validate a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			for _, d := range cfg.Displays {
				fmt.Fprintf(cmd.OutOrStdout(), "%s transport=%s display_id=%d\n", d.Name, d.Transport, d.DisplayID)
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
