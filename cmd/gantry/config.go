package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/config"
)

// newConfigCmd builds the 'config' command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the gantry configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

// newConfigInitCmd writes a default gantry.yaml, either to the user config
// directory or to an explicit path.
func newConfigInitCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default gantry.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := cliConfig{Workers: 5, Interval: "20ms"}
			for key, value := range configDefaults() {
				switch key {
				case "artifacts.root":
					defaults.Artifacts.Root = value.(string)
				case "history.dsn":
					defaults.History.DSN = value.(string)
				}
			}

			target := path
			if target == "" {
				userPath, err := config.Path(false)
				if err != nil {
					return err
				}
				target = userPath
			}
			if err := config.WriteTo(&defaults, target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "write the file here instead of the user config directory")
	return cmd
}
