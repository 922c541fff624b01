package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/utils"
)

func init() {
	configCmd := newConfigCmd()
	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigPathCmd())
	configCmd.AddCommand(newConfigExportCmd())
	rootCmd.AddCommand(configCmd)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Manage the PixRelay config file",
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config with every backend section",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			path := resolveConfigPath()
			if utils.FileExists(path) && !force {
				return fmt.Errorf("config already exists at %s, use --force to overwrite", path)
			}

			cfg := config.Default()
			cfg.Path = path
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", green(path))
			fmt.Fprintf(cmd.OutOrStdout(), "Add backend credentials, then try '%s'\n", cyan("pixrelay backends test"))
			return nil
		},
	}

	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")
	return initCmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
			return err
		},
	}
}

func newConfigExportCmd() *cobra.Command {
	var format string

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Print the config with credentials masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			out, err := renderConfig(cfg.Masked(), format)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err
		},
	}

	exportCmd.Flags().StringVar(&format, "format", "yaml", "output format, yaml or json")
	return exportCmd
}

// renderConfig serializes a masked config. The yaml path goes through a
// json round trip so the exported keys match the config file's own
// snake_case names.
func renderConfig(cfg *config.Config, format string) ([]byte, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml":
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		var tree map[string]any
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, err
		}
		return yaml.Marshal(tree)
	default:
		return nil, fmt.Errorf("unknown format %q, want yaml or json", format)
	}
}
