package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/version"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// logLevel drives the stderr handler. The file handler stays on debug.
var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:     "pixrelay",
	Short:   "Upload one image to many hosting backends at once",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// credentials may live in a .env next to where the command runs
		_ = godotenv.Load()

		viper.SetEnvPrefix("PIXRELAY")
		viper.AutomaticEnv()
		for _, name := range []string{"config", "debug", "quiet"} {
			if err := viper.BindPFlag(name, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
				return err
			}
		}

		switch {
		case viper.GetBool("debug"):
			logLevel.Set(slog.LevelDebug)
		case viper.GetBool("quiet"):
			logLevel.Set(slog.LevelWarn)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().Bool("debug", false, "verbose logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "warnings and errors only")
}

// resolveConfigPath follows flag, then PIXRELAY_CONFIG, then the default.
func resolveConfigPath() string {
	if path := viper.GetString("config"); path != "" {
		return path
	}
	return config.DefaultConfigPath
}

// errNoConfig marks a missing config file so commands that can run
// without one may degrade instead of failing.
var errNoConfig = errors.New("no config file")

// loadCLIConfig reads the resolved config file. A missing file gets a
// hint instead of a bare stat error.
func loadCLIConfig() (*config.Config, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s, run '%s' first", errNoConfig, path, cyan("pixrelay config init"))
		}
		return nil, err
	}
	return cfg, nil
}
