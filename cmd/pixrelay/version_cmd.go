package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pixrelay/pixrelay/internal/version"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	var short bool

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print PixRelay version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := version.DetailedWithApp()
			if short {
				out = version.ShortWithApp()
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	versionCmd.Flags().BoolVar(&short, "short", false, "print the short form")
	return versionCmd
}
