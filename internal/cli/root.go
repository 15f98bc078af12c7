package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ipkmk",
		Short: "Build opkg packages from shell-script recipes",
		Long: `Ipkmk builds installable .ipk packages from recipe directories and
publishes them into a file-based repository with a Packages index.

A recipe directory contains a file named 'package' holding shell-script
declarations that describe how to fetch, build and package a piece of
software for one or more target architectures.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	rootCmd.AddCommand(NewBuildCmd())
	rootCmd.AddCommand(NewIndexCmd())

	return rootCmd
}
