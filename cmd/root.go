package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/wowpkg/internal/logger"
)

// Version info set via ldflags at build time
var (
	version = "dev"
	commit  = "unknown"
)

var (
	verbose     bool
	profileName string
)

var rootCmd = &cobra.Command{
	Use:     "wowpkg",
	Short:   "Multi-source WoW addon package manager",
	Version: version + " (" + commit + ")",
	Long: `wowpkg installs, updates and reconciles World of Warcraft addons
from CurseForge, GitHub releases and git-hosted repositories.

Quick start:
  wowpkg search quest          Find addons in the catalogue
  wowpkg install curse:pfquest Install a package
  wowpkg update                Update everything
  wowpkg reconcile             Adopt addons installed by hand`,
}

func Execute() {
	defer logger.Close()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logger.Init(verbose)
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "Profile to operate on (default profile when empty)")
}
