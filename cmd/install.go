package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/wowpkg/internal/manager"
)

var (
	installReplace bool
	installDryRun  bool
)

var installCmd = &cobra.Command{
	Use:   "install <source:alias|url>...",
	Short: "Install addons from their sources",
	Long: `Install one or more addons. References are source:alias pairs or
pasted repository/addon page URLs; required dependencies are installed
along with them.

Examples:
  wowpkg install curse:pfquest
  wowpkg install curse:deadly-boss-mods github:WeakAuras/WeakAuras2
  wowpkg install https://github.com/shagu/pfQuest
  wowpkg install turtle:shagu/ShaguTweaks==1.2.0`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		defns, err := a.parseDefns(args)
		if err != nil {
			return err
		}

		opts := manager.Options{Replace: installReplace, DryRun: installDryRun}
		results, err := runBatch(cmd.Context(), "Installing addons", defns, opts, a.manager.Install)
		if err != nil {
			return err
		}
		return printResults(results, "installed")
	},
}

func init() {
	installCmd.Flags().BoolVar(&installReplace, "replace", false, "Trash conflicting unmanaged folders instead of failing")
	installCmd.Flags().BoolVar(&installDryRun, "dry-run", false, "Resolve and report without touching the filesystem")
	rootCmd.AddCommand(installCmd)
}
