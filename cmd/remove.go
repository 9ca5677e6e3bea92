package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/wowpkg/internal/manager"
)

var removeKeepFolders bool

var removeCmd = &cobra.Command{
	Use:   "remove <source:alias>...",
	Short: "Remove installed addons",
	Long: `Remove one or more installed addons. Folders go to the profile's
trash rather than being deleted, so a removal can be undone by hand.

Examples:
  wowpkg remove curse:pfquest
  wowpkg remove curse:pfquest --keep-folders`,
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

		results := a.manager.Remove(cmd.Context(), defns, manager.Options{KeepFolders: removeKeepFolders})
		return printResults(results, "removed")
	},
}

func init() {
	removeCmd.Flags().BoolVar(&removeKeepFolders, "keep-folders", false, "Drop the record but leave folders on disk")
	rootCmd.AddCommand(removeCmd)
}
