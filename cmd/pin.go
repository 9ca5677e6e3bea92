package cmd

import (
	"github.com/spf13/cobra"
)

var pinRelease bool

var pinCmd = &cobra.Command{
	Use:   "pin <source:alias>...",
	Short: "Pin addons to their installed version",
	Long: `Pin addons so updates keep them at the version currently installed.
Pinning only touches the record; nothing is downloaded.

Examples:
  wowpkg pin curse:pfquest
  wowpkg pin --release curse:pfquest   # unpin`,
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

		verb := "pinned"
		if pinRelease {
			verb = "unpinned"
		}
		results := a.manager.Pin(cmd.Context(), defns, pinRelease)
		return printResults(results, verb)
	},
}

func init() {
	pinCmd.Flags().BoolVar(&pinRelease, "release", false, "Release an existing pin instead of adding one")
	rootCmd.AddCommand(pinCmd)
}
