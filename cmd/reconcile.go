package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/manager"
	"github.com/bnema/wowpkg/internal/ui/picker"
	"github.com/bnema/wowpkg/internal/ui/styles"
)

var (
	reconcileAuto   bool
	reconcileDryRun bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Adopt addons that were installed by hand",
	Long: `Match unmanaged folders in the AddOns directory against the
catalogue and adopt them as managed packages. Matching runs several
passes, from embedded source ids down to name similarity; each matched
folder group is confirmed interactively unless --auto takes the best
candidate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		leftovers, err := a.manager.Leftovers(ctx)
		if err != nil {
			return err
		}
		if len(leftovers) == 0 {
			cmd.Println("Nothing to reconcile.")
			return nil
		}

		groups, err := a.manager.FindGroups(ctx, leftovers)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			cmd.Println(styles.FormatWarning(fmt.Sprintf("%d unmanaged folders, none matched the catalogue", len(leftovers))))
			return nil
		}

		var adopt []addon.Defn
		if reconcileAuto {
			for _, g := range groups {
				adopt = append(adopt, g.Candidates[0])
			}
		} else {
			m := picker.NewModel(groups)
			final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			if err != nil {
				return err
			}
			for _, c := range final.(picker.Model).Choices() {
				if c.Picked {
					adopt = append(adopt, c.Defn)
				}
			}
		}
		if len(adopt) == 0 {
			cmd.Println("Nothing adopted.")
			return nil
		}

		// The matched folders are already on disk, so adoption always
		// replaces them with the source's build.
		opts := manager.Options{Replace: true, DryRun: reconcileDryRun}
		results, err := runBatch(ctx, "Adopting addons", adopt, opts, a.manager.Install)
		if err != nil {
			return err
		}
		return printResults(results, "adopted")
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileAuto, "auto", false, "Adopt the best candidate of every group without prompting")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "Resolve and report without touching the filesystem")
	rootCmd.AddCommand(reconcileCmd)
}
