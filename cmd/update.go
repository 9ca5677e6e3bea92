package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/manager"
	"github.com/bnema/wowpkg/internal/ui/styles"
)

var updateDryRun bool

var updateCmd = &cobra.Command{
	Use:   "update [source:alias]...",
	Short: "Update installed addons",
	Long: `Update the named addons, or every installed addon when none are
given. A reference with strategy modifiers re-resolves with those
modifiers instead of the stored ones:

  wowpkg update                          # everything
  wowpkg update curse:pfquest            # one addon, stored strategies
  wowpkg update curse:pfquest==4.1.0     # override to an exact version`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var defns []addon.Defn
		if len(args) == 0 {
			pkgs, err := a.manager.Installed(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range pkgs {
				defns = append(defns, p.ToDefn())
			}
			if len(defns) == 0 {
				cmd.Println("Nothing installed.")
				return nil
			}
		} else {
			defns, err = a.parseDefns(args)
			if err != nil {
				return err
			}
		}

		opts := manager.Options{DryRun: updateDryRun}
		for _, d := range defns {
			if len(args) > 0 && len(d.Strategies.Filled()) > 0 {
				opts.UseCallerStrategies = true
				break
			}
		}

		results, err := runBatch(cmd.Context(), "Updating addons", defns, opts, a.manager.Update)
		if err != nil {
			return err
		}
		// Up to date is the happy path, not a failure.
		for d, r := range results {
			var u *manager.UpToDateError
			if errors.As(r.Err, &u) {
				line := d.String() + " already up to date " + styles.PkgVersion.Render(u.Version)
				if u.Pinned {
					line += " " + styles.FormatPinned(u.Version)
				}
				cmd.Println(styles.FormatSuccess(line))
				delete(results, d)
			}
		}
		return printResults(results, "updated")
	},
}

func init() {
	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "Resolve and report without touching the filesystem")
	rootCmd.AddCommand(updateCmd)
}
