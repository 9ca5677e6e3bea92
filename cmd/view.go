package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/wowpkg/internal/ui/styles"
)

var viewCmd = &cobra.Command{
	Use:   "view <source:alias>",
	Short: "Show an installed addon's record",
	Long: `Show the full record of one installed addon: origin, applied
strategies, extracted folders, dependencies and version history.`,
	Args: cobra.ExactArgs(1),
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
		pkg, err := a.manager.Get(cmd.Context(), defns[0])
		if err != nil {
			return err
		}
		if pkg == nil {
			return fmt.Errorf("%s is not installed", defns[0].String())
		}

		cmd.Println(styles.Title.Render(pkg.Name))
		if pkg.Description != "" {
			cmd.Println(styles.MutedText.Render(pkg.Description))
		}
		cmd.Println()
		row := func(label, value string) {
			if value != "" {
				cmd.Println("  " + styles.MutedText.Render(fmt.Sprintf("%-10s", label)) + styles.NormalText.Render(value))
			}
		}
		row("source", pkg.Source+":"+pkg.Slug)
		row("version", pkg.Version)
		if !pkg.Date.IsZero() {
			row("released", pkg.Date.Format("2006-01-02"))
		}
		row("url", pkg.URL)
		row("folders", strings.Join(pkg.Folders, ", "))
		row("deps", strings.Join(pkg.Deps, ", "))
		if pkg.Options.VersionEq != "" {
			row("pin", pkg.Options.VersionEq)
		}

		if len(pkg.LoggedVersions) > 0 {
			cmd.Println("\n  " + styles.MutedText.Render("history"))
			for _, v := range pkg.LoggedVersions {
				cmd.Println("    " + styles.PkgVersion.Render(v.Version) + " " +
					styles.MutedText.Render(v.InstallTime.Format("2006-01-02 15:04")))
			}
		}

		if pkg.Changelog != "" {
			cmd.Println("\n" + styles.MutedText.Render("changelog:"))
			cmd.Println(pkg.Changelog)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
