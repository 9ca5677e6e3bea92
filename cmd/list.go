package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/wowpkg/internal/ui/styles"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed addons",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pkgs, err := a.manager.Installed(cmd.Context())
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			cmd.Println("Nothing installed.")
			return nil
		}

		for _, p := range pkgs {
			ref := p.Source + ":" + p.Slug
			line := fmt.Sprintf("%s %s %s",
				styles.PkgName.Render(p.Name),
				styles.PkgSource.Render(ref),
				styles.PkgVersion.Render(p.Version))
			if p.Options.VersionEq != "" {
				line += " " + styles.FormatPinned(p.Options.VersionEq)
			}
			cmd.Println(styles.Bullet.String() + " " + line)
		}
		cmd.Println(styles.MutedText.Render(fmt.Sprintf("\n%d installed", len(pkgs))))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
