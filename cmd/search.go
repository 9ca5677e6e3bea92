package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/catalog"
	"github.com/bnema/wowpkg/internal/ui/styles"
)

var (
	searchLimit   int
	searchSources []string
	searchFlavour string
)

var searchCmd = &cobra.Command{
	Use:   "search <terms>...",
	Short: "Search the addon catalogue",
	Long: `Search the merged catalogue of every configured source. Matching is
fuzzy and tolerates small misspellings; results are ranked by match
quality and popularity.

Examples:
  wowpkg search quest
  wowpkg search dbm --source curse
  wowpkg search weakauras --flavour retail`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		f := catalog.Filter{Sources: searchSources}
		if searchFlavour != "" {
			fl, ok := addon.ParseFlavour(searchFlavour)
			if !ok {
				return fmt.Errorf("unknown flavour %q", searchFlavour)
			}
			f.Flavour = fl
		}

		entries, err := a.manager.Search(cmd.Context(), strings.Join(args, " "), searchLimit, f)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			cmd.Println("No matches.")
			return nil
		}

		for _, e := range entries {
			ref := e.Source + ":" + e.Slug
			line := fmt.Sprintf("%s %s %s",
				styles.PkgName.Render(e.Name),
				styles.PkgSource.Render(ref),
				styles.FormatDownloads(e.Downloads))
			cmd.Println(styles.Bullet.String() + " " + line)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 15, "Maximum number of results")
	searchCmd.Flags().StringSliceVar(&searchSources, "source", nil, "Restrict to these sources")
	searchCmd.Flags().StringVar(&searchFlavour, "flavour", "", "Restrict to a game flavour (retail, classic, vanilla)")
	rootCmd.AddCommand(searchCmd)
}
