package cmd

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/catalog"
	"github.com/bnema/wowpkg/internal/config"
	"github.com/bnema/wowpkg/internal/fetch"
	"github.com/bnema/wowpkg/internal/logger"
	"github.com/bnema/wowpkg/internal/manager"
	"github.com/bnema/wowpkg/internal/source"
	"github.com/bnema/wowpkg/internal/source/curse"
	"github.com/bnema/wowpkg/internal/source/ghrelease"
	"github.com/bnema/wowpkg/internal/source/turtle"
	"github.com/bnema/wowpkg/internal/store"
	"github.com/bnema/wowpkg/internal/ui/styles"
)

const fetchTimeout = 30 * time.Second

// app wires the profile's manager and owns its record handle.
type app struct {
	profile *config.Profile
	store   *store.Store
	sources *source.Registry
	manager *manager.Manager
}

// newApp loads the selected profile and builds its manager.
func newApp() (*app, error) {
	p, err := config.Load(profileName)
	if err != nil {
		return nil, err
	}
	if err := p.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to prepare profile directories: %w", err)
	}

	st, err := store.Open(p.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open package record: %w", err)
	}

	client := fetch.New(filepath.Join(p.CacheDir(), "fetch"), fetchTimeout, logger.Log)
	reg := buildRegistry(p, client)
	loader := catalog.NewLoader(reg, p.CacheDir(), logger.Log)

	return &app{
		profile: p,
		store:   st,
		sources: reg,
		manager: manager.New(p, client, st, reg, loader, logger.Log),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close package record", "error", err)
	}
}

// buildRegistry instantiates the profile's sources in its configured
// priority order. Unknown source ids are skipped with a warning so an
// old config file cannot brick the tool.
func buildRegistry(p *config.Profile, client *fetch.Client) *source.Registry {
	var resolvers []source.Resolver
	for _, id := range p.Sources {
		switch id {
		case "curse":
			resolvers = append(resolvers, curse.New(client, p.Flavour, logger.Log))
		case "github":
			resolvers = append(resolvers, ghrelease.New(client, p.Flavour, logger.Log))
		case "turtle":
			resolvers = append(resolvers, turtle.New(client, p.Flavour, logger.Log))
		default:
			logger.Warn("Unknown source in profile, skipping", "source", id)
		}
	}
	return source.NewRegistry(resolvers...)
}

// parseDefns turns command arguments into references. Pasted URLs are
// recognised by the sources; everything else must be source:alias.
func (a *app) parseDefns(args []string) ([]addon.Defn, error) {
	defns := make([]addon.Defn, 0, len(args))
	for _, arg := range args {
		if d, ok := a.sources.DefnFromURL(arg); ok {
			defns = append(defns, d)
			continue
		}
		d, err := addon.ParseDefn(arg)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", arg, err)
		}
		defns = append(defns, d)
	}
	return defns, nil
}

// printResults renders a lifecycle result map sorted by reference and
// returns an error when any entry failed.
func printResults(results map[addon.Defn]manager.Result, verb string) error {
	defns := make([]addon.Defn, 0, len(results))
	for d := range results {
		defns = append(defns, d)
	}
	sort.Slice(defns, func(i, j int) bool { return defns[i].String() < defns[j].String() })

	failed := 0
	for _, d := range defns {
		r := results[d]
		switch {
		case r.Err != nil:
			failed++
			fmt.Println(styles.FormatError(d.String() + ": " + r.Err.Error()))
		case r.Pkg != nil:
			line := d.String() + " " + verb + " " + styles.PkgVersion.Render(r.Pkg.Version)
			fmt.Println(styles.FormatSuccess(line))
		case r.Cand != nil:
			line := d.String() + " would be " + verb + " " + styles.PkgVersion.Render(r.Cand.Version)
			fmt.Println(styles.Bullet.String() + " " + styles.NormalText.Render(line))
		default:
			fmt.Println(styles.FormatSuccess(d.String() + " " + verb))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d failed", failed, len(results))
	}
	return nil
}
