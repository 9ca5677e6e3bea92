// Package config loads the profile configuration: where the game
// lives, which flavour it runs, and which sources to resolve against,
// in priority order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/bnema/wowpkg/internal/addon"
)

const appName = "wowpkg"

// DefaultSources is the source priority order used when the profile
// does not override it.
var DefaultSources = []string{"curse", "github", "turtle"}

var ErrNoGameDir = errors.New("game directory is not configured")

// Profile is one managed game installation.
type Profile struct {
	Name    string
	GameDir string
	Flavour addon.Flavour
	Sources []string

	dataDir  string
	cacheDir string
}

// Load reads the profile from the config file (and WOWPKG_* env vars).
// An empty name loads the default profile.
func Load(name string) (*Profile, error) {
	if name == "" {
		name = "default"
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(xdg.ConfigHome, appName))
	v.SetEnvPrefix("WOWPKG")
	v.AutomaticEnv()
	v.SetDefault("flavour", string(addon.FlavourVanilla))
	v.SetDefault("sources", DefaultSources)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	sub := v
	if name != "default" && v.IsSet("profiles."+name) {
		sub = v.Sub("profiles." + name)
	}
	// Profile sections fall back to top-level settings.
	flavourStr := sub.GetString("flavour")
	if flavourStr == "" {
		flavourStr = v.GetString("flavour")
	}
	flavour, ok := addon.ParseFlavour(flavourStr)
	if !ok {
		return nil, fmt.Errorf("unknown flavour %q", flavourStr)
	}

	p := &Profile{
		Name:     name,
		GameDir:  sub.GetString("game_dir"),
		Flavour:  flavour,
		Sources:  sub.GetStringSlice("sources"),
		dataDir:  filepath.Join(xdg.DataHome, appName, "profiles", name),
		cacheDir: filepath.Join(xdg.CacheHome, appName),
	}
	if len(p.Sources) == 0 {
		p.Sources = v.GetStringSlice("sources")
	}
	if len(p.Sources) == 0 {
		p.Sources = DefaultSources
	}
	if p.GameDir == "" {
		p.GameDir = v.GetString("game_dir")
	}
	return p, nil
}

// NewStatic builds a profile with explicit directories, bypassing the
// config file. Used by tests and tooling.
func NewStatic(name, gameDir, dataDir, cacheDir string, flavour addon.Flavour) *Profile {
	return &Profile{
		Name:     name,
		GameDir:  gameDir,
		Flavour:  flavour,
		Sources:  DefaultSources,
		dataDir:  dataDir,
		cacheDir: cacheDir,
	}
}

// Validate checks the profile points at a usable game installation.
func (p *Profile) Validate() error {
	if p.GameDir == "" {
		return ErrNoGameDir
	}
	if _, err := os.Stat(p.GameDir); err != nil {
		return fmt.Errorf("game directory %s: %w", p.GameDir, err)
	}
	return nil
}

// AddonsDir is where the game loads addons from.
func (p *Profile) AddonsDir() string {
	return filepath.Join(p.GameDir, "Interface", "AddOns")
}

// DataDir holds the profile's record and trash.
func (p *Profile) DataDir() string { return p.dataDir }

// CacheDir holds downloaded archives and catalogue snapshots, shared
// across profiles.
func (p *Profile) CacheDir() string { return p.cacheDir }

// TrashDir is the holding area for displaced folders.
func (p *Profile) TrashDir() string { return filepath.Join(p.dataDir, "trash") }

// DBPath is the location of the package record.
func (p *Profile) DBPath() string { return filepath.Join(p.dataDir, "record.db") }

// EnsureDirs creates the profile's directories.
func (p *Profile) EnsureDirs() error {
	for _, dir := range []string{p.dataDir, p.cacheDir, p.TrashDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
