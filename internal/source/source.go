package source

import (
	"context"
	"net/url"
	"time"

	"github.com/bnema/wowpkg/internal/addon"
)

// Changelog formats a source may report.
const (
	ChangelogMarkdown = "markdown"
	ChangelogRaw      = "raw"
)

// Metadata describes a source's capabilities.
type Metadata struct {
	// ID is the short identifier used in references, e.g. "curse".
	ID string
	// Name is the display name.
	Name string
	// Strategies is the set of strategy names this source honours.
	Strategies map[string]bool
	// ChangelogFmt is how the source formats changelogs.
	ChangelogFmt string
	// TocIDKey is the .toc field under which addons of this source
	// embed their id, or "" when the source declares none.
	TocIDKey string
}

// Candidate is the ephemeral result of resolving one reference.
// A successful install turns it into a store.Pkg; it is never persisted
// directly.
type Candidate struct {
	Source      string
	ID          string
	Slug        string
	Name        string
	Description string
	URL         string
	// DownloadURL empty means resolved but undownloadable.
	DownloadURL  string
	Date         time.Time
	Version      string
	ChangelogFmt string
	Changelog    string
	// Deps are ids of required packages from the same source.
	Deps []string
}

// Defn returns the reference the candidate round-trips to.
func (c *Candidate) Defn() addon.Defn {
	return addon.Defn{Source: c.Source, Alias: c.Slug, ID: c.ID}
}

// Resolver is the per-source resolution contract. Implementations are
// registered once at startup; batching and strategy validation are
// handled by Registry.Resolve.
type Resolver interface {
	Metadata() Metadata
	// ResolveOne resolves a single reference. Strategy support has
	// already been validated against Metadata().Strategies.
	ResolveOne(ctx context.Context, d addon.Defn) (*Candidate, error)
}

// URLAliaser lets a source recognise pasted URLs and turn them into an
// alias.
type URLAliaser interface {
	AliasFromURL(u *url.URL) (string, bool)
}

// FolderMatch claims a set of installed folder names for a reference.
type FolderMatch struct {
	Folders []string
	Defn    addon.Defn
}

// FolderHashMatcher lets a source claim ownership of unmanaged folders
// by content fingerprint.
type FolderHashMatcher interface {
	FolderHashMatches(ctx context.Context, folders []addon.Folder) ([]FolderMatch, error)
}

// SameAs links a catalogue entry to the same addon on another source.
type SameAs struct {
	Source string
	ID     string
}

// CatalogueEntry is one source listing, merged into the catalogue at
// refresh time.
type CatalogueEntry struct {
	Source    string           `json:"source"`
	ID        string           `json:"id"`
	Slug      string           `json:"slug"`
	Name      string           `json:"name"`
	URL       string           `json:"url"`
	Flavours  []addon.Flavour  `json:"flavours,omitempty"`
	Downloads int64            `json:"downloads"`
	Updated   time.Time        `json:"updated"`
	// Folders holds the known top-level folder sets of this addon's
	// published builds.
	Folders [][]string `json:"folders,omitempty"`
	SameAs  []SameAs   `json:"same_as,omitempty"`
}

// Defn returns a reference to the listed addon.
func (e *CatalogueEntry) Defn() addon.Defn {
	return addon.Defn{Source: e.Source, Alias: e.Slug, ID: e.ID}
}

// CatalogueLister is implemented by sources that can enumerate their
// full listing.
type CatalogueLister interface {
	ListCatalogue(ctx context.Context) ([]CatalogueEntry, error)
}
