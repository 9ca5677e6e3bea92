// Package catalog maintains a periodically refreshed snapshot of every
// source's listings, with cross-source links and fuzzy-ranked lookup.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/source"
)

// CacheTTL is how long a cached catalogue stays fresh.
const CacheTTL = 24 * time.Hour

// Entry is a catalogue listing plus fields derived at load time.
type Entry struct {
	source.CatalogueEntry

	// NormName is the case/punctuation-normalised name.
	NormName string `json:"-"`
	// Popularity is the per-source-relative download score in [0,1].
	Popularity float64 `json:"-"`
}

// Catalog is an immutable loaded snapshot.
type Catalog struct {
	Entries     []Entry
	GeneratedAt time.Time

	byKey map[string]int
}

// snapshot is the on-disk cache layout.
type snapshot struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Entries     []source.CatalogueEntry `json:"entries"`
}

// Loader refreshes and memoises the catalogue. At most one fetch runs
// per staleness window even under concurrent callers; repeat callers in
// the same process get the parsed structure back without re-reading.
type Loader struct {
	reg  *source.Registry
	path string
	ttl  time.Duration
	log  *log.Logger

	flight singleflight.Group
	mu     sync.Mutex
	cached *Catalog
}

// NewLoader creates a loader caching under cacheDir.
func NewLoader(reg *source.Registry, cacheDir string, logger *log.Logger) *Loader {
	return &Loader{
		reg:  reg,
		path: filepath.Join(cacheDir, "catalogue.json"),
		ttl:  CacheTTL,
		log:  logger,
	}
}

// Get returns the catalogue, refreshing from the sources when the
// cached snapshot is stale or force is set.
func (l *Loader) Get(ctx context.Context, force bool) (*Catalog, error) {
	l.mu.Lock()
	if c := l.cached; c != nil && !force && time.Since(c.GeneratedAt) < l.ttl {
		l.mu.Unlock()
		return c, nil
	}
	l.mu.Unlock()

	v, err, _ := l.flight.Do("catalogue", func() (any, error) {
		if !force {
			if c, err := l.loadDisk(); err == nil && time.Since(c.GeneratedAt) < l.ttl {
				l.log.Debug("Using cached catalogue", "age", time.Since(c.GeneratedAt).Round(time.Minute))
				return c, nil
			}
		}

		snap, err := l.refresh(ctx)
		if err != nil {
			// Network failed: a stale snapshot beats nothing.
			if c, diskErr := l.loadDisk(); diskErr == nil {
				l.log.Warn("Catalogue refresh failed, using stale cache", "error", err)
				return c, nil
			}
			return nil, fmt.Errorf("failed to refresh catalogue and no cache available: %w", err)
		}
		if err := l.saveDisk(snap); err != nil {
			l.log.Warn("Failed to save catalogue cache", "error", err)
		}
		return build(snap), nil
	})
	if err != nil {
		return nil, err
	}

	c := v.(*Catalog)
	l.mu.Lock()
	l.cached = c
	l.mu.Unlock()
	return c, nil
}

// refresh pulls every enumerable source's listing.
func (l *Loader) refresh(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{GeneratedAt: time.Now()}
	var errs []error
	for _, res := range l.reg.All() {
		lister, ok := res.(source.CatalogueLister)
		if !ok {
			continue
		}
		entries, err := lister.ListCatalogue(ctx)
		if err != nil {
			l.log.Warn("Source catalogue listing failed", "source", res.Metadata().ID, "error", err)
			errs = append(errs, err)
			continue
		}
		snap.Entries = append(snap.Entries, entries...)
	}
	if len(snap.Entries) == 0 && len(errs) > 0 {
		return nil, errs[0]
	}
	return snap, nil
}

func (l *Loader) loadDisk() (*Catalog, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return build(&snap), nil
}

func (l *Loader) saveDisk(snap *snapshot) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0644)
}

// build computes the derived fields of a snapshot.
func build(snap *snapshot) *Catalog {
	c := &Catalog{
		GeneratedAt: snap.GeneratedAt,
		Entries:     make([]Entry, 0, len(snap.Entries)),
		byKey:       make(map[string]int, len(snap.Entries)),
	}

	maxDownloads := make(map[string]int64)
	for _, e := range snap.Entries {
		if e.Downloads > maxDownloads[e.Source] {
			maxDownloads[e.Source] = e.Downloads
		}
	}

	for _, raw := range snap.Entries {
		e := Entry{CatalogueEntry: raw, NormName: addon.NormalizeName(raw.Name)}
		if max := maxDownloads[raw.Source]; max > 0 {
			e.Popularity = float64(raw.Downloads) / float64(max)
		}
		c.byKey[raw.Source+":"+raw.ID] = len(c.Entries)
		c.Entries = append(c.Entries, e)
	}
	return c
}

// Lookup finds an entry by source and id.
func (c *Catalog) Lookup(sourceID, id string) (*Entry, bool) {
	i, ok := c.byKey[sourceID+":"+id]
	if !ok {
		return nil, false
	}
	return &c.Entries[i], true
}
