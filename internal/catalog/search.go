package catalog

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"

	"github.com/bnema/wowpkg/internal/addon"
)

// MaxEditDistance is the levenshtein budget for near-miss spellings
// that produce no subsequence match.
const MaxEditDistance = 2

// Filter narrows a search to particular sources or a game flavour.
type Filter struct {
	Sources []string
	Flavour addon.Flavour
}

func (f Filter) admits(e *Entry) bool {
	if len(f.Sources) > 0 {
		ok := false
		for _, s := range f.Sources {
			if s == e.Source {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Flavour != "" && len(e.Flavours) > 0 {
		ok := false
		for _, fl := range e.Flavours {
			if fl == f.Flavour {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// names adapts a filtered entry view to fuzzy.Source.
type names struct {
	entries []*Entry
}

func (n names) String(i int) string { return n.entries[i].NormName }
func (n names) Len() int            { return len(n.entries) }

// Search returns up to limit entries ranked by fuzzy match quality,
// popularity breaking ties. Misspelled terms within a small edit
// distance of a name still match; anything further away yields nothing.
func (c *Catalog) Search(terms string, limit int, f Filter) []Entry {
	query := addon.NormalizeName(terms)
	if query == "" || limit <= 0 {
		return nil
	}

	pool := make([]*Entry, 0, len(c.Entries))
	for i := range c.Entries {
		if f.admits(&c.Entries[i]) {
			pool = append(pool, &c.Entries[i])
		}
	}

	type ranked struct {
		entry *Entry
		score float64
	}
	var hits []ranked

	matches := fuzzy.FindFrom(query, names{entries: pool})
	if len(matches) > 0 {
		for _, m := range matches {
			e := pool[m.Index]
			hits = append(hits, ranked{entry: e, score: float64(m.Score) + e.Popularity})
		}
	} else {
		// No subsequence match: allow close misspellings by edit
		// distance against name prefixes of comparable length.
		for _, e := range pool {
			name := e.NormName
			if len(name) > len(query)+MaxEditDistance {
				name = name[:len(query)+MaxEditDistance]
			}
			d := levenshtein.ComputeDistance(query, name)
			if d > MaxEditDistance {
				continue
			}
			hits = append(hits, ranked{entry: e, score: float64(-d) + e.Popularity})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return strings.Compare(hits[i].entry.NormName, hits[j].entry.NormName) < 0
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Entry, 0, len(hits))
	for _, h := range hits {
		out = append(out, *h.entry)
	}
	return out
}
