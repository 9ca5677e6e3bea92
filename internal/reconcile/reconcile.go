// Package reconcile proposes catalogue references for unmanaged addon
// folders. The engine runs ordered heuristic passes over the leftovers
// and never mutates any state; selected proposals are handed to the
// lifecycle manager by the caller.
package reconcile

import (
	"context"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/catalog"
	"github.com/bnema/wowpkg/internal/source"
)

// Pass names one matching heuristic. Passes run in declaration order,
// each more speculative than the last; callers may skip any of them.
type Pass string

const (
	// PassTocIDs matches source ids embedded in .toc descriptors.
	PassTocIDs Pass = "toc_ids"
	// PassFolderHashes lets sources claim folders by content
	// fingerprint.
	PassFolderHashes Pass = "folder_hashes"
	// PassFolderNameSubsets matches catalogue folder sets against the
	// leftover names.
	PassFolderNameSubsets Pass = "folder_name_subsets"
	// PassNames matches normalised folder names against catalogue
	// names.
	PassNames Pass = "addon_names"
)

// DefaultPasses is the full ordered pass list.
var DefaultPasses = []Pass{PassTocIDs, PassFolderHashes, PassFolderNameSubsets, PassNames}

// Group pairs a set of leftover folders with its ranked candidate
// references.
type Group struct {
	Folders    []addon.Folder
	Candidates []addon.Defn
}

// Engine matches leftover folders against the catalogue and resolvers.
type Engine struct {
	reg *source.Registry
	cat *catalog.Catalog
	log *log.Logger
}

// New creates a matching engine over a loaded catalogue.
func New(reg *source.Registry, cat *catalog.Catalog, logger *log.Logger) *Engine {
	return &Engine{reg: reg, cat: cat, log: logger}
}

// FindGroups runs the requested passes (all of them when none are
// given) over the leftovers. Folders matched by an earlier pass are
// withheld from later ones; unmatched folders do not appear in the
// result.
func (e *Engine) FindGroups(ctx context.Context, leftovers []addon.Folder, passes ...Pass) ([]Group, error) {
	if len(passes) == 0 {
		passes = DefaultPasses
	}

	remaining := make([]addon.Folder, len(leftovers))
	copy(remaining, leftovers)

	var out []Group
	for _, pass := range passes {
		if len(remaining) == 0 {
			break
		}
		var groups []Group
		var err error
		switch pass {
		case PassTocIDs:
			groups = e.matchTocIDs(remaining)
		case PassFolderHashes:
			groups, err = e.matchFolderHashes(ctx, remaining)
		case PassFolderNameSubsets:
			groups = e.matchFolderNameSubsets(remaining)
		case PassNames:
			groups = e.matchNames(remaining)
		}
		if err != nil {
			return nil, err
		}

		e.log.Debug("Reconciliation pass complete", "pass", pass, "groups", len(groups))
		matched := make(map[string]bool)
		for _, g := range groups {
			for _, f := range g.Folders {
				matched[f.Name] = true
			}
		}
		remaining = withoutFolders(remaining, matched)
		out = append(out, groups...)
	}
	return out, nil
}

// matchTocIDs groups folders by the source ids their descriptors embed,
// following the catalogue's cross-source links, and merges folders
// whose reference sets intersect.
func (e *Engine) matchTocIDs(leftovers []addon.Folder) []Group {
	folderDefns := make(map[string]map[addon.Defn]bool)
	for _, f := range leftovers {
		if f.TOC == nil {
			continue
		}
		defns := make(map[addon.Defn]bool)
		for _, res := range e.reg.All() {
			meta := res.Metadata()
			if meta.TocIDKey == "" {
				continue
			}
			id := f.TOC.Field(meta.TocIDKey)
			if id == "" {
				continue
			}
			d := addon.Defn{Source: meta.ID, Alias: id, ID: id}
			defns[d] = true
			// Pull in the same addon's ids on other sources.
			if entry, ok := e.cat.Lookup(meta.ID, id); ok {
				for _, link := range entry.SameAs {
					defns[addon.Defn{Source: link.Source, Alias: link.ID, ID: link.ID}] = true
				}
			}
		}
		if len(defns) > 0 {
			folderDefns[f.Name] = defns
		}
	}

	// Folders sharing any reference belong together.
	uf := newUnionFind()
	byDefn := make(map[addon.Defn]string)
	for name, defns := range folderDefns {
		uf.add(name)
		for d := range defns {
			if first, ok := byDefn[d]; ok {
				uf.union(first, name)
			} else {
				byDefn[d] = name
			}
		}
	}

	var out []Group
	for _, members := range uf.groups() {
		defns := make(map[addon.Defn]bool)
		for _, name := range members {
			for d := range folderDefns[name] {
				defns[d] = true
			}
		}
		out = append(out, Group{
			Folders:    foldersByName(leftovers, members),
			Candidates: e.rankDefns(defns, nil),
		})
	}
	sortGroups(out)
	return out
}

// matchFolderHashes asks each fingerprinting source to claim folders;
// a claim only matches when its folder set is exactly present among the
// leftovers.
func (e *Engine) matchFolderHashes(ctx context.Context, leftovers []addon.Folder) ([]Group, error) {
	present := make(map[string]bool, len(leftovers))
	for _, f := range leftovers {
		present[f.Name] = true
	}

	claims := make(map[string]map[addon.Defn]bool)
	for _, res := range e.reg.All() {
		matcher, ok := res.(source.FolderHashMatcher)
		if !ok {
			continue
		}
		matches, err := matcher.FolderHashMatches(ctx, leftovers)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			all := true
			for _, name := range m.Folders {
				if !present[name] {
					all = false
					break
				}
			}
			if !all || len(m.Folders) == 0 {
				continue
			}
			key := folderSetKey(m.Folders)
			if claims[key] == nil {
				claims[key] = make(map[addon.Defn]bool)
			}
			claims[key][m.Defn] = true
		}
	}

	var out []Group
	for key, defns := range claims {
		members := strings.Split(key, "\x00")
		out = append(out, Group{
			Folders:    foldersByName(leftovers, members),
			Candidates: e.rankDefns(defns, nil),
		})
	}
	sortGroups(out)
	return out, nil
}

// matchFolderNameSubsets matches catalogue folder sets against the
// leftover names; larger overlaps and earlier-registered sources rank
// first.
func (e *Engine) matchFolderNameSubsets(leftovers []addon.Folder) []Group {
	present := make(map[string]bool, len(leftovers))
	for _, f := range leftovers {
		present[f.Name] = true
	}

	type claim struct {
		overlap []string
		defn    addon.Defn
	}
	var claims []claim
	for i := range e.cat.Entries {
		entry := &e.cat.Entries[i]
		for _, set := range entry.Folders {
			var overlap []string
			for _, name := range set {
				if present[name] {
					overlap = append(overlap, name)
				}
			}
			if len(overlap) > 0 {
				claims = append(claims, claim{overlap: overlap, defn: entry.Defn()})
			}
		}
	}

	uf := newUnionFind()
	for _, c := range claims {
		uf.add(c.overlap[0])
		for _, name := range c.overlap[1:] {
			uf.union(c.overlap[0], name)
		}
	}

	var out []Group
	for _, members := range uf.groups() {
		inGroup := make(map[string]bool, len(members))
		for _, name := range members {
			inGroup[name] = true
		}

		// Rank candidates by (-overlap size, source priority).
		overlapSize := make(map[addon.Defn]int)
		for _, c := range claims {
			if !inGroup[c.overlap[0]] {
				continue
			}
			if len(c.overlap) > overlapSize[c.defn] {
				overlapSize[c.defn] = len(c.overlap)
			}
		}
		defns := make(map[addon.Defn]bool, len(overlapSize))
		for d := range overlapSize {
			defns[d] = true
		}
		out = append(out, Group{
			Folders:    foldersByName(leftovers, members),
			Candidates: e.rankDefns(defns, overlapSize),
		})
	}
	sortGroups(out)
	return out
}

// matchNames is the last resort: exact match of the normalised folder
// name against the normalised catalogue name.
func (e *Engine) matchNames(leftovers []addon.Folder) []Group {
	byNorm := make(map[string][]addon.Defn)
	for i := range e.cat.Entries {
		entry := &e.cat.Entries[i]
		byNorm[entry.NormName] = append(byNorm[entry.NormName], entry.Defn())
	}

	var out []Group
	for _, f := range leftovers {
		cands, ok := byNorm[addon.NormalizeName(f.Name)]
		if !ok {
			continue
		}
		defns := make(map[addon.Defn]bool, len(cands))
		for _, d := range cands {
			defns[d] = true
		}
		out = append(out, Group{
			Folders:    []addon.Folder{f},
			Candidates: e.rankDefns(defns, nil),
		})
	}
	sortGroups(out)
	return out
}

// rankDefns orders candidates by source registration priority, with
// overlap size (when supplied) taking precedence; lexical order breaks
// remaining ties to keep results deterministic.
func (e *Engine) rankDefns(defns map[addon.Defn]bool, overlapSize map[addon.Defn]int) []addon.Defn {
	out := make([]addon.Defn, 0, len(defns))
	for d := range defns {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if overlapSize != nil && overlapSize[out[i]] != overlapSize[out[j]] {
			return overlapSize[out[i]] > overlapSize[out[j]]
		}
		pi, pj := e.reg.Priority(out[i].Source), e.reg.Priority(out[j].Source)
		if pi != pj {
			return pi < pj
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

func foldersByName(all []addon.Folder, names []string) []addon.Folder {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []addon.Folder
	for _, f := range all {
		if wanted[f.Name] {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func withoutFolders(all []addon.Folder, matched map[string]bool) []addon.Folder {
	var out []addon.Folder
	for _, f := range all {
		if !matched[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

func folderSetKey(names []string) string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

func sortGroups(groups []Group) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Folders[0].Name < groups[j].Folders[0].Name
	})
}
