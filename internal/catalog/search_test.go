package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/source"
)

func testCatalog() *Catalog {
	return build(&snapshot{
		GeneratedAt: time.Now(),
		Entries: []source.CatalogueEntry{
			{Source: "curse", ID: "1", Slug: "pfquest", Name: "pfQuest", Downloads: 1000,
				Flavours: []addon.Flavour{addon.FlavourVanilla}},
			{Source: "curse", ID: "2", Slug: "deadly-boss-mods", Name: "Deadly Boss Mods", Downloads: 5000,
				Flavours: []addon.Flavour{addon.FlavourRetail}},
			{Source: "curse", ID: "3", Slug: "questie", Name: "Questie", Downloads: 4000,
				Flavours: []addon.Flavour{addon.FlavourClassic}},
			{Source: "github", ID: "WeakAuras/WeakAuras2", Slug: "WeakAuras/WeakAuras2", Name: "WeakAuras", Downloads: 90},
		},
	})
}

func TestSearchRanksByScoreThenPopularity(t *testing.T) {
	c := testCatalog()

	hits := c.Search("quest", 10, Filter{})
	require.NotEmpty(t, hits)
	// Both quest addons match as subsequences; the more popular one
	// wins the tie in match quality.
	names := make([]string, len(hits))
	for i, h := range hits {
		names[i] = h.Name
	}
	assert.Contains(t, names, "Questie")
	assert.Contains(t, names, "pfQuest")
}

func TestSearchMisspelling(t *testing.T) {
	c := testCatalog()

	// "qestie" is one edit away from "questie" and no subsequence of
	// anything.
	hits := c.Search("qestie", 10, Filter{})
	require.Len(t, hits, 1)
	assert.Equal(t, "Questie", hits[0].Name)
}

func TestSearchBeyondEditDistance(t *testing.T) {
	c := testCatalog()
	assert.Empty(t, c.Search("zzxxyyq", 10, Filter{}))
}

func TestSearchFilters(t *testing.T) {
	c := testCatalog()

	hits := c.Search("quest", 10, Filter{Flavour: addon.FlavourClassic})
	require.Len(t, hits, 1)
	assert.Equal(t, "Questie", hits[0].Name)

	hits = c.Search("weakauras", 10, Filter{Sources: []string{"curse"}})
	assert.Empty(t, hits)
}

func TestSearchLimit(t *testing.T) {
	c := testCatalog()
	hits := c.Search("quest", 1, Filter{})
	assert.Len(t, hits, 1)
	assert.Empty(t, c.Search("quest", 0, Filter{}))
}

func TestPopularityPerSource(t *testing.T) {
	c := testCatalog()

	e, ok := c.Lookup("curse", "2")
	require.True(t, ok)
	assert.InDelta(t, 1.0, e.Popularity, 1e-9)

	// The GitHub source's own maximum normalises its entries, so a
	// small absolute count can still be popular within its source.
	e, ok = c.Lookup("github", "WeakAuras/WeakAuras2")
	require.True(t, ok)
	assert.InDelta(t, 1.0, e.Popularity, 1e-9)
}
