package source

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wowpkg/internal/addon"
)

// fakeResolver is a scriptable in-memory source.
type fakeResolver struct {
	id         string
	strategies map[string]bool
	resolve    func(ctx context.Context, d addon.Defn) (*Candidate, error)
	calls      int
}

func (f *fakeResolver) Metadata() Metadata {
	return Metadata{ID: f.id, Name: f.id, Strategies: f.strategies}
}

func (f *fakeResolver) ResolveOne(ctx context.Context, d addon.Defn) (*Candidate, error) {
	f.calls++
	return f.resolve(ctx, d)
}

func (f *fakeResolver) AliasFromURL(u *url.URL) (string, bool) {
	if u.Host != f.id+".example.com" {
		return "", false
	}
	return strings.Trim(u.Path, "/"), true
}

func okResolver(id string) *fakeResolver {
	return &fakeResolver{
		id:         id,
		strategies: map[string]bool{addon.StrategyVersionEq: true},
		resolve: func(_ context.Context, d addon.Defn) (*Candidate, error) {
			return &Candidate{Source: id, Slug: d.Alias, ID: "id-" + d.Alias, Version: "1.0"}, nil
		},
	}
}

func TestResolveTotality(t *testing.T) {
	boom := errors.New("boom")
	good := okResolver("good")
	bad := &fakeResolver{
		id:         "bad",
		strategies: map[string]bool{},
		resolve: func(context.Context, addon.Defn) (*Candidate, error) {
			return nil, boom
		},
	}
	reg := NewRegistry(good, bad)

	defns := []addon.Defn{
		{Source: "good", Alias: "one"},
		{Source: "bad", Alias: "two"},
		{Source: "nope", Alias: "three"},
	}
	results := reg.Resolve(context.Background(), defns)
	require.Len(t, results, 3)

	assert.NotNil(t, results[defns[0]].Candidate)
	assert.NoError(t, results[defns[0]].Err)

	// One reference failing never aborts its siblings.
	assert.ErrorIs(t, results[defns[1]].Err, boom)
	assert.ErrorIs(t, results[defns[2]].Err, ErrSourceInvalid)
}

func TestResolveStrategyFastFail(t *testing.T) {
	r := okResolver("curse")
	r.strategies = map[string]bool{} // nothing supported
	reg := NewRegistry(r)

	d := addon.Defn{Source: "curse", Alias: "x", Strategies: addon.Strategies{VersionEq: "1.0"}}
	results := reg.Resolve(context.Background(), []addon.Defn{d})

	var serr *StrategiesUnsupportedError
	require.ErrorAs(t, results[d].Err, &serr)
	assert.Equal(t, "curse", serr.Source)
	assert.Equal(t, []string{addon.StrategyVersionEq}, serr.Strategies)
	assert.Zero(t, r.calls, "unsupported strategies must not reach the network")
}

func TestResolveDedupesInput(t *testing.T) {
	r := okResolver("curse")
	reg := NewRegistry(r)

	d := addon.Defn{Source: "curse", Alias: "molinari"}
	results := reg.Resolve(context.Background(), []addon.Defn{d, d, d})

	require.Len(t, results, 1)
	assert.Equal(t, 1, r.calls)
}

func TestRegistryPriorityAndDedup(t *testing.T) {
	a, b := okResolver("a"), okResolver("b")
	reg := NewRegistry(a, b, okResolver("a"))

	assert.Equal(t, 0, reg.Priority("a"))
	assert.Equal(t, 1, reg.Priority("b"))
	assert.Equal(t, 2, reg.Priority("unknown"))
	assert.Len(t, reg.All(), 2)
}

func TestDefnFromURL(t *testing.T) {
	reg := NewRegistry(okResolver("curse"), okResolver("github"))

	d, ok := reg.DefnFromURL("https://github.example.com/owner/repo")
	require.True(t, ok)
	assert.Equal(t, addon.NewDefn("github", "owner/repo"), d)

	_, ok = reg.DefnFromURL("https://elsewhere.example.org/x")
	assert.False(t, ok)

	_, ok = reg.DefnFromURL("not a url")
	assert.False(t, ok)
}

func TestCandidateDefnRoundTrip(t *testing.T) {
	c := &Candidate{Source: "curse", Slug: "molinari", ID: "12345"}
	d := c.Defn()
	assert.Equal(t, "curse", d.Source)
	assert.Equal(t, "molinari", d.Alias)
	assert.Equal(t, "12345", d.ID)
}
