package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/catalog"
	"github.com/bnema/wowpkg/internal/config"
	"github.com/bnema/wowpkg/internal/fetch"
	"github.com/bnema/wowpkg/internal/source"
	"github.com/bnema/wowpkg/internal/store"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// fakeSource serves canned candidates keyed by alias and id. Versions
// are ordered newest first; version_eq picks an exact one.
type fakeSource struct {
	cands map[string][]*source.Candidate
	errs  map[string]error
}

func (f *fakeSource) Metadata() source.Metadata {
	return source.Metadata{
		ID:   "fake",
		Name: "Fake",
		Strategies: map[string]bool{
			addon.StrategyAnyFlavour:     true,
			addon.StrategyAnyReleaseType: true,
			addon.StrategyVersionEq:      true,
		},
	}
}

func (f *fakeSource) ResolveOne(_ context.Context, d addon.Defn) (*source.Candidate, error) {
	key := d.Alias
	if key == "" {
		key = d.ID
	}
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	versions := f.cands[key]
	if len(versions) == 0 && d.ID != "" {
		versions = f.cands[d.ID]
	}
	if len(versions) == 0 {
		return nil, source.ErrNotFound
	}
	if v := d.Strategies.VersionEq; v != "" {
		for _, c := range versions {
			if c.Version == v {
				return c, nil
			}
		}
		return nil, source.ErrNoStrategyMatch
	}
	return versions[0], nil
}

type harness struct {
	t        *testing.T
	m        *Manager
	src      *fakeSource
	profile  *config.Profile
	archives map[string][]byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	profile := config.NewStatic("test", filepath.Join(root, "game"),
		filepath.Join(root, "data"), filepath.Join(root, "cache"), addon.FlavourVanilla)
	require.NoError(t, profile.EnsureDirs())
	require.NoError(t, os.MkdirAll(profile.AddonsDir(), 0o755))

	st, err := store.Open(profile.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := log.New(io.Discard)
	h := &harness{
		t:        t,
		profile:  profile,
		src:      &fakeSource{cands: map[string][]*source.Candidate{}, errs: map[string]error{}},
		archives: map[string][]byte{},
	}

	client := fetch.New(filepath.Join(root, "fetch"), 5*time.Second, logger)
	client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body, ok := h.archives[req.URL.String()]
		if !ok {
			return &http.Response{
				StatusCode: http.StatusNotFound,
				Body:       io.NopCloser(bytes.NewReader(nil)),
				Header:     http.Header{},
			}, nil
		}
		return &http.Response{
			StatusCode:    http.StatusOK,
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: int64(len(body)),
			Header:        http.Header{},
		}, nil
	}))

	reg := source.NewRegistry(h.src)
	loader := catalog.NewLoader(reg, profile.CacheDir(), logger)
	h.m = New(profile, client, st, reg, loader, logger)
	return h
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// serve publishes a version of an addon on the fake source, newest
// version first, backed by an in-memory archive.
func (h *harness) serve(alias, id, version string, files map[string]string, deps ...string) addon.Defn {
	h.t.Helper()
	url := "https://dl.test/" + alias + "-" + version + ".zip"
	h.archives[url] = zipBytes(h.t, files)
	cand := &source.Candidate{
		Source:      "fake",
		ID:          id,
		Slug:        alias,
		Name:        alias,
		Version:     version,
		DownloadURL: url,
		Deps:        deps,
	}
	h.src.cands[alias] = append([]*source.Candidate{cand}, h.src.cands[alias]...)
	h.src.cands[id] = h.src.cands[alias]
	return addon.Defn{Source: "fake", Alias: alias}
}

func pfQuestFiles() map[string]string {
	return map[string]string{
		"pfQuest/pfQuest.toc": "## Title: pfQuest\n## Interface: 11200\n",
		"pfQuest/init.lua":    "-- init\n",
	}
}

func (h *harness) addonPath(folder string) string {
	return filepath.Join(h.profile.AddonsDir(), folder)
}

func (h *harness) trashContents() []string {
	h.t.Helper()
	var names []string
	batches, err := os.ReadDir(h.profile.TrashDir())
	require.NoError(h.t, err)
	for _, b := range batches {
		entries, err := os.ReadDir(filepath.Join(h.profile.TrashDir(), b.Name()))
		require.NoError(h.t, err)
		for _, e := range entries {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestInstallRemoveLifecycle(t *testing.T) {
	h := newHarness(t)
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles())
	ctx := context.Background()

	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	require.Len(t, out, 1)
	res := out[d]
	require.NoError(t, res.Err)
	require.NotNil(t, res.Pkg)
	assert.Equal(t, "1.0", res.Pkg.Version)
	assert.Equal(t, []string{"pfQuest"}, res.Pkg.Folders)
	assert.DirExists(t, h.addonPath("pfQuest"))

	// A second install is reported, not repeated.
	out = h.m.Install(ctx, []addon.Defn{d}, Options{})
	assert.ErrorIs(t, out[d].Err, ErrAlreadyInstalled)
	assert.NotNil(t, out[d].Pkg)

	out = h.m.Remove(ctx, []addon.Defn{d}, Options{})
	require.NoError(t, out[d].Err)
	assert.NoDirExists(t, h.addonPath("pfQuest"))
	assert.Contains(t, h.trashContents(), "pfQuest")

	pkg, err := h.m.Get(ctx, d)
	require.NoError(t, err)
	assert.Nil(t, pkg)

	out = h.m.Remove(ctx, []addon.Defn{d}, Options{})
	assert.ErrorIs(t, out[d].Err, ErrNotInstalled)
}

func TestInstallDryRun(t *testing.T) {
	h := newHarness(t)
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles())
	ctx := context.Background()

	out := h.m.Install(ctx, []addon.Defn{d}, Options{DryRun: true})
	res := out[d]
	require.NoError(t, res.Err)
	assert.Nil(t, res.Pkg)
	require.NotNil(t, res.Cand)
	assert.Equal(t, "1.0", res.Cand.Version)

	assert.NoDirExists(t, h.addonPath("pfQuest"))
	pkg, err := h.m.Get(ctx, d)
	require.NoError(t, err)
	assert.Nil(t, pkg)
}

func TestInstallConflictWithInstalledPackage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.serve("bagnon", "10", "1.0", map[string]string{
		"Bagnon/Bagnon.toc": "## Title: Bagnon\n",
		"Shared/Shared.toc": "## Title: Shared\n",
		"Shared/lib.lua":    "-- lib\n",
	})
	b := h.serve("combuctor", "11", "2.0", map[string]string{
		"Combuctor/Combuctor.toc": "## Title: Combuctor\n",
		"Shared/Shared.toc":       "## Title: Shared\n",
	})

	out := h.m.Install(ctx, []addon.Defn{a}, Options{})
	require.NoError(t, out[a].Err)

	out = h.m.Install(ctx, []addon.Defn{b}, Options{})
	var conflict *InstalledConflictError
	require.ErrorAs(t, out[b].Err, &conflict)
	assert.Equal(t, []store.Key{{Source: "fake", ID: "10"}}, conflict.Pkgs)

	// Nothing was mutated for the loser.
	assert.NoDirExists(t, h.addonPath("Combuctor"))
	pkg, err := h.m.Get(ctx, b)
	require.NoError(t, err)
	assert.Nil(t, pkg)
}

func TestInstallUnreconciledConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles())

	// A hand-installed copy already occupies the folder.
	require.NoError(t, os.MkdirAll(h.addonPath("pfQuest"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.addonPath("pfQuest"), "old.lua"), []byte("-- old\n"), 0o644))

	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	var conflict *UnreconciledConflictError
	require.ErrorAs(t, out[d].Err, &conflict)
	assert.Equal(t, []string{"pfQuest"}, conflict.Folders)

	// Replace displaces the hand-installed copy into the trash.
	out = h.m.Install(ctx, []addon.Defn{d}, Options{Replace: true})
	require.NoError(t, out[d].Err)
	assert.Contains(t, h.trashContents(), "pfQuest")
	assert.FileExists(t, filepath.Join(h.addonPath("pfQuest"), "init.lua"))
	assert.NoFileExists(t, filepath.Join(h.addonPath("pfQuest"), "old.lua"))
}

func TestInstallFollowsDependencies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.serve("pfui", "2", "1.0", map[string]string{
		"pfUI/pfUI.toc": "## Title: pfUI\n",
	})
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles(), "2")

	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	require.Len(t, out, 2)
	require.NoError(t, out[d].Err)

	dep := addon.Defn{Source: "fake", Alias: "2", ID: "2"}
	require.Contains(t, out, dep)
	require.NoError(t, out[dep].Err)
	assert.DirExists(t, h.addonPath("pfUI"))

	// An already-satisfied dependency is not reinstalled or reported.
	_ = h.m.Remove(ctx, []addon.Defn{d}, Options{})
	out = h.m.Install(ctx, []addon.Defn{d}, Options{})
	require.Len(t, out, 1)
	require.NoError(t, out[d].Err)
}

func TestUpdateLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.serve("pfquest", "1", "1.0", map[string]string{
		"pfQuest/pfQuest.toc":         "## Title: pfQuest\n",
		"pfQuest-map/pfQuest-map.toc": "## Title: pfQuest map\n",
	})
	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	require.NoError(t, out[d].Err)

	// Same version, folders intact: nothing to do.
	out = h.m.Update(ctx, []addon.Defn{d}, Options{})
	var upToDate *UpToDateError
	require.ErrorAs(t, out[d].Err, &upToDate)
	assert.Equal(t, "1.0", upToDate.Version)
	assert.False(t, upToDate.Pinned)

	// A new version drops one folder; the stale folder is trashed.
	h.serve("pfquest", "1", "1.1", pfQuestFiles())
	out = h.m.Update(ctx, []addon.Defn{d}, Options{})
	require.NoError(t, out[d].Err)
	assert.Equal(t, "1.1", out[d].Pkg.Version)
	assert.DirExists(t, h.addonPath("pfQuest"))
	assert.NoDirExists(t, h.addonPath("pfQuest-map"))
	assert.Contains(t, h.trashContents(), "pfQuest-map")
}

func TestUpdateSelfHeals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles())
	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	require.NoError(t, out[d].Err)

	// The folder went missing on disk; same version re-extracts.
	require.NoError(t, os.RemoveAll(h.addonPath("pfQuest")))
	out = h.m.Update(ctx, []addon.Defn{d}, Options{})
	require.NoError(t, out[d].Err)
	assert.Equal(t, "1.0", out[d].Pkg.Version)
	assert.DirExists(t, h.addonPath("pfQuest"))
}

func TestUpdateDryRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles())
	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	require.NoError(t, out[d].Err)

	h.serve("pfquest", "1", "2.0", pfQuestFiles())
	out = h.m.Update(ctx, []addon.Defn{d}, Options{DryRun: true})
	res := out[d]
	require.NoError(t, res.Err)
	assert.Nil(t, res.Pkg)
	require.NotNil(t, res.Cand)
	assert.Equal(t, "2.0", res.Cand.Version)

	pkg, err := h.m.Get(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "1.0", pkg.Version)
}

func TestUpdateNotInstalled(t *testing.T) {
	h := newHarness(t)
	d := addon.Defn{Source: "fake", Alias: "nothing"}
	out := h.m.Update(context.Background(), []addon.Defn{d}, Options{})
	assert.ErrorIs(t, out[d].Err, ErrNotInstalled)
}

func TestPinLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles())
	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	require.NoError(t, out[d].Err)

	out = h.m.Pin(ctx, []addon.Defn{d}, false)
	require.NoError(t, out[d].Err)
	assert.Equal(t, "1.0", out[d].Pkg.Options.VersionEq)

	pkg, err := h.m.Get(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "1.0", pkg.Options.VersionEq)

	// A pinned package reports as up to date even when a newer version
	// exists, because the stored strategy resolves the pinned one.
	h.serve("pfquest", "1", "2.0", pfQuestFiles())
	out = h.m.Update(ctx, []addon.Defn{d}, Options{})
	var upToDate *UpToDateError
	require.ErrorAs(t, out[d].Err, &upToDate)
	assert.True(t, upToDate.Pinned)

	// Caller strategies override the pin.
	out = h.m.Update(ctx, []addon.Defn{d}, Options{UseCallerStrategies: true})
	require.NoError(t, out[d].Err)
	assert.Equal(t, "2.0", out[d].Pkg.Version)

	out = h.m.Pin(ctx, []addon.Defn{d}, true)
	require.NoError(t, out[d].Err)
	assert.Equal(t, "", out[d].Pkg.Options.VersionEq)
}

func TestPinVersionMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles())
	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	require.NoError(t, out[d].Err)

	want := d
	want.Strategies.VersionEq = "9.9"
	out = h.m.Pin(ctx, []addon.Defn{want}, false)
	var mismatch *VersionMismatchError
	require.ErrorAs(t, out[want].Err, &mismatch)
	assert.Equal(t, "9.9", mismatch.Want)
	assert.Equal(t, "1.0", mismatch.Have)
}

func TestPinNotInstalled(t *testing.T) {
	h := newHarness(t)
	d := addon.Defn{Source: "fake", Alias: "nothing"}
	out := h.m.Pin(context.Background(), []addon.Defn{d}, false)
	assert.ErrorIs(t, out[d].Err, ErrNotInstalled)
}

func TestInstallBatchSharedFolderConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.serve("bagnon", "10", "1.0", map[string]string{
		"Bagnon/Bagnon.toc": "## Title: Bagnon\n",
		"Shared/Shared.toc": "## Title: Shared\n",
	})
	b := h.serve("combuctor", "11", "1.0", map[string]string{
		"Combuctor/Combuctor.toc": "## Title: Combuctor\n",
		"Shared/Shared.toc":       "## Title: Shared\n",
	})

	// Both candidates ship the Shared folder and race within one
	// batch; exactly one may win it.
	out := h.m.Install(ctx, []addon.Defn{a, b}, Options{})
	require.Len(t, out, 2)

	var installed, conflicted int
	for _, d := range []addon.Defn{a, b} {
		if out[d].Err == nil {
			installed++
			continue
		}
		var conflict *InstalledConflictError
		require.ErrorAs(t, out[d].Err, &conflict)
		conflicted++
	}
	assert.Equal(t, 1, installed)
	assert.Equal(t, 1, conflicted)

	pkgs, err := h.m.Installed(ctx)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
}

func TestUnexpectedResolveErrorIsOpaque(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := addon.Defn{Source: "fake", Alias: "flaky"}
	h.src.errs["flaky"] = errors.New("connection reset by peer")

	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	var internal *InternalError
	require.ErrorAs(t, out[d].Err, &internal)
	assert.Equal(t, "internal error", out[d].Err.Error())

	// The update path wraps the same way.
	good := h.serve("pfquest", "1", "1.0", pfQuestFiles())
	res := h.m.Install(ctx, []addon.Defn{good}, Options{})
	require.NoError(t, res[good].Err)
	h.src.errs["pfquest"] = errors.New("connection reset by peer")

	out = h.m.Update(ctx, []addon.Defn{good}, Options{})
	require.ErrorAs(t, out[good].Err, &internal)
}

func TestResolveFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	good := h.serve("pfquest", "1", "1.0", pfQuestFiles())
	bad := addon.Defn{Source: "fake", Alias: "broken"}
	h.src.errs["broken"] = source.ErrNotFound

	out := h.m.Install(ctx, []addon.Defn{good, bad}, Options{})
	require.Len(t, out, 2)
	require.NoError(t, out[good].Err)
	assert.ErrorIs(t, out[bad].Err, source.ErrNotFound)
}

func TestLeftovers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles())
	out := h.m.Install(ctx, []addon.Defn{d}, Options{})
	require.NoError(t, out[d].Err)

	// One managed folder, one stray with a .toc, one folder without.
	require.NoError(t, os.MkdirAll(h.addonPath("Stray"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.addonPath("Stray"), "Stray.toc"), []byte("## Title: Stray\n"), 0o644))
	require.NoError(t, os.MkdirAll(h.addonPath("NoToc"), 0o755))

	leftovers, err := h.m.Leftovers(ctx)
	require.NoError(t, err)
	require.Len(t, leftovers, 1)
	assert.Equal(t, "Stray", leftovers[0].Name)
}

func TestInstallEvents(t *testing.T) {
	h := newHarness(t)
	d := h.serve("pfquest", "1", "1.0", pfQuestFiles())

	var started, finished []string
	var sawBytes bool
	out := h.m.Install(context.Background(), []addon.Defn{d}, Options{
		Events: Events{
			Started:  func(d addon.Defn) { started = append(started, d.String()) },
			Bytes:    func(_ addon.Defn, done, total int64) { sawBytes = sawBytes || done > 0 },
			Finished: func(d addon.Defn, err error) { finished = append(finished, d.String()) },
		},
	})
	require.NoError(t, out[d].Err)
	assert.Equal(t, []string{d.String()}, started)
	assert.Equal(t, []string{d.String()}, finished)
	assert.True(t, sawBytes)
}
