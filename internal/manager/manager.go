// Package manager is the package lifecycle state machine: it mediates
// between resolved candidates, the filesystem and the package record,
// enforcing the folder-conflict invariants.
package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/archive"
	"github.com/bnema/wowpkg/internal/catalog"
	"github.com/bnema/wowpkg/internal/config"
	"github.com/bnema/wowpkg/internal/fetch"
	"github.com/bnema/wowpkg/internal/lockmap"
	"github.com/bnema/wowpkg/internal/reconcile"
	"github.com/bnema/wowpkg/internal/source"
	"github.com/bnema/wowpkg/internal/store"
)

// installConcurrency bounds parallel download/extract work per batch.
const installConcurrency = 4

// Manager orchestrates resolver calls, archive downloads, conflict
// detection and record mutation. All state is explicit; nothing is
// looked up ambiently.
type Manager struct {
	profile *config.Profile
	client  *fetch.Client
	store   *store.Store
	sources *source.Registry
	catalog *catalog.Loader
	locks   *lockmap.Map
	trash   *Trash
	log     *log.Logger

	// extractMu serialises conflict evaluation and extraction between
	// the concurrent candidates of one batch. Downloads stay parallel;
	// without this, two candidates sharing a folder name could both
	// pass the ownership checks before either one extracts or records.
	extractMu sync.Mutex
}

// New wires a manager for one profile.
func New(profile *config.Profile, client *fetch.Client, st *store.Store,
	sources *source.Registry, cat *catalog.Loader, logger *log.Logger) *Manager {
	return &Manager{
		profile: profile,
		client:  client,
		store:   st,
		sources: sources,
		catalog: cat,
		locks:   lockmap.New(),
		trash:   NewTrash(profile.TrashDir()),
		log:     logger,
	}
}

// Options modify lifecycle operations.
type Options struct {
	// Replace displaces conflicting unmanaged folders to the trash
	// instead of failing the install.
	Replace bool
	// DryRun stops after resolution and conflict evaluation, before
	// any download or filesystem mutation.
	DryRun bool
	// KeepFolders leaves folders on disk when removing.
	KeepFolders bool
	// UseCallerStrategies makes update re-resolve with the supplied
	// reference's strategies rather than the stored ones.
	UseCallerStrategies bool
	// Events receives per-package lifecycle notifications when set.
	Events Events
}

// Events are optional per-package notification hooks; any field may be
// nil.
type Events struct {
	// Started fires when work on a reference begins.
	Started func(d addon.Defn)
	// Bytes reports download progress; total is -1 when unknown.
	Bytes func(d addon.Defn, done, total int64)
	// Finished fires when a reference's work ends, err nil on success.
	Finished func(d addon.Defn, err error)
}

func (e Events) started(d addon.Defn) {
	if e.Started != nil {
		e.Started(d)
	}
}

func (e Events) finished(d addon.Defn, err error) {
	if e.Finished != nil {
		e.Finished(d, err)
	}
}

func (e Events) progress(d addon.Defn) fetch.Progress {
	if e.Bytes == nil {
		return nil
	}
	return func(done, total int64) { e.Bytes(d, done, total) }
}

// Result is one slot of a lifecycle result map. Exactly one of Pkg,
// Cand (dry-run) or Err is meaningful.
type Result struct {
	Pkg  *store.Pkg
	Cand *source.Candidate
	Err  error
}

// mutateKey serialises record-mutating operations within one profile.
func (m *Manager) mutateKey() string { return "mutate:" + m.profile.Name }

// Resolve resolves references, optionally following dependency ids one
// level (never recursively). The result map is total over the input
// and gains one entry per discovered dependency.
func (m *Manager) Resolve(ctx context.Context, defns []addon.Defn, withDeps bool) map[addon.Defn]source.Result {
	results := m.sources.Resolve(ctx, defns)
	if withDeps {
		for d, r := range m.resolveDeps(ctx, results) {
			results[d] = r
		}
	}
	return results
}

// resolveDeps resolves the dependency ids of already-resolved
// candidates, once.
func (m *Manager) resolveDeps(ctx context.Context, results map[addon.Defn]source.Result) map[addon.Defn]source.Result {
	known := make(map[string]bool, len(results))
	for d := range results {
		known[d.Key()] = true
	}
	var depDefns []addon.Defn
	for _, r := range results {
		if r.Err != nil || r.Candidate == nil {
			continue
		}
		for _, depID := range r.Candidate.Deps {
			d := addon.Defn{Source: r.Candidate.Source, Alias: depID, ID: depID}
			if !known[d.Key()] {
				known[d.Key()] = true
				depDefns = append(depDefns, d)
			}
		}
	}
	if len(depDefns) == 0 {
		return nil
	}
	m.log.Debug("Resolving dependencies", "count", len(depDefns))
	return m.sources.Resolve(ctx, depDefns)
}

// Install resolves and installs references. Already-installed
// references are reported as such; dependencies found during
// resolution are installed alongside and appear as extra entries in
// the result map.
func (m *Manager) Install(ctx context.Context, defns []addon.Defn, opts Options) map[addon.Defn]Result {
	out := make(map[addon.Defn]Result, len(defns))

	release, err := m.locks.Acquire(ctx, m.mutateKey())
	if err != nil {
		return failAll(out, defns, err)
	}
	defer release()

	var toResolve []addon.Defn
	for _, d := range dedup(defns) {
		pkg, err := m.lookup(ctx, d)
		switch {
		case err != nil:
			out[d] = m.internal(d, err)
		case pkg != nil:
			out[d] = Result{Pkg: pkg, Err: ErrAlreadyInstalled}
		default:
			toResolve = append(toResolve, d)
		}
	}

	resolved := m.sources.Resolve(ctx, toResolve)
	for d, r := range m.resolveDeps(ctx, resolved) {
		if pkg, err := m.lookup(ctx, d); err == nil && pkg != nil {
			continue // dependency already satisfied
		}
		resolved[d] = r
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for d, r := range resolved {
		d, r := d, r
		g.Go(func() error {
			opts.Events.started(d)
			res := m.installOne(gctx, d, r, opts)
			opts.Events.finished(d, res.Err)
			mu.Lock()
			out[d] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (m *Manager) installOne(ctx context.Context, d addon.Defn, r source.Result, opts Options) Result {
	if r.Err != nil {
		if !source.Expected(r.Err) {
			return m.internal(d, r.Err)
		}
		return Result{Err: r.Err}
	}
	cand := r.Candidate
	if cand.DownloadURL == "" {
		return Result{Err: ErrNotDownloadable}
	}

	// Dry run stops after resolution and conflict evaluation against
	// the record; folder-level conflicts need the archive and are
	// evaluated on the real run.
	if opts.DryRun {
		return Result{Cand: cand}
	}

	archivePath, err := m.client.Download(ctx, cand.DownloadURL, opts.Events.progress(d))
	if err != nil {
		return m.internal(d, err)
	}
	folders, err := archive.List(archivePath)
	if err != nil {
		return m.internal(d, err)
	}

	m.extractMu.Lock()
	defer m.extractMu.Unlock()

	if err := m.checkConflicts(ctx, folders, nil, opts.Replace); err != nil {
		return Result{Err: err}
	}

	if _, err := archive.Extract(archivePath, m.profile.AddonsDir()); err != nil {
		return m.internal(d, err)
	}

	pkg := pkgFromCandidate(cand, folders, d.Strategies)
	if err := m.store.Insert(ctx, pkg); err != nil {
		return m.internal(d, err)
	}
	m.log.Info("Addon installed", "defn", d.String(), "version", pkg.Version, "folders", folders)
	return Result{Pkg: pkg}
}

// Update re-resolves installed packages and re-extracts where needed.
// A package is up to date when the version is unchanged and its
// recorded folders are still on disk; missing folders force a
// self-healing re-extraction.
func (m *Manager) Update(ctx context.Context, defns []addon.Defn, opts Options) map[addon.Defn]Result {
	out := make(map[addon.Defn]Result, len(defns))

	release, err := m.locks.Acquire(ctx, m.mutateKey())
	if err != nil {
		return failAll(out, defns, err)
	}
	defer release()

	type target struct {
		defn addon.Defn
		pkg  *store.Pkg
	}
	var targets []target
	var toResolve []addon.Defn
	for _, d := range dedup(defns) {
		pkg, err := m.lookup(ctx, d)
		switch {
		case err != nil:
			out[d] = m.internal(d, err)
		case pkg == nil:
			out[d] = Result{Err: ErrNotInstalled}
		default:
			rd := d.WithID(pkg.ID)
			if !opts.UseCallerStrategies {
				rd.Strategies = pkg.Options
			}
			targets = append(targets, target{defn: d, pkg: pkg})
			toResolve = append(toResolve, rd)
		}
	}

	resolved := m.sources.Resolve(ctx, toResolve)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, t := range targets {
		t, rd := t, toResolve[i]
		g.Go(func() error {
			opts.Events.started(t.defn)
			res := m.updateOne(gctx, t.pkg, resolved[rd], rd.Strategies, opts)
			opts.Events.finished(t.defn, res.Err)
			mu.Lock()
			out[t.defn] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (m *Manager) updateOne(ctx context.Context, pkg *store.Pkg, r source.Result, strategies addon.Strategies, opts Options) Result {
	if r.Err != nil {
		if !source.Expected(r.Err) {
			return m.internal(pkg.ToDefn(), r.Err)
		}
		return Result{Err: r.Err}
	}
	cand := r.Candidate
	if cand.DownloadURL == "" {
		return Result{Err: ErrNotDownloadable}
	}

	if cand.Version == pkg.Version && m.foldersPresent(pkg.Folders) {
		return Result{Err: &UpToDateError{Version: pkg.Version, Pinned: pkg.Options.VersionEq != ""}}
	}
	if opts.DryRun {
		return Result{Cand: cand}
	}

	archivePath, err := m.client.Download(ctx, cand.DownloadURL, opts.Events.progress(pkg.ToDefn()))
	if err != nil {
		return m.internal(pkg.ToDefn(), err)
	}
	folders, err := archive.List(archivePath)
	if err != nil {
		return m.internal(pkg.ToDefn(), err)
	}

	m.extractMu.Lock()
	defer m.extractMu.Unlock()

	own := make(map[string]bool, len(pkg.Folders))
	for _, f := range pkg.Folders {
		own[f] = true
	}
	if err := m.checkConflicts(ctx, folders, own, opts.Replace); err != nil {
		return Result{Err: err}
	}

	// Folders present before but absent after go to the trash.
	newSet := make(map[string]bool, len(folders))
	for _, f := range folders {
		newSet[f] = true
	}
	var stale []string
	for _, f := range pkg.Folders {
		if !newSet[f] {
			stale = append(stale, filepath.Join(m.profile.AddonsDir(), f))
		}
	}
	if len(stale) > 0 {
		if _, err := m.trash.Put(stale...); err != nil {
			return m.internal(pkg.ToDefn(), err)
		}
	}

	if _, err := archive.Extract(archivePath, m.profile.AddonsDir()); err != nil {
		return m.internal(pkg.ToDefn(), err)
	}

	next := pkgFromCandidate(cand, folders, strategies)
	if err := m.store.Replace(ctx, pkg.Key(), next); err != nil {
		return m.internal(pkg.ToDefn(), err)
	}
	m.log.Info("Addon updated", "pkg", next.Key().String(),
		"from", pkg.Version, "to", next.Version)
	return Result{Pkg: next}
}

// Remove deletes packages from the record; their folders are trashed
// unless the caller keeps them.
func (m *Manager) Remove(ctx context.Context, defns []addon.Defn, opts Options) map[addon.Defn]Result {
	out := make(map[addon.Defn]Result, len(defns))

	release, err := m.locks.Acquire(ctx, m.mutateKey())
	if err != nil {
		return failAll(out, defns, err)
	}
	defer release()

	for _, d := range dedup(defns) {
		pkg, err := m.lookup(ctx, d)
		switch {
		case err != nil:
			out[d] = m.internal(d, err)
			continue
		case pkg == nil:
			out[d] = Result{Err: ErrNotInstalled}
			continue
		}
		if opts.DryRun {
			out[d] = Result{Pkg: pkg}
			continue
		}
		if !opts.KeepFolders {
			paths := make([]string, 0, len(pkg.Folders))
			for _, f := range pkg.Folders {
				paths = append(paths, filepath.Join(m.profile.AddonsDir(), f))
			}
			if _, err := m.trash.Put(paths...); err != nil {
				out[d] = m.internal(d, err)
				continue
			}
		}
		if err := m.store.Delete(ctx, pkg.Source, pkg.ID); err != nil {
			out[d] = m.internal(d, err)
			continue
		}
		m.log.Info("Addon removed", "pkg", pkg.Key().String(), "kept_folders", opts.KeepFolders)
		out[d] = Result{Pkg: pkg}
	}
	return out
}

// Pin applies (or clears) the exact-version strategy on installed
// packages. This is a pure record mutation: no file is touched and
// nothing is downloaded. A caller-supplied target version must match
// the installed one.
func (m *Manager) Pin(ctx context.Context, defns []addon.Defn, unpin bool) map[addon.Defn]Result {
	out := make(map[addon.Defn]Result, len(defns))

	release, err := m.locks.Acquire(ctx, m.mutateKey())
	if err != nil {
		return failAll(out, defns, err)
	}
	defer release()

	for _, d := range dedup(defns) {
		res, ok := m.sources.Get(d.Source)
		if !ok {
			out[d] = Result{Err: source.ErrSourceInvalid}
			continue
		}
		if !res.Metadata().Strategies[addon.StrategyVersionEq] {
			out[d] = Result{Err: &source.StrategiesUnsupportedError{
				Source: d.Source, Strategies: []string{addon.StrategyVersionEq}}}
			continue
		}
		pkg, err := m.lookup(ctx, d)
		switch {
		case err != nil:
			out[d] = m.internal(d, err)
			continue
		case pkg == nil:
			out[d] = Result{Err: ErrNotInstalled}
			continue
		}
		if want := d.Strategies.VersionEq; want != "" && want != pkg.Version {
			out[d] = Result{Err: &VersionMismatchError{Want: want, Have: pkg.Version}}
			continue
		}

		next := pkg.Options
		if unpin {
			next.VersionEq = ""
		} else {
			next.VersionEq = pkg.Version
		}
		if err := m.store.SetOptions(ctx, pkg.Source, pkg.ID, next); err != nil {
			out[d] = m.internal(d, err)
			continue
		}
		pkg.Options = next
		m.log.Info("Addon pin changed", "pkg", pkg.Key().String(), "version_eq", next.VersionEq)
		out[d] = Result{Pkg: pkg}
	}
	return out
}

// Search queries the catalogue, refreshing it when stale.
func (m *Manager) Search(ctx context.Context, terms string, limit int, f catalog.Filter) ([]catalog.Entry, error) {
	cat, err := m.catalog.Get(ctx, false)
	if err != nil {
		return nil, err
	}
	return cat.Search(terms, limit, f), nil
}

// Leftovers lists the on-disk addon folders not tied to any installed
// package.
func (m *Manager) Leftovers(ctx context.Context) ([]addon.Folder, error) {
	folders, err := addon.ScanFolders(m.profile.AddonsDir())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(folders))
	for _, f := range folders {
		names = append(names, f.Name)
	}
	owners, err := m.store.FolderOwners(ctx, names)
	if err != nil {
		return nil, err
	}
	var leftovers []addon.Folder
	for _, f := range folders {
		if _, owned := owners[f.Name]; !owned {
			leftovers = append(leftovers, f)
		}
	}
	return leftovers, nil
}

// FindGroups runs the matching engine over leftovers.
func (m *Manager) FindGroups(ctx context.Context, leftovers []addon.Folder, passes ...reconcile.Pass) ([]reconcile.Group, error) {
	cat, err := m.catalog.Get(ctx, false)
	if err != nil {
		return nil, err
	}
	engine := reconcile.New(m.sources, cat, m.log)
	return engine.FindGroups(ctx, leftovers, passes...)
}

// Installed lists every package in the record.
func (m *Manager) Installed(ctx context.Context) ([]*store.Pkg, error) {
	return m.store.List(ctx)
}

// Get loads one installed package by reference, or nil.
func (m *Manager) Get(ctx context.Context, d addon.Defn) (*store.Pkg, error) {
	return m.lookup(ctx, d)
}

// checkConflicts enforces the folder invariants: resolved folders owned
// by a different installed package always fail; unmanaged on-disk
// folders fail unless replace displaces them into the trash.
func (m *Manager) checkConflicts(ctx context.Context, folders []string, own map[string]bool, replace bool) error {
	owners, err := m.store.FolderOwners(ctx, folders)
	if err != nil {
		return err
	}
	seen := make(map[store.Key]bool)
	var conflicting []store.Key
	for _, folder := range folders {
		if own[folder] {
			continue
		}
		if k, owned := owners[folder]; owned && !seen[k] {
			seen[k] = true
			conflicting = append(conflicting, k)
		}
	}
	if len(conflicting) > 0 {
		return &InstalledConflictError{Pkgs: conflicting}
	}

	var unmanaged []string
	for _, folder := range folders {
		if own[folder] {
			continue
		}
		if _, owned := owners[folder]; owned {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.profile.AddonsDir(), folder)); err == nil {
			unmanaged = append(unmanaged, folder)
		}
	}
	if len(unmanaged) > 0 {
		if !replace {
			return &UnreconciledConflictError{Folders: unmanaged}
		}
		paths := make([]string, 0, len(unmanaged))
		for _, f := range unmanaged {
			paths = append(paths, filepath.Join(m.profile.AddonsDir(), f))
		}
		batch, err := m.trash.Put(paths...)
		if err != nil {
			return err
		}
		m.log.Info("Displaced unreconciled folders", "folders", unmanaged, "trash", batch)
	}
	return nil
}

// lookup finds the installed package a reference points at, trying the
// stable id first, then the alias as slug, then the alias as id.
func (m *Manager) lookup(ctx context.Context, d addon.Defn) (*store.Pkg, error) {
	if d.ID != "" {
		if pkg, err := m.store.Get(ctx, d.Source, d.ID); err != nil || pkg != nil {
			return pkg, err
		}
	}
	if d.Alias != "" {
		if pkg, err := m.store.GetBySlug(ctx, d.Source, d.Alias); err != nil || pkg != nil {
			return pkg, err
		}
		return m.store.Get(ctx, d.Source, d.Alias)
	}
	return nil, nil
}

func (m *Manager) foldersPresent(folders []string) bool {
	for _, f := range folders {
		if _, err := os.Stat(filepath.Join(m.profile.AddonsDir(), f)); err != nil {
			return false
		}
	}
	return len(folders) > 0
}

func (m *Manager) internal(d addon.Defn, err error) Result {
	m.log.Error("Operation failed", "defn", d.String(), "error", err)
	return Result{Err: &InternalError{cause: err}}
}

func pkgFromCandidate(cand *source.Candidate, folders []string, strategies addon.Strategies) *store.Pkg {
	return &store.Pkg{
		Source:       cand.Source,
		ID:           cand.ID,
		Slug:         cand.Slug,
		Name:         cand.Name,
		Description:  cand.Description,
		URL:          cand.URL,
		DownloadURL:  cand.DownloadURL,
		Version:      cand.Version,
		Date:         cand.Date,
		ChangelogFmt: cand.ChangelogFmt,
		Changelog:    cand.Changelog,
		Options:      strategies,
		Folders:      folders,
		Deps:         cand.Deps,
	}
}

func dedup(defns []addon.Defn) []addon.Defn {
	seen := make(map[addon.Defn]bool, len(defns))
	out := make([]addon.Defn, 0, len(defns))
	for _, d := range defns {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func failAll(out map[addon.Defn]Result, defns []addon.Defn, err error) map[addon.Defn]Result {
	for _, d := range dedup(defns) {
		out[d] = Result{Err: &InternalError{cause: err}}
	}
	return out
}
