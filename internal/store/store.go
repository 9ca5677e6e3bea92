// Package store is the durable record of installed packages, backed by
// SQLite. The lifecycle manager treats it as the single authority on
// what is installed; the filesystem remains the authority on what is
// actually on disk.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/bnema/wowpkg/internal/addon"
)

// MaxLoggedVersions bounds the per-package version history.
const MaxLoggedVersions = 10

// Key identifies a package.
type Key struct {
	Source string `db:"source"`
	ID     string `db:"id"`
}

func (k Key) String() string { return k.Source + ":" + k.ID }

// VersionLog is one entry of a package's install history,
// most-recent-first.
type VersionLog struct {
	Version     string    `db:"version"`
	InstallTime time.Time `db:"install_time"`
}

// Pkg is an installed package row plus its child rows.
type Pkg struct {
	Source       string    `db:"source"`
	ID           string    `db:"id"`
	Slug         string    `db:"slug"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	URL          string    `db:"url"`
	DownloadURL  string    `db:"download_url"`
	Version      string    `db:"version"`
	Date         time.Time `db:"date"`
	ChangelogFmt string    `db:"changelog_fmt"`
	Changelog    string    `db:"changelog"`

	// Options are the strategy flags that were actually applied.
	Options addon.Strategies
	// Folders are the extracted top-level folder names, in order.
	Folders []string
	// Deps are ids of required packages.
	Deps []string
	// LoggedVersions is the bounded install history.
	LoggedVersions []VersionLog
}

func (p *Pkg) Key() Key { return Key{Source: p.Source, ID: p.ID} }

// ToDefn round-trips the package back to an addon reference.
func (p *Pkg) ToDefn() addon.Defn {
	return addon.Defn{Source: p.Source, Alias: p.Slug, ID: p.ID, Strategies: p.Options}
}

// Store wraps the SQLite connection.
type Store struct {
	db *sqlx.DB
}

// Open opens (and if needed initialises) the package record at path.
// ":memory:" gives an ephemeral record for tests.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open package record: %w", err)
	}
	// modernc's driver serialises per connection; one connection keeps
	// foreign_keys pragma and in-memory databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the record.
func (s *Store) Close() error { return s.db.Close() }

// Get loads one package, or nil when it is not installed.
func (s *Store) Get(ctx context.Context, source, id string) (*Pkg, error) {
	var row pkgRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM pkg WHERE source = ? AND id = ?`, source, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load package %s:%s: %w", source, id, err)
	}
	return s.hydrate(ctx, &row)
}

// GetBySlug loads a package of a source by its slug, or nil.
func (s *Store) GetBySlug(ctx context.Context, source, slug string) (*Pkg, error) {
	var row pkgRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM pkg WHERE source = ? AND lower(slug) = lower(?)`, source, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, &row)
}

// List loads every installed package ordered by source then name.
func (s *Store) List(ctx context.Context) ([]*Pkg, error) {
	var rows []pkgRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM pkg ORDER BY source, lower(name)`); err != nil {
		return nil, err
	}
	pkgs := make([]*Pkg, 0, len(rows))
	for i := range rows {
		p, err := s.hydrate(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

// FolderOwners maps each given folder name to the package owning it,
// omitting unowned folders.
func (s *Store) FolderOwners(ctx context.Context, folders []string) (map[string]Key, error) {
	owners := make(map[string]Key)
	if len(folders) == 0 {
		return owners, nil
	}
	query, args, err := sqlx.In(
		`SELECT folder, source, id FROM pkg_folder WHERE folder IN (?)`, folders)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var folder string
		var k Key
		if err := rows.Scan(&folder, &k.Source, &k.ID); err != nil {
			return nil, err
		}
		owners[folder] = k
	}
	return owners, rows.Err()
}

// Insert persists a new package, its folders, options, deps and a
// version-log entry in one transaction.
func (s *Store) Insert(ctx context.Context, p *Pkg) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return insertPkg(ctx, tx, p)
	})
}

// Replace atomically swaps the stored row of a package for a new one;
// the old row is deleted and the new inserted within one transaction.
func (s *Store) Replace(ctx context.Context, old Key, p *Pkg) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pkg WHERE source = ? AND id = ?`, old.Source, old.ID); err != nil {
			return err
		}
		return insertPkg(ctx, tx, p)
	})
}

// Delete removes a package; child rows cascade. The version log stays.
func (s *Store) Delete(ctx context.Context, source, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pkg WHERE source = ? AND id = ?`, source, id)
	return err
}

// SetOptions overwrites a package's applied strategy flags. This is the
// pin/unpin record mutation; no other field is touched.
func (s *Store) SetOptions(ctx context.Context, source, id string, opts addon.Strategies) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pkg_options SET any_flavour = ?, any_release_type = ?, version_eq = ?
		 WHERE source = ? AND id = ?`,
		opts.AnyFlavour, opts.AnyReleaseType, opts.VersionEq, source, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return err
}

// Versions returns the logged install history of a package,
// most-recent-first.
func (s *Store) Versions(ctx context.Context, source, id string, limit int) ([]VersionLog, error) {
	if limit <= 0 {
		limit = MaxLoggedVersions
	}
	var logs []versionRow
	err := s.db.SelectContext(ctx, &logs,
		`SELECT version, install_time FROM pkg_version_log
		 WHERE source = ? AND id = ? ORDER BY install_time DESC LIMIT ?`,
		source, id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]VersionLog, 0, len(logs))
	for _, l := range logs {
		out = append(out, VersionLog{Version: l.Version, InstallTime: parseTime(l.InstallTime)})
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertPkg(ctx context.Context, tx *sqlx.Tx, p *Pkg) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pkg (source, id, slug, name, description, url, download_url,
		                  version, date, changelog_fmt, changelog)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Source, p.ID, p.Slug, p.Name, p.Description, p.URL, p.DownloadURL,
		p.Version, formatTime(p.Date), p.ChangelogFmt, p.Changelog); err != nil {
		return fmt.Errorf("failed to insert package %s: %w", p.Key(), err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pkg_options (source, id, any_flavour, any_release_type, version_eq)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Source, p.ID, p.Options.AnyFlavour, p.Options.AnyReleaseType, p.Options.VersionEq); err != nil {
		return err
	}
	for i, folder := range p.Folders {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pkg_folder (source, id, position, folder) VALUES (?, ?, ?, ?)`,
			p.Source, p.ID, i, folder); err != nil {
			return err
		}
	}
	for _, dep := range p.Deps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pkg_dep (source, id, dep_id) VALUES (?, ?, ?)`,
			p.Source, p.ID, dep); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO pkg_version_log (source, id, version, install_time)
		 VALUES (?, ?, ?, ?)`,
		p.Source, p.ID, p.Version, formatTime(time.Now())); err != nil {
		return err
	}
	// Prune the history to the most recent entries.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pkg_version_log WHERE source = ? AND id = ? AND version NOT IN (
		    SELECT version FROM pkg_version_log WHERE source = ? AND id = ?
		    ORDER BY install_time DESC LIMIT ?)`,
		p.Source, p.ID, p.Source, p.ID, MaxLoggedVersions); err != nil {
		return err
	}
	return nil
}

type pkgRow struct {
	Source       string `db:"source"`
	ID           string `db:"id"`
	Slug         string `db:"slug"`
	Name         string `db:"name"`
	Description  string `db:"description"`
	URL          string `db:"url"`
	DownloadURL  string `db:"download_url"`
	Version      string `db:"version"`
	Date         string `db:"date"`
	ChangelogFmt string `db:"changelog_fmt"`
	Changelog    string `db:"changelog"`
}

type versionRow struct {
	Version     string `db:"version"`
	InstallTime string `db:"install_time"`
}

type optionsRow struct {
	AnyFlavour     bool   `db:"any_flavour"`
	AnyReleaseType bool   `db:"any_release_type"`
	VersionEq      string `db:"version_eq"`
}

func (s *Store) hydrate(ctx context.Context, row *pkgRow) (*Pkg, error) {
	p := &Pkg{
		Source:       row.Source,
		ID:           row.ID,
		Slug:         row.Slug,
		Name:         row.Name,
		Description:  row.Description,
		URL:          row.URL,
		DownloadURL:  row.DownloadURL,
		Version:      row.Version,
		Date:         parseTime(row.Date),
		ChangelogFmt: row.ChangelogFmt,
		Changelog:    row.Changelog,
	}

	var opts optionsRow
	err := s.db.GetContext(ctx, &opts,
		`SELECT any_flavour, any_release_type, version_eq FROM pkg_options
		 WHERE source = ? AND id = ?`, p.Source, p.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	p.Options = addon.Strategies{
		AnyFlavour:     opts.AnyFlavour,
		AnyReleaseType: opts.AnyReleaseType,
		VersionEq:      opts.VersionEq,
	}

	if err := s.db.SelectContext(ctx, &p.Folders,
		`SELECT folder FROM pkg_folder WHERE source = ? AND id = ? ORDER BY position`,
		p.Source, p.ID); err != nil {
		return nil, err
	}
	if err := s.db.SelectContext(ctx, &p.Deps,
		`SELECT dep_id FROM pkg_dep WHERE source = ? AND id = ? ORDER BY dep_id`,
		p.Source, p.ID); err != nil {
		return nil, err
	}

	logs, err := s.Versions(ctx, p.Source, p.ID, MaxLoggedVersions)
	if err != nil {
		return nil, err
	}
	p.LoggedVersions = logs
	return p, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
