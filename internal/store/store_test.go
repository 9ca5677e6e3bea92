package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wowpkg/internal/addon"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "record.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPkg(version string) *Pkg {
	return &Pkg{
		Source:       "curse",
		ID:           "12345",
		Slug:         "pfquest",
		Name:         "pfQuest",
		Description:  "quest helper",
		URL:          "https://example.com/pfquest",
		DownloadURL:  "https://example.com/pfquest.zip",
		Version:      version,
		Date:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ChangelogFmt: "markdown",
		Options:      addon.Strategies{AnyReleaseType: true},
		Folders:      []string{"pfQuest", "pfQuest-turtle"},
		Deps:         []string{"67890"},
	}
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testPkg("4.1.0")))

	got, err := s.Get(ctx, "curse", "12345")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pfQuest", got.Name)
	assert.Equal(t, "4.1.0", got.Version)
	assert.Equal(t, []string{"pfQuest", "pfQuest-turtle"}, got.Folders)
	assert.Equal(t, []string{"67890"}, got.Deps)
	assert.True(t, got.Options.AnyReleaseType)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), got.Date.UTC())

	require.Len(t, got.LoggedVersions, 1)
	assert.Equal(t, "4.1.0", got.LoggedVersions[0].Version)

	bySlug, err := s.GetBySlug(ctx, "curse", "pfquest")
	require.NoError(t, err)
	require.NotNil(t, bySlug)
	assert.Equal(t, got.ID, bySlug.ID)
}

func TestGetAbsent(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Get(context.Background(), "curse", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFolderOwners(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testPkg("4.1.0")))

	owners, err := s.FolderOwners(ctx, []string{"pfQuest", "Unrelated"})
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, Key{Source: "curse", ID: "12345"}, owners["pfQuest"])

	owners, err = s.FolderOwners(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestReplaceKeepsHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := testPkg("4.1.0")
	require.NoError(t, s.Insert(ctx, old))

	upd := testPkg("4.2.0")
	upd.Folders = []string{"pfQuest"}
	require.NoError(t, s.Replace(ctx, old.Key(), upd))

	got, err := s.Get(ctx, "curse", "12345")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "4.2.0", got.Version)
	assert.Equal(t, []string{"pfQuest"}, got.Folders)

	// Both installs appear, most recent first.
	require.Len(t, got.LoggedVersions, 2)
	assert.Equal(t, "4.2.0", got.LoggedVersions[0].Version)
	assert.Equal(t, "4.1.0", got.LoggedVersions[1].Version)
}

func TestVersionLogSurvivesDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testPkg("4.1.0")))
	require.NoError(t, s.Delete(ctx, "curse", "12345"))

	got, err := s.Get(ctx, "curse", "12345")
	require.NoError(t, err)
	assert.Nil(t, got)

	logs, err := s.Versions(ctx, "curse", "12345", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "4.1.0", logs[0].Version)
}

func TestVersionLogPruned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPkg("0")
	require.NoError(t, s.Insert(ctx, p))
	key := p.Key()
	for i := 1; i <= MaxLoggedVersions+3; i++ {
		next := testPkg(fmt.Sprintf("v%d", i))
		require.NoError(t, s.Replace(ctx, key, next))
	}

	logs, err := s.Versions(ctx, "curse", "12345", MaxLoggedVersions+3)
	require.NoError(t, err)
	require.Len(t, logs, MaxLoggedVersions)
	assert.Equal(t, fmt.Sprintf("v%d", MaxLoggedVersions+3), logs[0].Version)
}

func TestSetOptions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testPkg("4.1.0")))

	pin := addon.Strategies{VersionEq: "4.1.0"}
	require.NoError(t, s.SetOptions(ctx, "curse", "12345", pin))

	got, err := s.Get(ctx, "curse", "12345")
	require.NoError(t, err)
	assert.Equal(t, "4.1.0", got.Options.VersionEq)
	assert.False(t, got.Options.AnyReleaseType)

	err = s.SetOptions(ctx, "curse", "missing", pin)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testPkg("4.1.0")))
	other := testPkg("1.0")
	other.ID, other.Slug, other.Name = "999", "atlasloot", "AtlasLoot"
	other.Folders = []string{"AtlasLoot"}
	require.NoError(t, s.Insert(ctx, other))

	pkgs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
}
