package addon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFolder(t *testing.T, root, name, tocName, tocContent string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	if tocName != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, tocName), []byte(tocContent), 0644))
	}
}

func TestScanFolders(t *testing.T) {
	root := t.TempDir()
	writeFolder(t, root, "pfQuest", "pfQuest.toc", "## Interface: 11200\n## Version: 4.1.0\n")
	// Case of the descriptor differs from the folder, as the game
	// client tolerates.
	writeFolder(t, root, "AtlasLoot", "atlasloot.toc", "## Interface: 11200\n")
	// No descriptor, not an addon folder.
	writeFolder(t, root, "Screenshots", "", "")
	// Hidden directories are skipped.
	writeFolder(t, root, ".git", ".git.toc", "")
	// Stray files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("x"), 0644))

	folders, err := ScanFolders(root)
	require.NoError(t, err)
	require.Len(t, folders, 2)

	names := []string{folders[0].Name, folders[1].Name}
	assert.ElementsMatch(t, []string{"pfQuest", "AtlasLoot"}, names)

	for _, f := range folders {
		if f.Name == "pfQuest" {
			require.NotNil(t, f.TOC)
			assert.Equal(t, "4.1.0", f.TOC.Version)
		}
	}
}

func TestScanFoldersMissingDir(t *testing.T) {
	folders, err := ScanFolders(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, folders)
}
