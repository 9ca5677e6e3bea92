package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, members map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range members {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "addon.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestTopFolders(t *testing.T) {
	names := []string{
		"pfQuest/pfQuest.toc",
		"pfQuest/main.lua",
		"pfQuest-extras/pfQuest-extras.toc",
		"Bindings/bindings.xml",
		"readme.txt",
		"misc/other.lua",
	}
	folders, err := TopFolders(names)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bindings", "pfQuest", "pfQuest-extras"}, folders)
}

func TestTopFoldersNone(t *testing.T) {
	_, err := TopFolders([]string{"readme.txt", "src/main.lua"})
	assert.ErrorIs(t, err, ErrNoTopFolders)
}

func TestListStripsForgeWrapper(t *testing.T) {
	// codeload-style archive: everything under a "<repo>-<ref>/"
	// wrapper with addon folders one level deeper.
	path := buildZip(t, map[string]string{
		"pfQuest-4.1.0/pfQuest/pfQuest.toc":             "## Interface: 11200\n",
		"pfQuest-4.1.0/pfQuest/main.lua":                "",
		"pfQuest-4.1.0/pfQuest-turtle/pfQuest-turtle.toc": "## Interface: 11200\n",
		"pfQuest-4.1.0/README.md":                       "",
	})
	folders, err := List(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pfQuest", "pfQuest-turtle"}, folders)
}

func TestListRenamesWrapperAddon(t *testing.T) {
	// The repository itself is the addon: the wrapper carries the
	// .toc directly and takes the descriptor's name.
	path := buildZip(t, map[string]string{
		"ShaguTweaks-master/ShaguTweaks.toc": "## Interface: 11200\n",
		"ShaguTweaks-master/main.lua":        "",
	})
	folders, err := List(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ShaguTweaks"}, folders)
}

func TestExtract(t *testing.T) {
	path := buildZip(t, map[string]string{
		"pfQuest/pfQuest.toc": "## Interface: 11200\n",
		"pfQuest/main.lua":    "print()",
		"junk.txt":            "ignored",
	})
	dest := t.TempDir()

	folders, err := Extract(path, dest)
	require.NoError(t, err)
	assert.Equal(t, []string{"pfQuest"}, folders)

	data, err := os.ReadFile(filepath.Join(dest, "pfQuest", "main.lua"))
	require.NoError(t, err)
	assert.Equal(t, "print()", string(data))

	_, err = os.Stat(filepath.Join(dest, "junk.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractRenamedWrapper(t *testing.T) {
	path := buildZip(t, map[string]string{
		"ShaguTweaks-master/ShaguTweaks.toc": "## Interface: 11200\n",
		"ShaguTweaks-master/mods/core.lua":   "",
	})
	dest := t.TempDir()

	folders, err := Extract(path, dest)
	require.NoError(t, err)
	assert.Equal(t, []string{"ShaguTweaks"}, folders)

	_, err = os.Stat(filepath.Join(dest, "ShaguTweaks", "ShaguTweaks.toc"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dest, "ShaguTweaks", "mods", "core.lua"))
	require.NoError(t, err)
}

func TestExtractRejectsTraversal(t *testing.T) {
	path := buildZip(t, map[string]string{
		"pfQuest/pfQuest.toc":   "## Interface: 11200\n",
		"pfQuest/../escape.lua": "evil",
	})
	dest := t.TempDir()

	_, err := Extract(path, dest)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(dest), "escape.lua"))
	assert.True(t, os.IsNotExist(err))
}
