package addon

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Folder is an on-disk addon folder under Interface/AddOns, paired with
// its parsed descriptor when one exists. Folders are matching input
// only and are never persisted.
type Folder struct {
	Name string
	Path string
	TOC  *TOC
}

// ScanFolders lists the addon folders under addonsDir. A directory
// counts as an addon folder when it carries a same-named .toc one level
// inside; hidden directories are skipped. A missing addonsDir yields an
// empty list.
func ScanFolders(addonsDir string) ([]Folder, error) {
	entries, err := os.ReadDir(addonsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var folders []Folder
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := entry.Name()
		dir := filepath.Join(addonsDir, name)
		tocPath, ok := findTOC(dir, name)
		if !ok {
			continue
		}
		toc, err := ParseTOC(tocPath)
		if err != nil {
			toc = nil
		}
		folders = append(folders, Folder{Name: name, Path: dir, TOC: toc})
	}
	return folders, nil
}

// findTOC locates the folder's descriptor, matching the folder name
// case-insensitively the way the game client does.
func findTOC(dir, name string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	want := strings.ToLower(name) + ".toc"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == want {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}

// NormalizeName strips everything but letters and digits and
// case-folds, for last-resort name matching.
func NormalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
