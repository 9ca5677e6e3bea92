package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoTopFolders means the archive contains no recognisable addon
// folders.
var ErrNoTopFolders = errors.New("archive contains no addon folders")

// TopFolders derives the addon folders from archive member names. A
// top-level folder qualifies when it carries a same-named .toc one
// level inside, or an account-wide bindings descriptor. Names are
// returned sorted.
func TopFolders(names []string) ([]string, error) {
	found := make(map[string]bool)
	for _, name := range names {
		name = path.Clean(strings.ReplaceAll(name, `\`, "/"))
		parts := strings.Split(name, "/")
		if len(parts) != 2 {
			continue
		}
		folder, file := parts[0], strings.ToLower(parts[1])
		if folder == "" || strings.HasPrefix(folder, ".") {
			continue
		}
		if file == strings.ToLower(folder)+".toc" || file == "bindings.xml" {
			found[folder] = true
		}
	}
	if len(found) == 0 {
		return nil, ErrNoTopFolders
	}
	folders := make([]string, 0, len(found))
	for f := range found {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders, nil
}

// wrapperRename handles forge archives that wrap the repository in a
// single "<repo>-<ref>/" folder. When the members all share one top
// folder that is not itself an addon folder, the wrapper is stripped if
// addon folders sit one level deeper, or renamed after its .toc when
// the wrapper is the addon. Returns a member-name rewrite, identity
// when no wrapper is detected.
func wrapperRename(names []string) func(string) string {
	identity := func(n string) string { return n }
	if _, err := TopFolders(names); err == nil {
		return identity
	}

	wrapper := ""
	for _, name := range names {
		name = path.Clean(strings.ReplaceAll(name, `\`, "/"))
		top, _, _ := strings.Cut(name, "/")
		if top == "" || top == "." {
			continue
		}
		if wrapper == "" {
			wrapper = top
		} else if top != wrapper {
			return identity
		}
	}
	if wrapper == "" {
		return identity
	}

	strip := func(n string) string {
		n = path.Clean(strings.ReplaceAll(n, `\`, "/"))
		if n == wrapper {
			return ""
		}
		return strings.TrimPrefix(n, wrapper+"/")
	}

	// Addon folders one level inside the wrapper: drop the wrapper.
	var stripped []string
	for _, name := range names {
		stripped = append(stripped, strip(name))
	}
	if _, err := TopFolders(stripped); err == nil {
		return strip
	}

	// The wrapper itself is the addon: rename it after its .toc.
	var tocs []string
	for _, name := range stripped {
		if !strings.Contains(name, "/") && strings.HasSuffix(strings.ToLower(name), ".toc") {
			tocs = append(tocs, strings.TrimSuffix(name, filepath.Ext(name)))
		}
	}
	if len(tocs) == 0 {
		return identity
	}
	sort.Strings(tocs)
	folder := tocs[0]
	return func(n string) string {
		inner := strip(n)
		if inner == "" {
			return folder
		}
		return folder + "/" + inner
	}
}

// List opens a zip file and returns its addon folders.
func List(zipPath string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = r.Close() }()
	return folders(memberNames(&r.Reader))
}

// folders applies wrapper normalisation before deriving addon folders.
func folders(names []string) ([]string, error) {
	ren := wrapperRename(names)
	renamed := make([]string, 0, len(names))
	for _, n := range names {
		if r := ren(n); r != "" {
			renamed = append(renamed, r)
		}
	}
	return TopFolders(renamed)
}

// Extract unpacks the archive's addon folders into destDir and returns
// their names. Members outside those folders are ignored.
func Extract(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = r.Close() }()
	return extract(&r.Reader, destDir)
}

// ExtractReader unpacks from an already-open zip reader.
func ExtractReader(r *zip.Reader, destDir string) ([]string, error) {
	return extract(r, destDir)
}

func extract(r *zip.Reader, destDir string) ([]string, error) {
	names := memberNames(r)
	tops, err := folders(names)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(tops))
	for _, f := range tops {
		wanted[f] = true
	}
	ren := wrapperRename(names)

	for _, f := range r.File {
		name := ren(path.Clean(strings.ReplaceAll(f.Name, `\`, "/")))
		if name == "" {
			continue
		}
		top, _, _ := strings.Cut(name, "/")
		if !wanted[top] || strings.Contains(name, "..") {
			continue
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return nil, err
		}
		if err := writeMember(f, target); err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return tops, nil
}

func writeMember(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}

// MemberNames lists the member paths of an open zip.
func MemberNames(r *zip.Reader) []string { return memberNames(r) }

func memberNames(r *zip.Reader) []string {
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}
