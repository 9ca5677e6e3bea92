// Package curse resolves addons against a CurseForge-compatible API.
package curse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/fetch"
	"github.com/bnema/wowpkg/internal/source"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://addons-ecs.forgesvc.net/api/v2"

const (
	addonCacheTTL  = 5 * time.Minute
	searchPageSize = 50
)

// release type codes used by the API
const (
	releaseStable = 1
	releaseBeta   = 2
	releaseAlpha  = 3
)

// requiredDep is the dependency type code for hard requirements.
const requiredDep = 3

// Source resolves "curse:" references.
type Source struct {
	client  *fetch.Client
	baseURL string
	flavour addon.Flavour
	log     *log.Logger
}

// New creates the source for a profile flavour.
func New(client *fetch.Client, flavour addon.Flavour, logger *log.Logger) *Source {
	return &Source{client: client, baseURL: DefaultBaseURL, flavour: flavour, log: logger}
}

// SetBaseURL points the source at another endpoint, e.g. a mirror.
func (s *Source) SetBaseURL(u string) { s.baseURL = strings.TrimSuffix(u, "/") }

func (s *Source) Metadata() source.Metadata {
	return source.Metadata{
		ID:   "curse",
		Name: "CurseForge",
		Strategies: map[string]bool{
			addon.StrategyAnyFlavour:     true,
			addon.StrategyAnyReleaseType: true,
			addon.StrategyVersionEq:      true,
		},
		ChangelogFmt: source.ChangelogMarkdown,
		TocIDKey:     "x-curse-project-id",
	}
}

type addonJSON struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	Summary       string     `json:"summary"`
	WebsiteURL    string     `json:"websiteUrl"`
	DownloadCount float64    `json:"downloadCount"`
	DateReleased  time.Time  `json:"dateReleased"`
	LatestFiles   []fileJSON `json:"latestFiles"`
}

type fileJSON struct {
	ID                int       `json:"id"`
	DisplayName       string    `json:"displayName"`
	FileName          string    `json:"fileName"`
	ReleaseType       int       `json:"releaseType"`
	FileDate          time.Time `json:"fileDate"`
	DownloadURL       string    `json:"downloadUrl"`
	GameVersionFlavor string    `json:"gameVersionFlavor"`
	IsAvailable       bool      `json:"isAvailable"`
	Modules           []struct {
		Foldername  string `json:"foldername"`
		Fingerprint int64  `json:"fingerprint"`
	} `json:"modules"`
	Dependencies []struct {
		AddonID int `json:"addonId"`
		Type    int `json:"type"`
	} `json:"dependencies"`
}

func (s *Source) ResolveOne(ctx context.Context, d addon.Defn) (*source.Candidate, error) {
	id, err := s.addonID(ctx, d)
	if err != nil {
		return nil, err
	}

	var a addonJSON
	if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/addon/%d", s.baseURL, id), addonCacheTTL, &a); err != nil {
		return nil, s.mapError(err)
	}
	if len(a.LatestFiles) == 0 {
		return nil, source.ErrNoFiles
	}

	file, ok := s.pickFile(a.LatestFiles, d.Strategies)
	if !ok {
		return nil, source.ErrNoStrategyMatch
	}

	var deps []string
	for _, dep := range file.Dependencies {
		if dep.Type == requiredDep {
			deps = append(deps, strconv.Itoa(dep.AddonID))
		}
	}

	return &source.Candidate{
		Source:       "curse",
		ID:           strconv.Itoa(a.ID),
		Slug:         a.Slug,
		Name:         a.Name,
		Description:  a.Summary,
		URL:          a.WebsiteURL,
		DownloadURL:  file.DownloadURL,
		Date:         file.FileDate,
		Version:      file.DisplayName,
		ChangelogFmt: source.ChangelogMarkdown,
		Changelog:    fmt.Sprintf("%s/addon/%d/file/%d/changelog", s.baseURL, a.ID, file.ID),
		Deps:         deps,
	}, nil
}

// pickFile filters the published files by the reference's strategies;
// among the eligible ones the highest file id wins.
func (s *Source) pickFile(files []fileJSON, strategies addon.Strategies) (fileJSON, bool) {
	var best fileJSON
	found := false
	for _, f := range files {
		if !f.IsAvailable || f.DownloadURL == "" {
			continue
		}
		if !strategies.AnyFlavour && f.GameVersionFlavor != flavorString(s.flavour) {
			continue
		}
		if !strategies.AnyReleaseType && f.ReleaseType != releaseStable {
			continue
		}
		if v := strategies.VersionEq; v != "" && f.DisplayName != v {
			continue
		}
		if !found || f.ID > best.ID {
			best = f
			found = true
		}
	}
	return best, found
}

// addonID turns the reference into a numeric project id, searching by
// slug when the alias is not numeric.
func (s *Source) addonID(ctx context.Context, d addon.Defn) (int, error) {
	if d.ID != "" {
		return strconv.Atoi(d.ID)
	}
	if id, err := strconv.Atoi(d.Alias); err == nil {
		return id, nil
	}

	var results []addonJSON
	u := fmt.Sprintf("%s/addon/search?gameId=1&pageSize=%d&searchFilter=%s",
		s.baseURL, searchPageSize, url.QueryEscape(d.Alias))
	if err := s.client.GetJSON(ctx, u, addonCacheTTL, &results); err != nil {
		return 0, s.mapError(err)
	}
	for _, a := range results {
		if strings.EqualFold(a.Slug, d.Alias) {
			return a.ID, nil
		}
	}
	return 0, source.ErrNotFound
}

// AliasFromURL recognises addon page URLs like
// https://www.curseforge.com/wow/addons/molinari.
func (s *Source) AliasFromURL(u *url.URL) (string, bool) {
	if !strings.HasSuffix(u.Host, "curseforge.com") {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "wow" && parts[1] == "addons" {
		return parts[2], true
	}
	return "", false
}

// FolderHashMatches claims folders whose content fingerprints the API
// recognises.
func (s *Source) FolderHashMatches(ctx context.Context, folders []addon.Folder) ([]source.FolderMatch, error) {
	if len(folders) == 0 {
		return nil, nil
	}
	hashes := make([]string, 0, len(folders))
	for _, f := range folders {
		h, err := HashFolder(f.Path)
		if err != nil {
			s.log.Debug("Failed to fingerprint folder", "folder", f.Name, "error", err)
			continue
		}
		hashes = append(hashes, h)
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	var matches []struct {
		ID    int `json:"id"`
		Files []struct {
			Modules []struct {
				Foldername string `json:"foldername"`
			} `json:"modules"`
		} `json:"files"`
	}
	u := fmt.Sprintf("%s/fingerprint?hashes=%s", s.baseURL, strings.Join(hashes, ","))
	if err := s.client.GetJSON(ctx, u, addonCacheTTL, &matches); err != nil {
		return nil, err
	}

	var out []source.FolderMatch
	for _, m := range matches {
		id := strconv.Itoa(m.ID)
		for _, f := range m.Files {
			names := make([]string, 0, len(f.Modules))
			for _, mod := range f.Modules {
				names = append(names, mod.Foldername)
			}
			if len(names) > 0 {
				out = append(out, source.FolderMatch{
					Folders: names,
					Defn:    addon.Defn{Source: "curse", Alias: id, ID: id},
				})
			}
		}
	}
	return out, nil
}

// ListCatalogue walks the search endpoint page by page. Transient
// timeouts get a small retry budget before the walk fails hard.
func (s *Source) ListCatalogue(ctx context.Context) ([]source.CatalogueEntry, error) {
	var entries []source.CatalogueEntry
	retries := 0
	for index := 0; ; index += searchPageSize {
		u := fmt.Sprintf("%s/addon/search?gameId=1&pageSize=%d&index=%d",
			s.baseURL, searchPageSize, index)
		var page []addonJSON
		if err := s.client.GetJSON(ctx, u, fetch.CacheForever, &page); err != nil {
			if isTimeout(err) && retries < 3 {
				retries++
				index -= searchPageSize
				continue
			}
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, a := range page {
			entries = append(entries, toEntry(a))
		}
		if len(page) < searchPageSize {
			break
		}
	}
	return entries, nil
}

func toEntry(a addonJSON) source.CatalogueEntry {
	e := source.CatalogueEntry{
		Source:    "curse",
		ID:        strconv.Itoa(a.ID),
		Slug:      a.Slug,
		Name:      a.Name,
		URL:       a.WebsiteURL,
		Downloads: int64(a.DownloadCount),
		Updated:   a.DateReleased,
	}
	flavours := make(map[addon.Flavour]bool)
	for _, f := range a.LatestFiles {
		if fl, ok := flavourOf(f.GameVersionFlavor); ok {
			flavours[fl] = true
		}
		var set []string
		for _, mod := range f.Modules {
			set = append(set, mod.Foldername)
		}
		if len(set) > 0 {
			e.Folders = append(e.Folders, set)
		}
	}
	for fl := range flavours {
		e.Flavours = append(e.Flavours, fl)
	}
	return e
}

func flavorString(f addon.Flavour) string {
	switch f {
	case addon.FlavourVanilla:
		return "wow_classic"
	case addon.FlavourClassic:
		return "wow_burning_crusade"
	default:
		return "wow_retail"
	}
}

func flavourOf(s string) (addon.Flavour, bool) {
	switch s {
	case "wow_classic":
		return addon.FlavourVanilla, true
	case "wow_burning_crusade":
		return addon.FlavourClassic, true
	case "wow_retail":
		return addon.FlavourRetail, true
	}
	return "", false
}

func (s *Source) mapError(err error) error {
	var se *fetch.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return source.ErrNotFound
	}
	return err
}

func isTimeout(err error) bool {
	var nerr interface{ Timeout() bool }
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
