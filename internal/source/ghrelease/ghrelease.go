// Package ghrelease resolves addons published as GitHub release
// assets.
package ghrelease

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/archive"
	"github.com/bnema/wowpkg/internal/fetch"
	"github.com/bnema/wowpkg/internal/source"
)

// DefaultBaseURL is the GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

const (
	releaseCacheTTL = 5 * time.Minute
	releasePageSize = 10
	// maxReleasePages bounds the walk down the release list.
	maxReleasePages = 5
	// retryBudget is the number of transient-timeout retries during
	// the paginated walk before failing hard.
	retryBudget = 3
)

// manifestAsset is the machine-readable release manifest some addons
// publish alongside their zips.
const manifestAsset = "release.json"

// Source resolves "github:" references of the form owner/repo.
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

// SetBaseURL points the source at another endpoint, e.g. an enterprise
// instance.
func (s *Source) SetBaseURL(u string) { s.baseURL = strings.TrimSuffix(u, "/") }

func (s *Source) Metadata() source.Metadata {
	return source.Metadata{
		ID:   "github",
		Name: "GitHub",
		Strategies: map[string]bool{
			addon.StrategyAnyFlavour:     true,
			addon.StrategyAnyReleaseType: true,
			addon.StrategyVersionEq:      true,
		},
		ChangelogFmt: source.ChangelogMarkdown,
		TocIDKey:     "x-github",
	}
}

type releaseJSON struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
	Assets      []assetJSON
}

type assetJSON struct {
	Name               string `json:"name"`
	ContentType        string `json:"content_type"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type repoJSON struct {
	FullName    string `json:"full_name"`
	Name        string `json:"name"`
	Description string `json:"description"`
	HTMLURL     string `json:"html_url"`
}

// manifestJSON is the release.json layout published by packagers.
type manifestJSON struct {
	Releases []struct {
		Filename string `json:"filename"`
		Metadata []struct {
			Flavor    string `json:"flavor"`
			Interface int    `json:"interface"`
		} `json:"metadata"`
	} `json:"releases"`
}

func (s *Source) ResolveOne(ctx context.Context, d addon.Defn) (*source.Candidate, error) {
	repoPath := d.Alias
	if d.ID != "" {
		repoPath = d.ID
	}
	if !strings.Contains(repoPath, "/") {
		return nil, source.ErrNotFound
	}

	var repo repoJSON
	if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/repos/%s", s.baseURL, repoPath),
		releaseCacheTTL, &repo); err != nil {
		return nil, s.mapError(err)
	}

	rel, asset, err := s.findCompatible(ctx, repoPath, d.Strategies)
	if err != nil {
		return nil, err
	}

	return &source.Candidate{
		Source:       "github",
		ID:           repo.FullName,
		Slug:         repo.FullName,
		Name:         repo.Name,
		Description:  repo.Description,
		URL:          repo.HTMLURL,
		DownloadURL:  asset.BrowserDownloadURL,
		Date:         rel.PublishedAt,
		Version:      rel.TagName,
		ChangelogFmt: source.ChangelogMarkdown,
		Changelog:    rel.Body,
	}, nil
}

// findCompatible walks the release list newest-first, returning the
// first release carrying a compatible zip asset. Transient timeouts
// within the walk are retried from a small budget.
func (s *Source) findCompatible(ctx context.Context, repoPath string, strategies addon.Strategies) (*releaseJSON, *assetJSON, error) {
	sawFiles := false
	retries := 0
	for page := 1; page <= maxReleasePages; page++ {
		u := fmt.Sprintf("%s/repos/%s/releases?per_page=%d&page=%d",
			s.baseURL, repoPath, releasePageSize, page)
		var releases []releaseJSON
		if err := s.client.GetJSON(ctx, u, releaseCacheTTL, &releases); err != nil {
			if isTimeout(err) && retries < retryBudget {
				retries++
				page--
				continue
			}
			return nil, nil, s.mapError(err)
		}
		if len(releases) == 0 {
			break
		}

		for i := range releases {
			rel := &releases[i]
			if rel.Draft {
				continue
			}
			if rel.Prerelease && !strategies.AnyReleaseType {
				continue
			}
			if v := strategies.VersionEq; v != "" && rel.TagName != v {
				continue
			}
			if len(rel.Assets) > 0 {
				sawFiles = true
			}
			asset, ok := s.pickAsset(ctx, rel, strategies)
			if ok {
				return rel, asset, nil
			}
		}
		if len(releases) < releasePageSize {
			break
		}
	}
	if sawFiles {
		return nil, nil, source.ErrNoStrategyMatch
	}
	return nil, nil, source.ErrNoFiles
}

// pickAsset selects a compatible zip asset of a release. The published
// release.json manifest decides when present; otherwise each zip's
// central directory is probed remotely for a .toc of the wanted
// flavour, downloading the archive only as a last resort.
func (s *Source) pickAsset(ctx context.Context, rel *releaseJSON, strategies addon.Strategies) (*assetJSON, bool) {
	var zips []*assetJSON
	var manifest *assetJSON
	for i := range rel.Assets {
		a := &rel.Assets[i]
		switch {
		case a.Name == manifestAsset:
			manifest = a
		case strings.HasSuffix(strings.ToLower(a.Name), ".zip"):
			zips = append(zips, a)
		}
	}
	if len(zips) == 0 {
		return nil, false
	}
	if strategies.AnyFlavour {
		return zips[0], true
	}

	if manifest != nil {
		if a, ok := s.pickFromManifest(ctx, manifest, zips); ok {
			return a, true
		}
	}

	for _, a := range zips {
		ok, err := s.probeZip(ctx, a.BrowserDownloadURL)
		if err != nil {
			s.log.Debug("Remote probe failed, downloading asset",
				"asset", a.Name, "error", err)
			ok = s.probeLocal(ctx, a.BrowserDownloadURL)
		}
		if ok {
			return a, true
		}
	}
	return nil, false
}

func (s *Source) pickFromManifest(ctx context.Context, manifest *assetJSON, zips []*assetJSON) (*assetJSON, bool) {
	body, err := s.client.Get(ctx, manifest.BrowserDownloadURL, fetch.CacheForever)
	if err != nil {
		s.log.Debug("Failed to fetch release manifest", "error", err)
		return nil, false
	}
	var m manifestJSON
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, false
	}
	for _, r := range m.Releases {
		for _, meta := range r.Metadata {
			if flavourOf(meta.Flavor) != s.flavour {
				continue
			}
			for _, a := range zips {
				if a.Name == r.Filename {
					return a, true
				}
			}
		}
	}
	return nil, false
}

// probeZip checks a remote archive for a compatible build by reading
// its central directory and the addon .toc files through range
// requests.
func (s *Source) probeZip(ctx context.Context, url string) (bool, error) {
	r, err := archive.OpenRemote(ctx, s.client, url)
	if err != nil {
		return false, err
	}
	return s.zipCompatible(r), nil
}

// probeLocal downloads the archive and inspects it on disk; the file
// lands in the cache so a subsequent install reuses it. The flavour
// requirement is the same as the remote probe's, only the transport
// differs.
func (s *Source) probeLocal(ctx context.Context, url string) bool {
	path, err := s.client.Download(ctx, url, nil)
	if err != nil {
		return false
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer func() { _ = zr.Close() }()
	return s.zipCompatible(&zr.Reader)
}

// zipCompatible reports whether any top-level .toc in the archive
// declares the profile's flavour.
func (s *Source) zipCompatible(r *zip.Reader) bool {
	folders, err := archive.TopFolders(archive.MemberNames(r))
	if err != nil {
		return false
	}
	for _, f := range r.File {
		if !isTopTOC(f.Name, folders) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return false
		}
		toc, err := addon.ParseTOCReader(rc)
		_ = rc.Close()
		if err != nil {
			continue
		}
		if fl, ok := toc.Flavour(); ok && fl == s.flavour {
			return true
		}
	}
	return false
}

func isTopTOC(name string, folders []string) bool {
	parts := strings.Split(strings.ReplaceAll(name, `\`, "/"), "/")
	if len(parts) != 2 {
		return false
	}
	for _, f := range folders {
		if parts[0] == f && strings.EqualFold(parts[1], f+".toc") {
			return true
		}
	}
	return false
}

// AliasFromURL recognises repository URLs like
// https://github.com/p3lim-wow/Molinari.
func (s *Source) AliasFromURL(u *url.URL) (string, bool) {
	if u.Host != "github.com" && u.Host != "www.github.com" {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 {
		return parts[0] + "/" + strings.TrimSuffix(parts[1], ".git"), true
	}
	return "", false
}

func flavourOf(s string) addon.Flavour {
	switch strings.ToLower(s) {
	case "mainline", "retail":
		return addon.FlavourRetail
	case "classic", "bcc", "wrath":
		return addon.FlavourClassic
	case "vanilla", "classic_era":
		return addon.FlavourVanilla
	}
	return ""
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
