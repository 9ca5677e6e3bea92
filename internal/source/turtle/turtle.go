// Package turtle resolves git-hosted vanilla addons listed on the
// Turtle WoW community wiki. References point at GitHub or GitLab
// repositories; versions are remote tags and downloads are the forge's
// archive endpoints, so no clone is ever made.
package turtle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	"golang.org/x/net/html"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/fetch"
	"github.com/bnema/wowpkg/internal/source"
)

// WikiURL is the community wiki page listing known addon repositories.
const WikiURL = "https://turtle-wow.fandom.com/wiki/Addons"

const wikiTTL = 6 * time.Hour

// repoURLPattern matches GitHub and GitLab repository URLs found on the
// wiki page.
var repoURLPattern = regexp.MustCompile(`^https?://(github\.com|gitlab\.com)/([^/]+)/([^/?#]+?)(?:\.git)?/?$`)

// Source resolves addons hosted as plain git repositories.
type Source struct {
	client  *fetch.Client
	flavour addon.Flavour
	wikiURL string
	log     *log.Logger

	// listRefs is swapped out by tests to avoid network listings.
	listRefs func(ctx context.Context, repoURL string) ([]*plumbing.Reference, error)
}

// New creates the source for a profile flavour.
func New(client *fetch.Client, flavour addon.Flavour, logger *log.Logger) *Source {
	return &Source{
		client:   client,
		flavour:  flavour,
		wikiURL:  WikiURL,
		log:      logger,
		listRefs: listRemoteRefs,
	}
}

// SetWikiURL points the catalogue scrape at another page; used by tests.
func (s *Source) SetWikiURL(u string) { s.wikiURL = u }

// SetListRefs replaces the remote listing; used by tests.
func (s *Source) SetListRefs(fn func(ctx context.Context, repoURL string) ([]*plumbing.Reference, error)) {
	s.listRefs = fn
}

func (s *Source) Metadata() source.Metadata {
	return source.Metadata{
		ID:   "turtle",
		Name: "Turtle WoW",
		Strategies: map[string]bool{
			addon.StrategyAnyFlavour:     true,
			addon.StrategyAnyReleaseType: true,
			addon.StrategyVersionEq:      true,
		},
		ChangelogFmt: source.ChangelogRaw,
	}
}

// ResolveOne lists the remote's refs and picks the newest tag, or HEAD
// when the repository is untagged.
func (s *Source) ResolveOne(ctx context.Context, d addon.Defn) (*source.Candidate, error) {
	alias := d.Alias
	if alias == "" {
		alias = d.ID
	}
	r, err := parseAlias(alias)
	if err != nil {
		return nil, err
	}

	// The wiki only lists 1.12 addons, so surface a strategy mismatch
	// rather than installing a repository that cannot run.
	if s.flavour != addon.FlavourVanilla && !d.Strategies.AnyFlavour {
		return nil, source.ErrNoStrategyMatch
	}

	refs, err := s.listRefs(ctx, r.cloneURL())
	if err != nil {
		return nil, mapError(err)
	}
	tags, head := tagsAndHead(refs)

	var version, ref string
	isTag := true
	switch {
	case d.Strategies.VersionEq != "":
		for _, t := range tags {
			if t == d.Strategies.VersionEq || strings.TrimPrefix(t, "v") == d.Strategies.VersionEq {
				ref = t
				break
			}
		}
		if ref == "" {
			return nil, source.ErrNoStrategyMatch
		}
		version = ref
	case len(tags) > 0:
		ref = latestTag(tags)
		version = ref
	case head != "":
		ref = head
		version = head[:8]
		isTag = false
	default:
		return nil, source.ErrNoFiles
	}

	return &source.Candidate{
		Source:       "turtle",
		ID:           r.alias(),
		Slug:         r.alias(),
		Name:         displayName(r.Repo),
		URL:          r.pageURL(),
		DownloadURL:  r.archiveURL(ref, isTag),
		Version:      version,
		ChangelogFmt: source.ChangelogRaw,
	}, nil
}

// repoRef is a repository reference split into its forge parts. Aliases
// without a host default to GitHub; GitLab aliases carry the host
// prefix, e.g. "gitlab.com/owner/repo".
type repoRef struct {
	Host  string
	Owner string
	Repo  string
}

func parseAlias(alias string) (repoRef, error) {
	parts := strings.Split(strings.Trim(alias, "/"), "/")
	switch len(parts) {
	case 2:
		return repoRef{Host: "github.com", Owner: parts[0], Repo: strings.TrimSuffix(parts[1], ".git")}, nil
	case 3:
		host := strings.ToLower(parts[0])
		if host != "github.com" && host != "gitlab.com" {
			return repoRef{}, fmt.Errorf("%w: unsupported host %q", source.ErrNotFound, parts[0])
		}
		return repoRef{Host: host, Owner: parts[1], Repo: strings.TrimSuffix(parts[2], ".git")}, nil
	}
	return repoRef{}, fmt.Errorf("%w: alias %q is not owner/repo", source.ErrNotFound, alias)
}

func (r repoRef) alias() string {
	if r.Host == "github.com" {
		return r.Owner + "/" + r.Repo
	}
	return r.Host + "/" + r.Owner + "/" + r.Repo
}

func (r repoRef) cloneURL() string {
	return "https://" + r.Host + "/" + r.Owner + "/" + r.Repo + ".git"
}

func (r repoRef) pageURL() string {
	return "https://" + r.Host + "/" + r.Owner + "/" + r.Repo
}

// archiveURL is the forge's zip endpoint for a ref. GitHub serves
// archives from codeload, GitLab from the repository's archive path.
func (r repoRef) archiveURL(ref string, tag bool) string {
	if r.Host == "gitlab.com" {
		return fmt.Sprintf("https://gitlab.com/%s/%s/-/archive/%s/%s-%s.zip", r.Owner, r.Repo, ref, r.Repo, ref)
	}
	if tag {
		return fmt.Sprintf("https://codeload.github.com/%s/%s/zip/refs/tags/%s", r.Owner, r.Repo, ref)
	}
	return fmt.Sprintf("https://codeload.github.com/%s/%s/zip/%s", r.Owner, r.Repo, ref)
}

// displayName derives a readable addon name from the repository name,
// dropping packaging suffixes like "-master".
func displayName(repo string) string {
	name := strings.TrimSuffix(repo, ".git")
	for _, suffix := range []string{"-master", "-main", "-trunk", "-vanilla", "-turtle"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

func listRemoteRefs(ctx context.Context, repoURL string) ([]*plumbing.Reference, error) {
	rem := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})
	return rem.ListContext(ctx, &git.ListOptions{})
}

func mapError(err error) error {
	if errors.Is(err, transport.ErrRepositoryNotFound) || errors.Is(err, transport.ErrAuthenticationRequired) {
		return source.ErrNotFound
	}
	return err
}

// tagsAndHead splits a remote listing into tag names and the HEAD hash.
// Annotated tags appear twice, once peeled with a "^{}" suffix; the
// peeled hash wins but the name is reported once.
func tagsAndHead(refs []*plumbing.Reference) (tags []string, head string) {
	seen := make(map[string]bool)
	for _, ref := range refs {
		name := ref.Name()
		if name == plumbing.HEAD {
			head = ref.Hash().String()
			continue
		}
		if !name.IsTag() {
			continue
		}
		tag := strings.TrimSuffix(name.Short(), "^{}")
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags, head
}

// compareVersions orders dotted version strings numerically per
// segment, falling back to lexical order for non-numeric parts.
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(strings.ToLower(a), "v"), ".")
	bs := strings.Split(strings.TrimPrefix(strings.ToLower(b), "v"), ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		default:
			if c := strings.Compare(sa, sb); c != 0 {
				return c
			}
		}
	}
	return 0
}

// latestTag returns the highest tag by version order.
func latestTag(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	sorted := append([]string(nil), tags...)
	sort.Slice(sorted, func(i, j int) bool { return compareVersions(sorted[i], sorted[j]) > 0 })
	return sorted[0]
}

// AliasFromURL recognises pasted GitHub and GitLab repository URLs.
func (s *Source) AliasFromURL(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Host)
	if host != "github.com" && host != "gitlab.com" {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", false
	}
	r := repoRef{Host: host, Owner: parts[0], Repo: strings.TrimSuffix(parts[1], ".git")}
	if r.Owner == "" || r.Repo == "" {
		return "", false
	}
	return r.alias(), true
}

// ListCatalogue scrapes the community wiki page for repository links.
func (s *Source) ListCatalogue(ctx context.Context) ([]source.CatalogueEntry, error) {
	body, err := s.client.Get(ctx, s.wikiURL, wikiTTL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse wiki page: %w", err)
	}

	var entries []source.CatalogueEntry
	seen := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if r, ok := repoFromHref(attr(n, "href")); ok && !seen[r.alias()] {
				seen[r.alias()] = true
				entries = append(entries, source.CatalogueEntry{
					Source:   "turtle",
					ID:       r.alias(),
					Slug:     r.alias(),
					Name:     displayName(r.Repo),
					URL:      r.pageURL(),
					Flavours: []addon.Flavour{addon.FlavourVanilla},
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	s.log.Debug("scraped wiki catalogue", "entries", len(entries))
	return entries, nil
}

func repoFromHref(href string) (repoRef, bool) {
	m := repoURLPattern.FindStringSubmatch(href)
	if m == nil {
		return repoRef{}, false
	}
	r := repoRef{Host: strings.ToLower(m[1]), Owner: m[2], Repo: m[3]}
	if r.Owner == "" || r.Repo == "" {
		return repoRef{}, false
	}
	return r, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
