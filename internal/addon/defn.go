package addon

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy names as declared by sources and stored per package.
const (
	StrategyAnyFlavour     = "any_flavour"
	StrategyAnyReleaseType = "any_release_type"
	StrategyVersionEq      = "version_eq"
)

// Strategies is the closed record of per-reference resolution overrides.
// The zero value means "source defaults".
type Strategies struct {
	// AnyFlavour accepts builds for any game flavour, not just the
	// profile's.
	AnyFlavour bool
	// AnyReleaseType accepts alpha/beta files in addition to releases.
	AnyReleaseType bool
	// VersionEq pins resolution to this exact version string.
	VersionEq string
}

// Filled returns the names of the non-default strategies.
func (s Strategies) Filled() []string {
	var names []string
	if s.AnyFlavour {
		names = append(names, StrategyAnyFlavour)
	}
	if s.AnyReleaseType {
		names = append(names, StrategyAnyReleaseType)
	}
	if s.VersionEq != "" {
		names = append(names, StrategyVersionEq)
	}
	return names
}

// Defn is a reference to a desired addon: where to look, what to look
// for, and how to pick a build. It is an immutable value type and is
// used directly as a map key.
type Defn struct {
	// Source is the source identifier, e.g. "curse".
	Source string
	// Alias is the human-entered slug or numeric id.
	Alias string
	// ID is the source's stable identifier, once known.
	ID string

	Strategies Strategies
}

var ErrMalformedDefn = errors.New("malformed addon reference")

// NewDefn builds a reference from a source and alias.
func NewDefn(source, alias string) Defn {
	return Defn{Source: source, Alias: alias}
}

// ParseDefn parses "source:alias" with an optional "==version" pin,
// e.g. "curse:molinari" or "curse:molinari==1.2.3".
func ParseDefn(raw string) (Defn, error) {
	src, rest, ok := strings.Cut(raw, ":")
	if !ok || src == "" || rest == "" {
		return Defn{}, fmt.Errorf("%w: %q", ErrMalformedDefn, raw)
	}
	d := Defn{Source: strings.ToLower(src)}
	if alias, version, pinned := strings.Cut(rest, "=="); pinned {
		if alias == "" || version == "" {
			return Defn{}, fmt.Errorf("%w: %q", ErrMalformedDefn, raw)
		}
		d.Alias = alias
		d.Strategies.VersionEq = version
	} else {
		d.Alias = rest
	}
	return d, nil
}

// WithID returns a copy of the reference with the stable id filled in.
func (d Defn) WithID(id string) Defn {
	d.ID = id
	return d
}

// Key is a stable identity for the addon the reference points at. The
// id wins over the alias once known, so a pre- and post-resolution
// reference to the same addon share a key.
func (d Defn) Key() string {
	if d.ID != "" {
		return d.Source + ":" + d.ID
	}
	return d.Source + ":" + strings.ToLower(d.Alias)
}

func (d Defn) String() string {
	s := d.Source + ":" + d.Alias
	if d.Strategies.VersionEq != "" {
		s += "==" + d.Strategies.VersionEq
	}
	return s
}
