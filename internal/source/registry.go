package source

import (
	"net/url"
	"strings"

	"github.com/bnema/wowpkg/internal/addon"
)

// Registry holds the loaded resolvers in configuration order. The
// position of a source in the registry is its priority: earlier sources
// win ties during reconciliation.
type Registry struct {
	order []string
	byID  map[string]Resolver
}

// NewRegistry builds a registry from resolvers in priority order.
func NewRegistry(resolvers ...Resolver) *Registry {
	r := &Registry{byID: make(map[string]Resolver, len(resolvers))}
	for _, res := range resolvers {
		id := res.Metadata().ID
		if _, dup := r.byID[id]; dup {
			continue
		}
		r.order = append(r.order, id)
		r.byID[id] = res
	}
	return r
}

// Get returns the resolver for a source id.
func (r *Registry) Get(id string) (Resolver, bool) {
	res, ok := r.byID[id]
	return res, ok
}

// All returns the resolvers in priority order.
func (r *Registry) All() []Resolver {
	out := make([]Resolver, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Priority returns the registration index of a source; unknown sources
// sort after every known one.
func (r *Registry) Priority(id string) int {
	for i, known := range r.order {
		if known == id {
			return i
		}
	}
	return len(r.order)
}

// DefnFromURL asks each source whether a pasted URL belongs to it.
func (r *Registry) DefnFromURL(raw string) (addon.Defn, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return addon.Defn{}, false
	}
	for _, id := range r.order {
		aliaser, ok := r.byID[id].(URLAliaser)
		if !ok {
			continue
		}
		if alias, ok := aliaser.AliasFromURL(u); ok {
			return addon.NewDefn(id, alias), true
		}
	}
	return addon.Defn{}, false
}

// ValidateStrategies checks a reference's filled strategies against its
// source's declared set.
func ValidateStrategies(res Resolver, d addon.Defn) error {
	meta := res.Metadata()
	var unsupported []string
	for _, name := range d.Strategies.Filled() {
		if !meta.Strategies[name] {
			unsupported = append(unsupported, name)
		}
	}
	if len(unsupported) > 0 {
		return &StrategiesUnsupportedError{Source: meta.ID, Strategies: unsupported}
	}
	return nil
}
