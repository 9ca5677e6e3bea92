package source

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bnema/wowpkg/internal/addon"
)

// resolveConcurrency bounds the fan-out of ResolveOne calls.
const resolveConcurrency = 8

// Result is one slot of a resolution map: a candidate or a typed error,
// never both.
type Result struct {
	Candidate *Candidate
	Err       error
}

// Resolve fans the references out to their sources concurrently. The
// result map is total over the input: every reference appears, either
// with a candidate or with an error. One reference's failure never
// aborts its siblings, and strategy mismatches fail fast without a
// network call.
func (r *Registry) Resolve(ctx context.Context, defns []addon.Defn) map[addon.Defn]Result {
	results := make(map[addon.Defn]Result, len(defns))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)

	seen := make(map[addon.Defn]bool, len(defns))
	for _, d := range defns {
		if seen[d] {
			continue
		}
		seen[d] = true

		res, ok := r.byID[d.Source]
		if !ok {
			results[d] = Result{Err: ErrSourceInvalid}
			continue
		}
		if err := ValidateStrategies(res, d); err != nil {
			results[d] = Result{Err: err}
			continue
		}

		d := d
		g.Go(func() error {
			cand, err := res.ResolveOne(ctx, d)
			mu.Lock()
			results[d] = Result{Candidate: cand, Err: err}
			mu.Unlock()
			return nil
		})
	}

	// Goroutines only report through the map, so this cannot fail.
	_ = g.Wait()
	return results
}
