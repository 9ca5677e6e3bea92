package cmd

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/manager"
	"github.com/bnema/wowpkg/internal/ui/progress"
)

// runBatch drives a lifecycle operation under the live progress view.
// The operation runs on its own goroutine and reports through manager
// events; closing the view cancels the context.
func runBatch(ctx context.Context, title string, defns []addon.Defn, opts manager.Options,
	op func(context.Context, []addon.Defn, manager.Options) map[addon.Defn]manager.Result,
) (map[addon.Defn]manager.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	names := make([]string, len(defns))
	for i, d := range defns {
		names[i] = d.String()
	}
	p := tea.NewProgram(progress.NewModel(title, names...))

	var mu sync.Mutex
	reporters := make(map[string]func(done, total int64))
	opts.Events = manager.Events{
		Started: func(d addon.Defn) {
			p.Send(progress.ItemStartMsg{Name: d.String()})
		},
		Bytes: func(d addon.Defn, done, total int64) {
			name := d.String()
			mu.Lock()
			r := reporters[name]
			if r == nil {
				r = progress.Reporter(p, name)
				reporters[name] = r
			}
			mu.Unlock()
			r(done, total)
		},
		Finished: func(d addon.Defn, err error) {
			p.Send(progress.ItemDoneMsg{Name: d.String(), Err: err})
		},
	}

	done := make(chan map[addon.Defn]manager.Result, 1)
	go func() {
		results := op(ctx, defns, opts)
		p.Send(progress.DoneMsg{})
		done <- results
	}()

	finalModel, err := p.Run()
	if err != nil {
		cancel()
	}
	if m, ok := finalModel.(progress.Model); ok && m.Cancelled() {
		cancel()
	}
	return <-done, err
}
