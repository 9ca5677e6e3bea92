// Package progress renders a multi-package operation as a live step
// list with a download bar for the active transfers.
package progress

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/bnema/wowpkg/internal/fetch"
	"github.com/bnema/wowpkg/internal/ui/styles"
)

// State represents the current state of one package in the batch.
type State int

const (
	StatePending State = iota
	StateActive
	StateComplete
	StateError
)

// Messages driving the model. The manager goroutine sends these via
// tea.Program.Send.
type (
	// ItemStartMsg marks a package as being worked on.
	ItemStartMsg struct{ Name string }

	// ItemBytesMsg updates download progress; Total is -1 when the
	// server did not report a length.
	ItemBytesMsg struct {
		Name        string
		Done, Total int64
	}

	// ItemDoneMsg finishes a package, with its error if it failed.
	ItemDoneMsg struct {
		Name string
		Err  error
	}

	// DoneMsg ends the batch and quits the program.
	DoneMsg struct{}
)

type item struct {
	name        string
	state       State
	done, total int64
	err         error
}

// Model is the bubbletea model for a batch operation.
type Model struct {
	title   string
	order   []string
	items   map[string]*item
	spinner spinner.Model
	bar     progress.Model
	width   int
	quit    bool
}

// NewModel creates a model for the named packages, all pending.
func NewModel(title string, names ...string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)

	items := make(map[string]*item, len(names))
	order := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := items[n]; ok {
			continue
		}
		items[n] = &item{name: n}
		order = append(order, n)
	}
	return Model{title: title, order: order, items: items, spinner: s, bar: bar, width: 80}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.WindowSize())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case ItemStartMsg:
		if it := m.items[msg.Name]; it != nil {
			it.state = StateActive
		}

	case ItemBytesMsg:
		if it := m.items[msg.Name]; it != nil {
			it.state = StateActive
			it.done, it.total = msg.Done, msg.Total
		}

	case ItemDoneMsg:
		if it := m.items[msg.Name]; it != nil {
			it.err = msg.Err
			if msg.Err != nil {
				it.state = StateError
			} else {
				it.state = StateComplete
			}
		}

	case DoneMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(styles.Title.Render(m.title))
	b.WriteString("\n\n")

	for _, name := range m.order {
		it := m.items[name]
		b.WriteString("  ")
		b.WriteString(m.icon(it))
		b.WriteString(" ")
		b.WriteString(styles.PkgName.Render(it.name))
		switch {
		case it.state == StateError:
			b.WriteString(" " + styles.ErrorText.Render(it.err.Error()))
		case it.state == StateActive && it.done > 0:
			b.WriteString(" " + styles.MutedText.Render(transferDetail(it.done, it.total)))
			if it.total > 0 {
				b.WriteString("\n    " + m.bar.ViewAs(float64(it.done)/float64(it.total)))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + styles.Help.Render("ctrl+c to cancel"))
	return b.String()
}

// Cancelled reports whether the user aborted the batch.
func (m Model) Cancelled() bool { return m.quit }

func (m Model) icon(it *item) string {
	switch it.state {
	case StateComplete:
		return styles.CheckMark.String()
	case StateError:
		return styles.CrossMark.String()
	case StateActive:
		return m.spinner.View()
	default:
		return styles.MutedText.Render("·")
	}
}

func transferDetail(done, total int64) string {
	if total > 0 {
		return formatBytes(done) + " / " + formatBytes(total)
	}
	return formatBytes(done)
}

// Reporter bridges fetch progress callbacks to program messages,
// throttled to roughly one update per percent.
func Reporter(p *tea.Program, name string) fetch.Progress {
	var last int64
	return func(done, total int64) {
		if total > 0 {
			step := total / 100
			if step < 1 {
				step = 1
			}
			if done-last < step && done != total {
				return
			}
		} else if done-last < 256*1024 {
			return
		}
		last = done
		p.Send(ItemBytesMsg{Name: name, Done: done, Total: total})
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatInt(bytes, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
