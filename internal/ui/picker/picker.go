// Package picker steps through reconciliation groups and lets the user
// pick which catalogue reference should adopt each folder group.
package picker

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/wowpkg/internal/addon"
	"github.com/bnema/wowpkg/internal/reconcile"
	"github.com/bnema/wowpkg/internal/ui/styles"
)

// Choice is a group paired with the candidate the user settled on. A
// skipped group has no Defn.
type Choice struct {
	Group  reconcile.Group
	Defn   addon.Defn
	Picked bool
}

// candidateItem implements list.Item for bubbles/list.
type candidateItem struct {
	defn addon.Defn
}

func (i candidateItem) Title() string { return i.defn.String() }

func (i candidateItem) Description() string {
	return "source " + i.defn.Source
}

func (i candidateItem) FilterValue() string { return i.defn.String() }

// KeyMap defines keyboard shortcuts
type KeyMap struct {
	Pick key.Binding
	Skip key.Binding
	Quit key.Binding
}

var keys = KeyMap{
	Pick: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "adopt")),
	Skip: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip group")),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model walks the groups one at a time.
type Model struct {
	groups  []reconcile.Group
	choices []Choice
	index   int
	list    list.Model
	done    bool
	width   int
	height  int
}

// NewModel creates a picker over the given groups. Groups come ranked,
// the first candidate preselected.
func NewModel(groups []reconcile.Group) Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(styles.Primary).
		BorderLeftForeground(styles.Primary)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(styles.Muted).
		BorderLeftForeground(styles.Primary)

	l := list.New([]list.Item{}, delegate, 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	m := Model{groups: groups, list: l}
	m.loadGroup()
	return m
}

// Choices returns the decisions made before the program ended.
func (m Model) Choices() []Choice { return m.choices }

func (m *Model) loadGroup() {
	if m.index >= len(m.groups) {
		m.done = true
		return
	}
	g := m.groups[m.index]
	items := make([]list.Item, len(g.Candidates))
	for i, d := range g.Candidates {
		items[i] = candidateItem{defn: d}
	}
	m.list.SetItems(items)
	m.list.ResetSelected()
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width-4, msg.Height-8)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Pick):
			if item, ok := m.list.SelectedItem().(candidateItem); ok {
				m.choices = append(m.choices, Choice{
					Group:  m.groups[m.index],
					Defn:   item.defn,
					Picked: true,
				})
				m.index++
				m.loadGroup()
				if m.done {
					return m, tea.Quit
				}
			}
			return m, nil

		case key.Matches(msg, keys.Skip):
			m.choices = append(m.choices, Choice{Group: m.groups[m.index]})
			m.index++
			m.loadGroup()
			if m.done {
				return m, tea.Quit
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.done || m.index >= len(m.groups) {
		return ""
	}
	g := m.groups[m.index]

	var b strings.Builder
	b.WriteString(styles.Title.Render(fmt.Sprintf("Reconcile %d/%d", m.index+1, len(m.groups))))
	b.WriteString("\n\n")

	names := make([]string, len(g.Folders))
	for i, f := range g.Folders {
		names[i] = f.Name
	}
	b.WriteString(styles.MutedText.Render("folders: "))
	b.WriteString(styles.NormalText.Render(strings.Join(names, ", ")))
	b.WriteString("\n\n")
	b.WriteString(m.list.View())
	b.WriteString("\n")
	b.WriteString(styles.Help.Render("enter adopt " + styles.Bullet.String() + " s skip " + styles.Bullet.String() + " q quit"))

	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}
