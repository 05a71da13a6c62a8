package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Node is one remote value as the browser shows it.
type Node struct {
	Path        string
	Tag         string
	FFID        *int64
	Description string
	Value       string
	// Children are the attribute names or indices that can be opened.
	Children []string
}

// Loader reads the node reached by walking attrs from the browser's start.
// It runs off the UI goroutine.
type Loader func(ctx context.Context, attrs []string) (Node, error)

// loadedMsg carries a finished Loader call back to Update.
type loadedMsg struct {
	trail []string
	node  Node
	err   error
}

// BrowserModel is a Bubble Tea model that walks a remote object graph.
type BrowserModel struct {
	ctx  context.Context
	load Loader
	help help.Model

	trail    []string
	node     Node
	cursor   int
	loading  bool
	err      error
	width    int
	height   int
	quitting bool
}

// NewBrowserModel creates a browser starting at the value load(nil) returns.
func NewBrowserModel(ctx context.Context, load Loader) BrowserModel {
	return BrowserModel{
		ctx:     ctx,
		load:    load,
		help:    help.New(),
		loading: true,
	}
}

// Init implements tea.Model.
func (m BrowserModel) Init() tea.Cmd {
	return m.fetch(nil)
}

func (m BrowserModel) fetch(trail []string) tea.Cmd {
	load, ctx := m.load, m.ctx
	return func() tea.Msg {
		node, err := load(ctx, trail)
		return loadedMsg{trail: trail, node: node, err: err}
	}
}

// Update implements tea.Model.
func (m BrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case loadedMsg:
		m.loading = false
		if msg.err != nil {
			// Stay where we were; the failed step is reported below.
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.trail = msg.trail
		m.node = msg.node
		m.cursor = 0
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m BrowserModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if m.loading {
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.node.Children)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Open):
		if len(m.node.Children) == 0 {
			return m, nil
		}
		next := make([]string, len(m.trail), len(m.trail)+1)
		copy(next, m.trail)
		next = append(next, m.node.Children[m.cursor])
		m.loading = true
		return m, m.fetch(next)
	case key.Matches(msg, keys.Back):
		if len(m.trail) == 0 {
			return m, nil
		}
		m.loading = true
		return m, m.fetch(m.trail[:len(m.trail)-1])
	}
	return m, nil
}

// Trail returns the attrs walked from the start to the current node.
func (m BrowserModel) Trail() []string { return m.trail }

// Current returns the node on screen.
func (m BrowserModel) Current() Node { return m.node }

// Cursor returns the index of the selected child.
func (m BrowserModel) Cursor() int { return m.cursor }

// Err returns the error of the last failed step, if any.
func (m BrowserModel) Err() error { return m.err }

// View implements tea.Model.
func (m BrowserModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := m.node.Path
	if title == "" {
		title = "globalThis"
	}
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n")

	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
	}
	row("Tag", m.node.Tag)
	if m.node.FFID != nil {
		row("FFID", fmt.Sprint(*m.node.FFID))
	}
	row("Description", m.node.Description)
	row("Value", m.node.Value)

	if len(m.node.Children) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Attributes:"))
		b.WriteString("\n")
		lo, hi := m.window()
		for i := lo; i < hi; i++ {
			name := m.node.Children[i]
			if i == m.cursor {
				b.WriteString(SelectedStyle.Render("> " + name))
			} else {
				b.WriteString("  " + name)
			}
			b.WriteString("\n")
		}
	}

	if m.loading {
		b.WriteString("\nloading...\n")
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}

	return BoxStyle.Render(b.String()) + "\n" +
		HelpStyle.Render(m.help.ShortHelpView(keys.ShortHelp()))
}

// window returns the slice of children that fits the terminal, keeping the
// cursor visible.
func (m BrowserModel) window() (int, int) {
	n := len(m.node.Children)
	rows := m.height - 14
	if m.height == 0 || rows >= n {
		return 0, n
	}
	if rows < 1 {
		rows = 1
	}
	lo := m.cursor - rows/2
	lo = max(0, min(lo, n-rows))
	return lo, lo + rows
}

// keyMap defines key bindings.
type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Open key.Binding
	Back key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Open, k.Back, k.Quit}
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Open: key.NewBinding(
		key.WithKeys("enter", "right", "l"),
		key.WithHelp("enter", "open"),
	),
	Back: key.NewBinding(
		key.WithKeys("backspace", "left", "h"),
		key.WithHelp("backspace", "back"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunBrowser runs the browser until the user quits or ctx is done.
func RunBrowser(ctx context.Context, load Loader, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(
		NewBrowserModel(ctx, load),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
