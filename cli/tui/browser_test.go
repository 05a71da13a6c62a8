package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

// treeLoader serves nodes keyed by their dotted trail.
func treeLoader(nodes map[string]Node, calls *[]string) Loader {
	return func(_ context.Context, attrs []string) (Node, error) {
		k := strings.Join(attrs, ".")
		if calls != nil {
			*calls = append(*calls, k)
		}
		n, ok := nodes[k]
		if !ok {
			return Node{}, errors.New("read " + k + ": no such attribute")
		}
		return n, nil
	}
}

func sampleTree() map[string]Node {
	ffid := int64(4)
	return map[string]Node{
		"":                {Path: "", Tag: "obj", Children: []string{"answer", "greeter"}},
		"answer":          {Path: "answer", Tag: "int", Value: "42"},
		"greeter":         {Path: "greeter", Tag: "obj", FFID: &ffid, Description: "Greeter {}", Children: []string{"names"}},
		"greeter.names":   {Path: "greeter.names", Tag: "obj", Children: []string{"0", "1"}},
		"greeter.names.0": {Path: "greeter.names.0", Tag: "string", Value: "ada"},
	}
}

func send(m BrowserModel, msg tea.Msg) (BrowserModel, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(BrowserModel), cmd
}

// settle runs cmd and feeds its message back until nothing is pending.
func settle(m BrowserModel, cmd tea.Cmd) BrowserModel {
	for cmd != nil {
		msg := cmd()
		if _, ok := msg.(tea.QuitMsg); ok {
			return m
		}
		m, cmd = send(m, msg)
	}
	return m
}

func press(m BrowserModel, k tea.KeyMsg) BrowserModel {
	m, cmd := send(m, k)
	return settle(m, cmd)
}

var (
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyUp    = tea.KeyMsg{Type: tea.KeyUp}
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyBack  = tea.KeyMsg{Type: tea.KeyBackspace}
	keyQuit  = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}
)

func TestBrowser_InitLoadsStart(t *testing.T) {
	var calls []string
	m := NewBrowserModel(context.Background(), treeLoader(sampleTree(), &calls))
	m = settle(m, m.Init())

	if got := m.Current().Children; len(got) != 2 || got[1] != "greeter" {
		t.Fatalf("children = %v", got)
	}
	if len(calls) != 1 || calls[0] != "" {
		t.Errorf("loader calls = %q, want one call for the start", calls)
	}
	if !strings.Contains(m.View(), "globalThis") {
		t.Errorf("view should title the start as globalThis:\n%s", m.View())
	}
}

func TestBrowser_OpenAndBack(t *testing.T) {
	m := NewBrowserModel(context.Background(), treeLoader(sampleTree(), nil))
	m = settle(m, m.Init())

	m = press(m, keyDown)
	m = press(m, keyEnter)
	if got := strings.Join(m.Trail(), "."); got != "greeter" {
		t.Fatalf("trail = %q, want greeter", got)
	}
	if m.Cursor() != 0 {
		t.Errorf("cursor should reset on open, got %d", m.Cursor())
	}
	view := m.View()
	for _, want := range []string{"greeter", "Greeter {}", "4", "> names"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m = press(m, keyEnter)
	m = press(m, keyEnter)
	if got := m.Current().Value; got != "ada" {
		t.Fatalf("value = %q, want ada", got)
	}

	// A leaf has nothing to open.
	m = press(m, keyEnter)
	if got := strings.Join(m.Trail(), "."); got != "greeter.names.0" {
		t.Errorf("trail = %q after opening a leaf", got)
	}

	m = press(m, keyBack)
	m = press(m, keyBack)
	m = press(m, keyBack)
	if len(m.Trail()) != 0 || m.Current().Tag != "obj" {
		t.Errorf("expected to be back at the start, trail = %v", m.Trail())
	}
	m = press(m, keyBack)
	if len(m.Trail()) != 0 {
		t.Errorf("back at the start should stay put, trail = %v", m.Trail())
	}
}

func TestBrowser_CursorStaysInBounds(t *testing.T) {
	m := NewBrowserModel(context.Background(), treeLoader(sampleTree(), nil))
	m = settle(m, m.Init())

	m = press(m, keyUp)
	if m.Cursor() != 0 {
		t.Errorf("cursor = %d after up at top", m.Cursor())
	}
	m = press(m, keyDown)
	m = press(m, keyDown)
	m = press(m, keyDown)
	if m.Cursor() != 1 {
		t.Errorf("cursor = %d after down past the end, want 1", m.Cursor())
	}
}

func TestBrowser_FailedStepKeepsCurrentNode(t *testing.T) {
	tree := sampleTree()
	tree[""] = Node{Tag: "obj", Children: []string{"answer", "missing"}}
	m := NewBrowserModel(context.Background(), treeLoader(tree, nil))
	m = settle(m, m.Init())

	m = press(m, keyDown)
	m = press(m, keyEnter)
	if m.Err() == nil {
		t.Fatal("expected an error for a failed read")
	}
	if len(m.Trail()) != 0 || m.Cursor() != 1 {
		t.Errorf("failed step moved the browser: trail %v cursor %d", m.Trail(), m.Cursor())
	}
	if !strings.Contains(m.View(), "no such attribute") {
		t.Errorf("view should show the error:\n%s", m.View())
	}

	m = press(m, keyUp)
	m = press(m, keyEnter)
	if m.Err() != nil {
		t.Errorf("successful step should clear the error, got %v", m.Err())
	}
}

func TestBrowser_KeysIgnoredWhileLoading(t *testing.T) {
	m := NewBrowserModel(context.Background(), treeLoader(sampleTree(), nil))
	m = settle(m, m.Init())

	m, cmd := send(m, keyEnter)
	if cmd == nil {
		t.Fatal("open should start a load")
	}
	m, extra := send(m, keyDown)
	if extra != nil || m.Cursor() != 0 {
		t.Errorf("navigation should wait for the pending load")
	}
	if !strings.Contains(m.View(), "loading...") {
		t.Errorf("view should show loading:\n%s", m.View())
	}
	m = settle(m, cmd)
	if got := strings.Join(m.Trail(), "."); got != "answer" {
		t.Errorf("trail = %q, want answer", got)
	}
}

func TestBrowser_Quit(t *testing.T) {
	m := NewBrowserModel(context.Background(), treeLoader(sampleTree(), nil))

	// Quit works even before the first load lands.
	m, cmd := send(m, keyQuit)
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if m.View() != "" {
		t.Errorf("view after quit should be empty, got %q", m.View())
	}
}

func TestBrowser_WindowKeepsCursorVisible(t *testing.T) {
	children := make([]string, 50)
	for i := range children {
		children[i] = "item" + string(rune('A'+i%26))
	}
	m := NewBrowserModel(context.Background(), treeLoader(map[string]Node{"": {Tag: "obj", Children: children}}, nil))
	m = settle(m, m.Init())
	m, _ = send(m, tea.WindowSizeMsg{Width: 80, Height: 24})

	for range 40 {
		m = press(m, keyDown)
	}
	lo, hi := m.window()
	if m.Cursor() < lo || m.Cursor() >= hi {
		t.Errorf("cursor %d outside window [%d, %d)", m.Cursor(), lo, hi)
	}
	if hi-lo != 10 {
		t.Errorf("window size = %d, want 10", hi-lo)
	}
}

func TestRunBrowser_QuitFromInput(t *testing.T) {
	var out strings.Builder
	err := RunBrowser(context.Background(), treeLoader(sampleTree(), nil), strings.NewReader("q"), &out)
	if err != nil {
		t.Fatalf("RunBrowser: %v", err)
	}
}

func TestRunBrowser_CanceledContextIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := make(chan struct{})
	defer close(blocked)
	load := func(context.Context, []string) (Node, error) {
		<-blocked
		return Node{}, nil
	}
	var out strings.Builder
	if err := RunBrowser(ctx, load, strings.NewReader(""), &out); err != nil {
		t.Fatalf("RunBrowser: %v", err)
	}
}
