package ui

import (
	"reflect"
	"strings"
	"testing"

	"github.com/rivo/tview"
)

func TestPagesStack(t *testing.T) {
	p := NewPages()
	for _, name := range []string{"list", "thread", "details"} {
		p.AddPage(name, tview.NewBox(), true, false)
	}
	var seen [][]string
	p.SetOnChange(func(stack []string) { seen = append(seen, stack) })

	p.Reset("list")
	p.Push("thread")
	p.Push("thread")
	p.Push("details")
	if got := p.Stack(); !reflect.DeepEqual(got, []string{"list", "thread", "details"}) {
		t.Fatalf("Stack() = %v", got)
	}
	if len(seen) != 3 {
		t.Fatalf("onChange called %d times, want 3", len(seen))
	}

	if top := p.Pop(); top != "details" || p.Current() != "thread" {
		t.Fatalf("Pop() = %q, current %q", top, p.Current())
	}
	p.Pop()
	if p.Pop() != "" || p.Current() != "list" {
		t.Fatalf("last page popped: %v", p.Stack())
	}
}

func TestPagesPopTo(t *testing.T) {
	p := NewPages()
	for _, name := range []string{"list", "thread", "details", "search"} {
		p.AddPage(name, tview.NewBox(), true, false)
	}
	p.Reset("list")
	p.Push("thread")
	p.Push("details")
	p.Push("search")

	if !p.Contains("thread") || p.Contains("help") {
		t.Fatalf("Contains() wrong for %v", p.Stack())
	}
	p.PopTo("list")
	if got := p.Stack(); !reflect.DeepEqual(got, []string{"list"}) {
		t.Fatalf("Stack() after PopTo(list) = %v", got)
	}
	p.PopTo("search")
	if got := p.Stack(); !reflect.DeepEqual(got, []string{"search"}) {
		t.Fatalf("Stack() after PopTo(missing) = %v", got)
	}
}

func TestMenuColumns(t *testing.T) {
	m := NewMenu(DefaultTheme(), 2)
	got := m.layout([]MenuHint{
		{Key: "q", Description: "Quit"},
		{Key: "?", Description: "Help"},
		{Key: "Enter", Description: "Open"},
	})
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("layout has %d lines, want 2:\n%s", len(lines), got)
	}
	if !strings.Contains(lines[0], "<q>") || !strings.Contains(lines[0], "<Enter>") {
		t.Errorf("first line = %q", lines[0])
	}
	if strings.Contains(lines[1], "Enter") || !strings.Contains(lines[1], "<?>") {
		t.Errorf("second line = %q", lines[1])
	}
	if m.layout(nil) != "" {
		t.Error("empty hints render something")
	}
}

func TestCrumbsTruncateAndEscape(t *testing.T) {
	c := NewCrumbs(DefaultTheme())
	got := c.render([]string{"Conversations", "[admin] A very long conversation title"})
	if !strings.Contains(got, "Conversations") {
		t.Errorf("render() = %q", got)
	}
	if !strings.Contains(got, "[admin[] A very long con…") {
		t.Errorf("long crumb not escaped and truncated: %q", got)
	}
}

func TestCompletions(t *testing.T) {
	names := []string{"chat", "help", "logout", "more", "quit", "retry", "search"}
	tests := []struct {
		prefix string
		want   []string
	}{
		{"c", []string{"chat"}},
		{"re", []string{"retry"}},
		{"chat", nil},
		{"x", nil},
	}
	for _, tt := range tests {
		if got := completions(names, tt.prefix); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("completions(%q) = %v, want %v", tt.prefix, got, tt.want)
		}
	}
}

func TestPromptHistory(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	p.Activate(PromptCommand)
	for _, cmd := range []string{"search Bo", "more", "more", "retry"} {
		p.remember(cmd)
	}
	if got := p.History(); !reflect.DeepEqual(got, []string{"search Bo", "more", "retry"}) {
		t.Fatalf("History() = %v", got)
	}

	p.step(-1)
	p.step(-1)
	if p.GetText() != "more" {
		t.Fatalf("two steps back = %q", p.GetText())
	}
	p.step(-5)
	if p.GetText() != "search Bo" {
		t.Fatalf("oldest = %q", p.GetText())
	}
	p.step(5)
	if p.GetText() != "" {
		t.Fatalf("past newest = %q", p.GetText())
	}

	for i := range historySize + 5 {
		p.remember(string(rune('a' + i)))
	}
	if n := len(p.History()); n != historySize {
		t.Fatalf("history holds %d entries", n)
	}
}
