package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"quit", Command{Name: "quit"}},
		{":q", Command{Name: "quit"}},
		{"  Search   Bob Jones ", Command{Name: "search", Args: "Bob Jones"}},
		{"chat alice", Command{Name: "chat", Args: "alice"}},
		{"h", Command{Name: "help"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
