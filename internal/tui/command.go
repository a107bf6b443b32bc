package tui

import "strings"

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// Commands lists the names accepted in command mode.
var Commands = []string{"chat", "help", "logout", "more", "quit", "retry", "search"}

var aliases = map[string]string{"h": "help", "q": "quit", "s": "search", "c": "chat"}

// ParseCommand parses a command string, with or without the leading ':'.
// Aliases resolve to their full names.
func ParseCommand(input string) Command {
	input = strings.TrimPrefix(strings.TrimSpace(input), ":")
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if full, ok := aliases[cmd.Name]; ok {
		cmd.Name = full
	}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}
