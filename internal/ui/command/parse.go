package command

import (
	"fmt"
	"strings"
)

// Name identifies a palette command.
type Name string

const (
	Mailbox Name = "mailbox"
	Search  Name = "search"
	Refresh Name = "refresh"
	Help    Name = "help"
	Quit    Name = "quit"
)

// Usage lists the palette commands with a one-line description each.
var Usage = []struct {
	Syntax string
	Help   string
}{
	{"mailbox NAME", "open another mailbox (alias: m)"},
	{"search TEXT", "search all watched mailboxes (alias: s)"},
	{"refresh", "re-sort the listing from the server (alias: r)"},
	{"help", "show keyboard shortcuts"},
	{"quit", "exit (alias: q)"},
}

var aliases = map[string]Name{
	"m": Mailbox, "mailbox": Mailbox, "cd": Mailbox,
	"s": Search, "search": Search,
	"r": Refresh, "refresh": Refresh,
	"help": Help, "?": Help,
	"q": Quit, "quit": Quit, "exit": Quit,
}

// Command is a parsed palette command.
type Command struct {
	Name Name
	Arg  string
}

// Parse interprets a palette command line.
func Parse(line CommandMsg) (Command, error) {
	word, arg, _ := strings.Cut(strings.TrimSpace(string(line)), " ")
	name, ok := aliases[strings.ToLower(word)]
	if !ok {
		return Command{}, fmt.Errorf("unknown command %q", word)
	}

	arg = strings.TrimSpace(arg)
	switch name {
	case Mailbox:
		if arg == "" {
			return Command{}, fmt.Errorf("usage: mailbox NAME")
		}
	case Search:
		// An empty search returns to the mailbox listing.
	default:
		if arg != "" {
			return Command{}, fmt.Errorf("%s takes no argument", name)
		}
	}
	return Command{Name: name, Arg: arg}, nil
}
