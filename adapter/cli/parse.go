package cli

import (
	"net/url"
	"strings"
)

// Invocation is one tokenized command line.
type Invocation struct {
	Command string
	// Flags holds --flag=value as strings and bare --flag as true.
	Flags       map[string]any
	Positionals []string
	Help        bool
}

// Query renders the flags as url.Values for query bound parameters.
func (inv Invocation) Query() url.Values {
	q := make(url.Values, len(inv.Flags))
	for k, v := range inv.Flags {
		switch typed := v.(type) {
		case string:
			q.Add(k, typed)
		case bool:
			if typed {
				q.Add(k, "true")
			}
		}
	}
	return q
}

// Args returns the positionals as handler arguments.
func (inv Invocation) Args() []any {
	args := make([]any, len(inv.Positionals))
	for i, p := range inv.Positionals {
		args[i] = p
	}
	return args
}

// Parse splits tokens into command, flags and positionals. "--" ends flag
// parsing; a repeated flag keeps its last value.
func Parse(tokens []string) Invocation {
	inv := Invocation{Flags: map[string]any{}}
	if len(tokens) == 0 {
		return inv
	}
	inv.Command = tokens[0]
	onlyPositionals := false
	for _, tok := range tokens[1:] {
		switch {
		case onlyPositionals:
			inv.Positionals = append(inv.Positionals, tok)
		case tok == "--":
			onlyPositionals = true
		case tok == "--help" || tok == "-h":
			inv.Help = true
		case strings.HasPrefix(tok, "--") && len(tok) > 2:
			name, value, hasValue := strings.Cut(tok[2:], "=")
			if hasValue {
				inv.Flags[name] = value
			} else {
				inv.Flags[name] = true
			}
		default:
			inv.Positionals = append(inv.Positionals, tok)
		}
	}
	return inv
}
