package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/drblury/polyflow/internal/runtime/binding"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	schemapkg "github.com/drblury/polyflow/internal/runtime/schema"
)

func (a *Adapter) printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s <command> [--flag=value | --flag | positional ...] [--help]\n\n", a.service)
	routes := a.routes()
	if len(routes) == 0 {
		fmt.Fprintln(w, "No commands available.")
		return
	}
	fmt.Fprintln(w, "Commands:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range routes {
		fmt.Fprintf(tw, "  %s\t%s\n", r.Target, r.Binding.Description)
	}
	_ = tw.Flush()
	fmt.Fprintln(w, "\nRun 'help <command>' for details.")
}

func (a *Adapter) printCommandHelp(w io.Writer, name string) bool {
	route, ok := a.lookup(name)
	if !ok {
		return false
	}
	fields := commandFields(route.Binding)
	fmt.Fprintf(w, "Usage: %s\n", usageLine(route, fields))
	if route.Binding.Description != "" {
		fmt.Fprintf(w, "\n%s\n", route.Binding.Description)
	}
	if len(fields) > 0 {
		fmt.Fprintln(w, "\nFlags:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, f := range fields {
			req := ""
			if f.Required {
				req = "required"
			}
			fmt.Fprintf(tw, "  --%s\t%s\t%s\t%s\n", f.Name, f.Type, req, f.Description)
		}
		_ = tw.Flush()
	}
	return true
}

func commandFields(b binding.MethodBinding) []schemapkg.Field {
	if b.Schema == nil {
		return nil
	}
	return schemapkg.Fields(b.Schema.JSONSchema())
}

func usageLine(route dispatch.Route, fields []schemapkg.Field) string {
	parts := []string{route.Target}
	for _, p := range route.Entry.Params {
		switch p.Source {
		case binding.SourceArgs:
			parts = append(parts, fmt.Sprintf("<arg%d>", p.Index))
		case binding.SourceQuery:
			parts = append(parts, fmt.Sprintf("[--%s=<value>]", p.Key))
		case binding.SourceBody:
			if p.Key != "" && !hasField(fields, p.Key) {
				parts = append(parts, fmt.Sprintf("[--%s=<value>]", p.Key))
			}
		}
	}
	for _, f := range fields {
		flag := fmt.Sprintf("--%s=<%s>", f.Name, f.Type)
		if !f.Required {
			flag = "[" + flag + "]"
		}
		parts = append(parts, flag)
	}
	return strings.Join(parts, " ")
}

func hasField(fields []schemapkg.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
