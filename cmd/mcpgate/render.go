package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/catalog"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	pluginStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	enabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type toolSource interface {
	Plugins() []tools.Plugin
	Conflicts() []tools.Conflict
}

func renderTools(w io.Writer, src toolSource, only string) error {
	plugins := src.Plugins()
	if only != "" {
		plugins = tools.FilterEnabled(plugins, []string{only})
		if len(plugins) == 0 {
			return fmt.Errorf("plugin %q is not enabled", only)
		}
	}

	shadowed := map[string]string{}
	for _, c := range src.Conflicts() {
		shadowed[c.Shadowed+"/"+c.Tool] = c.Winner
	}

	total := 0
	var b strings.Builder
	for _, p := range plugins {
		b.WriteString(pluginStyle.Render(p.Name))
		b.WriteString(dimStyle.Render(fmt.Sprintf(" (%d)", len(p.Tools))))
		b.WriteString("\n")
		for _, t := range p.Tools {
			line := "  " + toolStyle.Render(t.Name)
			if winner, ok := shadowed[p.Name+"/"+t.Name]; ok {
				line += warnStyle.Render(" shadowed by " + winner)
			} else {
				total++
			}
			b.WriteString(line + "\n")
			if t.Description != "" {
				b.WriteString("    " + dimStyle.Render(tools.Truncate(t.Description, 100)) + "\n")
			}
		}
	}

	header := titleStyle.Render(fmt.Sprintf("%d tools from %d plugins", total, len(plugins)))
	_, err := fmt.Fprintf(w, "%s\n\n%s", header, b.String())
	return err
}

func renderPlugins(w io.Writer, entries []catalog.Entry, enabled []string) error {
	active := map[string]bool{}
	for _, e := range tools.FilterEnabled(entries, enabled) {
		active[e.Name] = true
	}

	width := 0
	for _, e := range entries {
		if len(e.Name) > width {
			width = len(e.Name)
		}
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Plugins") + "\n\n")
	for _, e := range entries {
		mark := dimStyle.Render("[ ]")
		if active[e.Name] {
			mark = enabledStyle.Render("[x]")
		}
		name := lipgloss.NewStyle().Width(width).Render(e.Name)
		fmt.Fprintf(&b, "%s %s  %s\n", mark, pluginStyle.Render(name), dimStyle.Render(e.Description))
	}
	if unknown := tools.UnknownNames(entries, enabled); len(unknown) > 0 {
		b.WriteString("\n" + warnStyle.Render("unknown: "+strings.Join(unknown, ", ")) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
