// Package report renders plans, run history, catalogue queries and the plugin
// list for the terminal or for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"ddsim/internal/mangle"
	"ddsim/internal/plugins"
	"ddsim/internal/resolve"
	"ddsim/internal/simulation"
	"ddsim/internal/store"
)

// Format selects the renderer.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatTable, FormatMarkdown, FormatJSON, FormatYAML}

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return "", fmt.Errorf("unknown format %q (want %s)", s, strings.Join(names, ", "))
}

// Options tune human-readable output.
type Options struct {
	// Color enables glamour's automatic style; otherwise output is plain.
	Color bool
	// Width wraps markdown output; zero means 100 columns.
	Width int
	// Calls includes the kernel call log.
	Calls bool
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// Plan renders a prepared plan.
func Plan(w io.Writer, plan *simulation.Plan, f Format, opts Options) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, plan)
	case FormatYAML:
		return writeYAML(w, plan)
	case FormatMarkdown:
		return writeMarkdown(w, planMarkdown(plan, opts), opts)
	}

	t := newTable("Detector", "Type", "Category", "Action", "From", "Filters", "From")
	for _, b := range bindings(plan) {
		t.Row(b.Detector, b.SensitiveType, b.Category.String(), b.Action.String(),
			source(b.ActionSource, b.ActionPattern), filterList(b.Filters), source(b.FilterSource, b.FilterPattern))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s  geometry %s  (%s)\n", plan.RunID, plan.Geometry, plan.CompactFile)
	sb.WriteString(t.String())
	sb.WriteString("\n")
	if len(plan.Filters) > 0 {
		ft := newTable("Filter", "Plugin", "Parameters")
		for _, fi := range plan.Filters {
			ft.Row(fi.ID, fi.Plugin, fi.Params.String())
		}
		sb.WriteString(ft.String())
		sb.WriteString("\n")
	}
	for _, d := range diagnostics(plan) {
		sb.WriteString(warnStyle.Render(fmt.Sprintf("warning: %s (%s): %s", d.Detector, d.SensitiveType, d.Message)))
		sb.WriteString("\n")
	}
	if opts.Calls {
		for _, c := range plan.Calls {
			sb.WriteString(dimStyle.Render(c.String()))
			sb.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func planMarkdown(plan *simulation.Plan, opts Options) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run %s\n\nGeometry **%s** from `%s`\n\n", plan.RunID, plan.Geometry, plan.CompactFile)
	sb.WriteString("| Detector | Type | Category | Action | From | Filters | From |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")
	for _, b := range bindings(plan) {
		fmt.Fprintf(&sb, "| %s | %s | %s | `%s` | %s | %s | %s |\n",
			b.Detector, b.SensitiveType, b.Category, b.Action.String(),
			source(b.ActionSource, b.ActionPattern), filterList(b.Filters), source(b.FilterSource, b.FilterPattern))
	}
	if diags := diagnostics(plan); len(diags) > 0 {
		sb.WriteString("\n## Warnings\n\n")
		for _, d := range diags {
			fmt.Fprintf(&sb, "- **%s** (`%s`): %s\n", d.Detector, d.SensitiveType, d.Message)
		}
	}
	if opts.Calls && len(plan.Calls) > 0 {
		sb.WriteString("\n## Kernel calls\n\n")
		for _, c := range plan.Calls {
			fmt.Fprintf(&sb, "1. `%s`\n", c.String())
		}
	}
	return sb.String()
}

// Runs renders the run history.
func Runs(w io.Writer, runs []store.RunSummary, f Format, opts Options) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, runs)
	case FormatYAML:
		return writeYAML(w, runs)
	case FormatMarkdown:
		var sb strings.Builder
		sb.WriteString("| Run | Created | Geometry | Bindings | Unknown |\n|---|---|---|---|---|\n")
		for _, r := range runs {
			fmt.Fprintf(&sb, "| `%s` | %s | %s | %d | %d |\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Geometry, r.Bindings, r.Unknown)
		}
		return writeMarkdown(w, sb.String(), opts)
	}
	t := newTable("Run", "Created", "Geometry", "Steering", "Bindings", "Unknown")
	for _, r := range runs {
		t.Row(r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Geometry, r.SteeringFile,
			fmt.Sprint(r.Bindings), fmt.Sprint(r.Unknown))
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// Query renders a catalogue query result.
func Query(w io.Writer, res *mangle.QueryResult, f Format, opts Options) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, res)
	case FormatYAML:
		return writeYAML(w, res)
	case FormatMarkdown:
		var sb strings.Builder
		fmt.Fprintf(&sb, "`%s`: %d result(s)\n\n", res.Query, len(res.Facts))
		for _, fact := range res.Facts {
			fmt.Fprintf(&sb, "- `%s`\n", fact.String())
		}
		return writeMarkdown(w, sb.String(), opts)
	}
	var sb strings.Builder
	for _, fact := range res.Facts {
		sb.WriteString(fact.String())
		sb.WriteString("\n")
	}
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%d result(s) in %s", len(res.Facts), res.Duration)))
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// PluginInfo describes one plugin type for listing.
type PluginInfo struct {
	Kind       string             `json:"kind" yaml:"kind"`
	Type       string             `json:"type" yaml:"type"`
	Help       string             `json:"help" yaml:"help"`
	Properties []plugins.Property `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// PluginInfos lists every registered plugin with its declared properties.
func PluginInfos(reg *plugins.Registry) []PluginInfo {
	var out []PluginInfo
	for _, typ := range reg.FilterTypes() {
		info := PluginInfo{Kind: "filter", Type: typ, Help: reg.Help(typ)}
		if f, err := reg.NewFilter(typ); err == nil {
			info.Properties = f.Declared()
		}
		out = append(out, info)
	}
	for _, typ := range reg.ActionTypes() {
		info := PluginInfo{Kind: "action", Type: typ, Help: reg.Help(typ)}
		if a, err := reg.NewAction(typ); err == nil {
			info.Properties = a.Declared()
		}
		out = append(out, info)
	}
	return out
}

// Plugins renders the plugin list.
func Plugins(w io.Writer, reg *plugins.Registry, f Format, opts Options) error {
	infos := PluginInfos(reg)
	switch f {
	case FormatJSON:
		return writeJSON(w, infos)
	case FormatYAML:
		return writeYAML(w, infos)
	case FormatMarkdown:
		var sb strings.Builder
		for _, info := range infos {
			fmt.Fprintf(&sb, "### %s `%s`\n\n%s\n\n", info.Kind, info.Type, info.Help)
			for _, p := range info.Properties {
				fmt.Fprintf(&sb, "- `%s` (%s, default `%v`): %s\n", p.Name, p.Kind, p.Default, p.Help)
			}
			sb.WriteString("\n")
		}
		return writeMarkdown(w, sb.String(), opts)
	}
	t := newTable("Kind", "Type", "Properties", "Description")
	for _, info := range infos {
		props := make([]string, len(info.Properties))
		for i, p := range info.Properties {
			props[i] = fmt.Sprintf("%s:%s", p.Name, p.Kind)
		}
		t.Row(info.Kind, info.Type, strings.Join(props, " "), info.Help)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func bindings(plan *simulation.Plan) []resolve.Binding {
	if plan.Result == nil {
		return nil
	}
	return plan.Result.Bindings
}

func diagnostics(plan *simulation.Plan) []resolve.Diagnostic {
	if plan.Result == nil {
		return nil
	}
	return plan.Result.Diagnostics
}

func source(s resolve.Source, pattern string) string {
	if s == resolve.FromOverride && pattern != "" {
		return fmt.Sprintf("override %q", pattern)
	}
	return string(s)
}

func filterList(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeMarkdown(w io.Writer, md string, opts Options) error {
	width := opts.Width
	if width <= 0 {
		width = 100
	}
	style := glamour.WithStandardStyle("notty")
	if opts.Color {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
