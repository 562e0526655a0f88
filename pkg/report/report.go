// SPDX-License-Identifier: MPL-2.0

// Package report defines the resolution report handed to the compiler driver and its
// renderings.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/circkit/circpkg/pkg/diag"
)

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ErrUnknownFormat is returned by ParseFormat for unsupported names.
var ErrUnknownFormat = errors.New("unknown report format")

type (
	// Format names a report rendering.
	Format string

	// Package is one resolved package in build order.
	Package struct {
		Name         string   `json:"name" yaml:"name"`
		Version      string   `json:"version" yaml:"version"`
		LocalPath    string   `json:"local_path" yaml:"local_path"`
		Source       string   `json:"source" yaml:"source"`
		Fingerprint  string   `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
		Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	}

	// Report is the outcome of a successful resolution. Packages are ordered with
	// dependencies first and the root last.
	Report struct {
		ResolutionID string            `json:"resolution_id" yaml:"resolution_id"`
		Root         string            `json:"root" yaml:"root"`
		Packages     []Package         `json:"packages" yaml:"packages"`
		Diagnostics  []diag.Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	}

	// Styles decorates the text rendering. The zero value renders plain text.
	Styles struct {
		Header  lipgloss.Style
		Name    lipgloss.Style
		Warning lipgloss.Style
		Info    lipgloss.Style
	}
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatText, FormatJSON, FormatYAML, FormatMarkdown}
}

// ParseFormat maps a user-supplied name to a Format. "md" is accepted for Markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML, FormatMarkdown:
		return f, nil
	case "", "txt":
		return FormatText, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownFormat, s)
	}
}

// Package returns the package called name, or false.
func (r *Report) Package(name string) (Package, bool) {
	for _, p := range r.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

// Write renders r in format f.
func (r *Report) Write(w io.Writer, f Format, styles Styles) error {
	switch f {
	case FormatJSON:
		return r.WriteJSON(w)
	case FormatYAML:
		return r.WriteYAML(w)
	case FormatMarkdown:
		_, err := io.WriteString(w, r.Markdown())
		return err
	case FormatText:
		_, err := io.WriteString(w, r.Text(styles))
		return err
	default:
		return fmt.Errorf("%w %q", ErrUnknownFormat, f)
	}
}

// WriteJSON writes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML writes r as YAML.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// Text renders a column-aligned summary.
func (r *Report) Text(styles Styles) string {
	headers := []string{"NAME", "VERSION", "SOURCE", "PATH"}
	rows := make([][]string, len(r.Packages))
	for i, p := range r.Packages {
		rows[i] = []string{p.Name, p.Version, p.Source, p.LocalPath}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "resolved %s (%d packages, resolution %s)\n\n", r.Root, len(r.Packages), r.ResolutionID)
	sb.WriteString(styles.Header.Render(formatRow(headers, widths)))
	sb.WriteByte('\n')
	for _, row := range rows {
		line := formatRow(row, widths)
		name := row[0]
		sb.WriteString(styles.Name.Render(name))
		sb.WriteString(line[len(name):])
		sb.WriteByte('\n')
	}

	if len(r.Diagnostics) > 0 {
		sb.WriteString("\ndiagnostics:\n")
		for _, d := range r.Diagnostics {
			style := styles.Info
			if d.Severity == diag.SeverityWarning {
				style = styles.Warning
			}
			sb.WriteString("  ")
			sb.WriteString(style.Render(d.String()))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Markdown renders r as a Markdown document.
func (r *Report) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Resolution of `%s`\n\n", r.Root)
	fmt.Fprintf(&sb, "Resolution ID: `%s`\n\n", r.ResolutionID)
	sb.WriteString("| # | Package | Version | Source | Fingerprint |\n")
	sb.WriteString("|---|---------|---------|--------|-------------|\n")
	for i, p := range r.Packages {
		fp := p.Fingerprint
		if fp == "" {
			fp = "-"
		}
		fmt.Fprintf(&sb, "| %d | %s | %s | `%s` | `%s` |\n", i+1, mdEscape(p.Name), p.Version, mdEscape(p.Source), fp)
	}
	if len(r.Diagnostics) > 0 {
		sb.WriteString("\n## Diagnostics\n\n")
		for _, d := range r.Diagnostics {
			fmt.Fprintf(&sb, "- **%s** `%s`: %s\n", d.Severity, d.Code, mdEscape(d.Message))
		}
	}
	return sb.String()
}

func formatRow(cells []string, widths []int) string {
	var sb strings.Builder
	for i, c := range cells {
		if i > 0 {
			sb.WriteString("  ")
		}
		if i == len(cells)-1 {
			sb.WriteString(c)
			break
		}
		sb.WriteString(c)
		sb.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(c)))
	}
	return sb.String()
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
