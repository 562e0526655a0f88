// SPDX-License-Identifier: MPL-2.0

// Package diag defines the non-fatal diagnostics collected while parsing manifests and
// resolving a dependency tree. Diagnostics never abort a resolution; they are carried
// through to the resolution report so the compiler driver can surface them.
package diag

import (
	"fmt"
	"slices"
	"strings"
)

const (
	// SeverityInfo marks purely informational notes (e.g., a superseded duplicate version).
	SeverityInfo Severity = "info"
	// SeverityWarning marks situations the user should act on eventually.
	SeverityWarning Severity = "warning"

	// CodeDeprecatedShape is emitted when an older manifest shape was rewritten in memory.
	CodeDeprecatedShape Code = "deprecated-shape"
	// CodeUnknownField is emitted for tolerated but unrecognised manifest fields.
	CodeUnknownField Code = "unknown-field"
	// CodeDroppedField is emitted when a refactor rule discards a field with no current equivalent.
	CodeDroppedField Code = "dropped-field"
	// CodeSuperseded is emitted when a package node lost version selection to another node.
	CodeSuperseded Code = "superseded"
	// CodeStaleCache is emitted when a cache entry failed verification and was re-fetched.
	CodeStaleCache Code = "stale-cache"
)

type (
	// Severity classifies a diagnostic.
	Severity string

	// Code is a stable machine-readable identifier for a diagnostic category.
	Code string

	// Diagnostic is a single non-fatal finding.
	Diagnostic struct {
		Severity Severity `json:"severity" yaml:"severity"`
		Code     Code     `json:"code" yaml:"code"`
		// Package names the package the finding is about (optional).
		Package string `json:"package,omitempty" yaml:"package,omitempty"`
		// Source is the file the finding originates from (optional).
		Source  string `json:"source,omitempty" yaml:"source,omitempty"`
		Message string `json:"message" yaml:"message"`
	}
)

// Warningf builds a warning diagnostic.
func Warningf(code Code, pkg, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Code: code, Package: pkg, Message: fmt.Sprintf(format, args...)}
}

// Infof builds an informational diagnostic.
func Infof(code Code, pkg, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityInfo, Code: code, Package: pkg, Message: fmt.Sprintf(format, args...)}
}

// String renders the diagnostic on a single line.
func (d Diagnostic) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s[%s]", d.Severity, d.Code)
	if d.Package != "" {
		fmt.Fprintf(&sb, " %s", d.Package)
	}
	if d.Source != "" {
		fmt.Fprintf(&sb, " (%s)", d.Source)
	}
	sb.WriteString(": ")
	sb.WriteString(d.Message)
	return sb.String()
}

// Sort orders diagnostics by package, code, then message so reports are reproducible.
func Sort(ds []Diagnostic) {
	slices.SortStableFunc(ds, func(a, b Diagnostic) int {
		if c := strings.Compare(a.Package, b.Package); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Code), string(b.Code)); c != 0 {
			return c
		}
		return strings.Compare(a.Message, b.Message)
	})
}
