// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/circkit/circpkg/pkg/diag"
)

type (
	// Rule rewrites a manifest document from the shape of schema Target-1 into the shape
	// of schema Target. Rules are pure: Apply never mutates its input.
	Rule struct {
		Target int
		Name   string
		Apply  func(doc map[string]any, path string) (map[string]any, []diag.Diagnostic, error)
	}
)

// Rules is the ordered chain of shape rewrites. A document detected at schema N runs
// every rule whose Target is greater than N, in slice order.
var Rules = []Rule{
	{Target: 1, Name: "hoist-package-table", Apply: hoistPackageTable},
	{Target: 2, Name: "program-to-name", Apply: programToName},
	{Target: 2, Name: "dependency-list-to-table", Apply: dependencyListToTable},
	{Target: 2, Name: "drop-description", Apply: dropDescription},
}

// DetectSchema returns the schema version of a raw manifest document. An explicit
// integer "schema" field wins; otherwise the shape decides.
func DetectSchema(doc map[string]any) (int, error) {
	if raw, ok := doc["schema"]; ok {
		v, ok := asInt(raw)
		if !ok || v < 0 {
			return 0, fmt.Errorf("schema must be a non-negative integer, got %v", raw)
		}
		if v > CurrentSchema {
			return 0, fmt.Errorf("schema %d is newer than the newest supported schema %d", v, CurrentSchema)
		}
		return v, nil
	}

	if _, ok := doc["package"].(map[string]any); ok {
		return 0, nil
	}
	if _, ok := doc["program"]; ok {
		return 1, nil
	}
	if _, ok := doc["dependencies"].([]any); ok {
		return 1, nil
	}
	if _, ok := doc["dependencies"].([]map[string]any); ok {
		return 1, nil
	}
	if _, ok := doc["description"]; ok {
		return 1, nil
	}
	return CurrentSchema, nil
}

// Refactor rewrites doc to the current shape. The returned document is always a fresh
// copy with "schema" set to CurrentSchema.
func Refactor(doc map[string]any, path string) (map[string]any, []diag.Diagnostic, error) {
	version, err := DetectSchema(doc)
	if err != nil {
		return nil, nil, &Error{Path: path, Field: "schema", Reason: err.Error()}
	}

	out := cloneDoc(doc)
	var diags []diag.Diagnostic
	for _, rule := range Rules {
		if rule.Target <= version {
			continue
		}
		next, ds, err := rule.Apply(out, path)
		if err != nil {
			return nil, nil, err
		}
		out = next
		diags = append(diags, ds...)
	}
	out["schema"] = int64(CurrentSchema)
	return out, diags, nil
}

// hoistPackageTable moves the legacy [package] table to the top level. Top-level keys
// win over hoisted ones.
func hoistPackageTable(doc map[string]any, path string) (map[string]any, []diag.Diagnostic, error) {
	pkg, ok := doc["package"].(map[string]any)
	if !ok {
		return doc, nil, nil
	}
	out := cloneDoc(doc)
	delete(out, "package")
	for k, v := range pkg {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out, []diag.Diagnostic{
		diag.Warningf(diag.CodeDeprecatedShape, nameOf(out), "%s: [package] table is deprecated; fields were moved to the top level", displayPath(path)),
	}, nil
}

// programToName turns `program = "token.circ"` into `name = "token"`.
func programToName(doc map[string]any, path string) (map[string]any, []diag.Diagnostic, error) {
	raw, ok := doc["program"]
	if !ok {
		return doc, nil, nil
	}
	program, ok := raw.(string)
	if !ok {
		return nil, nil, &Error{Path: path, Field: "program", Reason: fmt.Sprintf("expected a string, got %T", raw)}
	}

	out := cloneDoc(doc)
	delete(out, "program")
	name := strings.TrimSuffix(program, filepath.Ext(program))
	if _, exists := out["name"]; exists {
		return out, []diag.Diagnostic{
			diag.Warningf(diag.CodeDroppedField, nameOf(out), "%s: both name and program are set; program %q was dropped", displayPath(path), program),
		}, nil
	}
	out["name"] = name
	return out, []diag.Diagnostic{
		diag.Warningf(diag.CodeDeprecatedShape, name, "%s: program %q is deprecated; use name = %q", displayPath(path), program, name),
	}, nil
}

// dependencyListToTable converts the legacy [[dependencies]] array, whose entries carry
// an explicit location ("local" or "network"), into the [dependencies.<name>] table.
func dependencyListToTable(doc map[string]any, path string) (map[string]any, []diag.Diagnostic, error) {
	list, ok := dependencyList(doc["dependencies"])
	if !ok {
		return doc, nil, nil
	}

	out := cloneDoc(doc)
	table := make(map[string]any, len(list))
	for i, entry := range list {
		field := fmt.Sprintf("dependencies[%d]", i)
		name, _ := entry["name"].(string)
		if name == "" {
			return nil, nil, missing(path, field+".name")
		}
		if _, dup := table[name]; dup {
			return nil, nil, &Error{Path: path, Field: field + ".name", Reason: fmt.Sprintf("duplicate dependency %q", name)}
		}

		dep := make(map[string]any, len(entry))
		for k, v := range entry {
			switch k {
			case "name", "location":
			default:
				dep[k] = v
			}
		}

		location, _ := entry["location"].(string)
		switch strings.ToLower(location) {
		case "local":
			delete(dep, "network")
		case "network":
			delete(dep, "path")
		case "":
			// Shape decides: a path means local.
		default:
			return nil, nil, &Error{Path: path, Field: field + ".location", Reason: fmt.Sprintf("unknown location %q (expected local or network)", location)}
		}
		table[name] = dep
	}
	out["dependencies"] = table

	return out, []diag.Diagnostic{
		diag.Warningf(diag.CodeDeprecatedShape, nameOf(out), "%s: [[dependencies]] arrays are deprecated; use [dependencies.<name>] tables", displayPath(path)),
	}, nil
}

func dropDescription(doc map[string]any, path string) (map[string]any, []diag.Diagnostic, error) {
	if _, ok := doc["description"]; !ok {
		return doc, nil, nil
	}
	out := cloneDoc(doc)
	delete(out, "description")
	return out, []diag.Diagnostic{
		diag.Warningf(diag.CodeDroppedField, nameOf(out), "%s: description is no longer part of the manifest and was dropped", displayPath(path)),
	}, nil
}

func dependencyList(raw any) ([]map[string]any, bool) {
	switch v := raw.(type) {
	case []map[string]any:
		return v, true
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}

// cloneDoc deep-copies the map and slice structure of a decoded TOML document.
func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneDoc(e)
		}
		return out
	default:
		return v
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func nameOf(doc map[string]any) string {
	s, _ := doc["name"].(string)
	return s
}

func displayPath(path string) string {
	if path == "" {
		return FileName
	}
	return path
}
