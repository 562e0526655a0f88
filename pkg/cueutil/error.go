// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ValidationError represents a single CUE validation failure with context.
type ValidationError struct {
	// FilePath is the file being validated.
	FilePath string

	// CUEPath is the JSON-style path to the invalid value (e.g., "dependencies.math.version").
	CUEPath string

	// Message is the validation error message.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.CUEPath != "" {
		return fmt.Sprintf("%s: %s: %s", e.FilePath, e.CUEPath, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// FormatError converts a CUE error into ValidationErrors carrying JSON-path prefixes.
//
// A single CUE error yields a *ValidationError; several yield an errors.Join of them, so
// errors.As(err, &*ValidationError) always reaches the first offending field.
//
// Error format: <file-path>: <json-path>: <message>
//
// Examples:
//   - circuit.toml: dependencies.math.revision: conflicting values 3 and string
//   - circuit.lock.cue: packages[0].fingerprint: invalid value "md5:..."
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	cueErrs := cueerrors.Errors(err)
	if len(cueErrs) == 0 {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	out := make([]error, 0, len(cueErrs))
	for _, e := range cueErrs {
		raw := cueerrors.Path(e)
		pathStr := formatPath(trimDefinitions(raw))
		msg := e.Error()

		// CUE sometimes repeats the path at the start of the message.
		for _, prefix := range []string{formatPath(raw), pathStr} {
			if prefix != "" && strings.HasPrefix(msg, prefix) {
				msg = strings.TrimPrefix(msg, prefix)
				msg = strings.TrimPrefix(msg, ":")
				msg = strings.TrimSpace(msg)
				break
			}
		}

		out = append(out, &ValidationError{FilePath: filePath, CUEPath: pathStr, Message: msg})
	}

	if len(out) == 1 {
		return out[0]
	}
	return errors.Join(out...)
}

// trimDefinitions drops the leading definition selectors ("#Manifest") so paths name
// document fields only.
func trimDefinitions(path []string) []string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return path
}

// formatPath converts a CUE error path to JSON-path notation for user-facing messages.
// CUE reports paths as flat string slices (["packages", "0", "name"]) in which purely
// numeric elements are list indices; the result is "packages[0].name".
func formatPath(path []string) string {
	if len(path) == 0 {
		return ""
	}

	var result strings.Builder
	for i, part := range path {
		isIndex := part != ""
		for _, c := range part {
			if c < '0' || c > '9' {
				isIndex = false
				break
			}
		}

		if isIndex && i > 0 {
			result.WriteString("[")
			result.WriteString(part)
			result.WriteString("]")
		} else {
			if i > 0 {
				result.WriteString(".")
			}
			result.WriteString(part)
		}
	}

	return result.String()
}

// CheckFileSize verifies that data does not exceed maxSize.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes",
			filename, len(data), maxSize)
	}
	return nil
}
