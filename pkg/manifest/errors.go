// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
)

// ErrManifest is the sentinel wrapped by every manifest parsing failure.
var ErrManifest = errors.New("manifest error")

const (
	// ReasonMissing marks a required field that is absent.
	ReasonMissing = "missing required field"
)

// Error describes a malformed manifest. Field is a dotted path such as "name" or
// "dependencies.math.version"; it is empty when the document as a whole is unreadable.
type Error struct {
	Path   string
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	loc := e.Path
	if loc == "" {
		loc = FileName
	}
	msg := e.Reason
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if e.Field != "" {
		return fmt.Sprintf("manifest %s: %s: %s", loc, e.Field, msg)
	}
	return fmt.Sprintf("manifest %s: %s", loc, msg)
}

// Unwrap returns ErrManifest and the underlying cause, if any.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrManifest, e.Err}
	}
	return []error{ErrManifest}
}

func missing(path, field string) *Error {
	return &Error{Path: path, Field: field, Reason: ReasonMissing}
}
