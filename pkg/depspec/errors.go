// SPDX-License-Identifier: MPL-2.0

package depspec

import (
	"errors"
	"fmt"

	"github.com/circkit/circpkg/pkg/manifest"
)

// ErrSpec is the sentinel wrapped by every specifier normalization failure.
var ErrSpec = errors.New("invalid dependency specifier")

// Error reports a dependency that cannot be normalized.
type Error struct {
	Dependency  manifest.PackageName
	Requirement string
	Reason      string
	Err         error
}

func (e *Error) Error() string {
	req := e.Requirement
	if req == "" {
		req = "*"
	}
	msg := fmt.Sprintf("dependency %s %s: %s", e.Dependency, req, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrSpec and the underlying cause, if any.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrSpec, e.Err}
	}
	return []error{ErrSpec}
}
