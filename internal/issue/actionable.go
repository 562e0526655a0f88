// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/circkit/circpkg/pkg/resolver"
)

type (
	// ActionableError is a user-facing failure: what circpkg was doing, on what, what went
	// wrong and how to fix it. Resolution failures also carry the resolver's error kind,
	// the matching issue and the resolution ID printed in the report.
	//
	//	return issue.NewErrorContext().
	//		WithOperation("resolve dependencies").
	//		WithResource("app/circuit.toml").
	//		WithResolution(sess.ID.String()).
	//		Wrap(err).
	//		BuildError()
	ActionableError struct {
		Operation string
		Resource  string
		// Kind is KindNone when the cause is not a classified resolution failure.
		Kind resolver.ErrorKind
		// Issue is zero when no guide covers the failure.
		Issue        Id
		ResolutionID string
		Suggestions  []string
		Cause        error
	}

	// ErrorContext builds an ActionableError incrementally.
	ErrorContext struct {
		err ActionableError
	}
)

// NewErrorContext returns an empty builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// WrapWithContext wraps err with operation and resource. Kind and Issue are derived from err.
func WrapWithContext(err error, operation, resource string) *ActionableError {
	if err == nil {
		return nil
	}
	ae := &ActionableError{Operation: operation, Resource: resource, Cause: err}
	ae.classify()
	return ae
}

// Error renders "failed to <operation>: <resource>: <cause>".
func (e *ActionableError) Error() string {
	var msg strings.Builder
	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)
	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	return msg.String()
}

func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format renders the error followed by one bullet per suggestion. Verbose output adds
// the error kind, the resolution ID and the unwrapped cause chain.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder
	msg.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, s := range e.Suggestions {
			msg.WriteString("\n  • ")
			msg.WriteString(s)
		}
	}

	if !verbose {
		return msg.String()
	}
	if e.Kind != resolver.KindNone || e.ResolutionID != "" {
		msg.WriteString("\n")
	}
	if e.Kind != resolver.KindNone {
		fmt.Fprintf(&msg, "\nkind: %s", e.Kind)
	}
	if e.ResolutionID != "" {
		fmt.Fprintf(&msg, "\nresolution: %s", e.ResolutionID)
	}
	if e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		depth := 1
		for err := e.Cause; err != nil; err = errors.Unwrap(err) {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			depth++
		}
	}
	return msg.String()
}

// HasSuggestions reports whether the error carries any suggestion.
func (e *ActionableError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

// classify fills Kind and Issue from the cause when they are unset.
func (e *ActionableError) classify() {
	if e.Cause == nil {
		return
	}
	if k := resolver.Kind(e.Cause); e.Kind == resolver.KindNone && k != resolver.KindInternal {
		e.Kind = k
	}
	if e.Issue == 0 {
		if id, ok := IdFor(e.Cause); ok {
			e.Issue = id
		}
	}
}

func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.err.Operation = op
	return c
}

func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.err.Resource = res
	return c
}

// WithResolution records the ID of the resolution that failed.
func (c *ErrorContext) WithResolution(id string) *ErrorContext {
	c.err.ResolutionID = id
	return c
}

func (c *ErrorContext) WithSuggestion(s string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, s)
	return c
}

func (c *ErrorContext) WithSuggestions(s ...string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, s...)
	return c
}

// Wrap sets the cause. Kind and Issue are derived from it at Build time.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.err.Cause = err
	return c
}

// Build returns nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.err.Operation == "" {
		return nil
	}
	ae := c.err
	ae.Suggestions = append([]string(nil), c.err.Suggestions...)
	ae.classify()
	return &ae
}

// BuildError is Build returning a plain error, nil when no operation was set.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}
