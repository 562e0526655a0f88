// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"

	"github.com/circkit/circpkg/pkg/graph"
	"github.com/circkit/circpkg/pkg/lockfile"
	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/resolver"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "load manifest"},
			expected: "failed to load manifest",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "load manifest", Resource: "./circuit.toml"},
			expected: "failed to load manifest: ./circuit.toml",
		},
		{
			name: "operation with resource and cause",
			err: &ActionableError{
				Operation: "resolve dependencies",
				Resource:  "adder",
				Cause:     errors.New("version conflict for hash"),
			},
			expected: "failed to resolve dependencies: adder: version conflict for hash",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := &ActionableError{
		Operation:   "fetch dependency",
		Resource:    "hash@network:github.com/circkit/hash",
		Suggestions: []string{"Check the registry id", "Retry later"},
		Cause:       errors.Join(cause),
	}

	short := err.Format(false)
	for _, want := range []string{"failed to fetch dependency", "• Check the registry id", "• Retry later"} {
		if !strings.Contains(short, want) {
			t.Errorf("Format(false) missing %q:\n%s", want, short)
		}
	}
	if strings.Contains(short, "Error chain:") {
		t.Errorf("Format(false) includes the error chain:\n%s", short)
	}
	if long := err.Format(true); !strings.Contains(long, "Error chain:") {
		t.Errorf("Format(true) lacks the error chain:\n%s", long)
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := NewErrorContext().
		WithOperation("write lock file").
		WithResource("circuit.lock.cue").
		WithSuggestion("Check directory permissions").
		WithSuggestions("Retry", "Run with --verbose").
		Wrap(cause).
		BuildError()

	var ae *ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("BuildError() = %T, want *ActionableError", err)
	}
	if len(ae.Suggestions) != 3 || !ae.HasSuggestions() {
		t.Errorf("Suggestions = %v", ae.Suggestions)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through errors.Is")
	}
	if NewErrorContext().Build() != nil || NewErrorContext().BuildError() != nil {
		t.Error("context without operation should build nil")
	}
}

func TestWrapWithContext(t *testing.T) {
	t.Parallel()

	if WrapWithContext(nil, "x", "y") != nil {
		t.Error("wrapping nil should return nil")
	}

	tests := []struct {
		name      string
		cause     error
		wantKind  resolver.ErrorKind
		wantIssue Id
	}{
		{name: "plain", cause: errors.New("denied")},
		{
			name:      "cycle",
			cause:     &graph.CyclicDependency{Chain: []manifest.PackageName{"a", "b", "a"}},
			wantKind:  resolver.KindCyclicDependency,
			wantIssue: DependencyCycleId,
		},
		{
			name:      "drift",
			cause:     &lockfile.DriftError{Changes: []string{"lib 1.0.0 -> 1.1.0"}},
			wantIssue: LockFileDriftId,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ae := WrapWithContext(tt.cause, "open cache", "/var/cache/circpkg")
			if ae.Resource != "/var/cache/circpkg" || ae.Operation != "open cache" {
				t.Errorf("WrapWithContext() = %+v", ae)
			}
			if ae.Kind != tt.wantKind || ae.Issue != tt.wantIssue {
				t.Errorf("Kind, Issue = %q, %d, want %q, %d", ae.Kind, ae.Issue, tt.wantKind, tt.wantIssue)
			}
			if long := ae.Format(true); tt.wantKind == resolver.KindNone && strings.Contains(long, "kind:") {
				t.Errorf("Format(true) shows a kind for an unclassified error:\n%s", long)
			}
		})
	}
}
