// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"errors"
	"testing"
)

func TestParseVersionStrict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		wantErr bool
	}{
		{raw: "1.2.3"},
		{raw: "0.1.0-alpha.1"},
		{raw: "2.0.0+build.5"},
		{raw: "v1.2.3", wantErr: true},
		{raw: "1.2", wantErr: true},
		{raw: "01.2.3", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			_, err := ParseVersion(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidVersion) {
				t.Errorf("error %v should wrap ErrInvalidVersion", err)
			}
		})
	}
}

func TestParseRequirementAnyForms(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "*", "any", " ANY "} {
		r, err := ParseRequirement(raw)
		if err != nil {
			t.Fatalf("ParseRequirement(%q) error = %v", raw, err)
		}
		if !r.IsAny() {
			t.Errorf("ParseRequirement(%q) should be Any", raw)
		}
		if r.String() != "*" {
			t.Errorf("String() = %q, want *", r.String())
		}
	}

	if _, err := ParseRequirement("banana"); !errors.Is(err, ErrInvalidRequirement) {
		t.Errorf("expected ErrInvalidRequirement, got %v", err)
	}
}

func TestRequirementCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		req     string
		version string
		want    bool
	}{
		{"^1.2.0", "1.9.0", true},
		{"^1.2.0", "2.0.0", false},
		{"~1.4", "1.4.7", true},
		{"~1.4", "1.5.0", false},
		{">=1.0.0, <2.0.0", "1.5.0", true},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
		{"*", "0.0.1", true},
	}

	for _, tt := range tests {
		r := MustParseRequirement(tt.req)
		v := MustParseVersion(tt.version)
		if got := r.Check(v); got != tt.want {
			t.Errorf("%q.Check(%s) = %v, want %v", tt.req, tt.version, got, tt.want)
		}
	}
}

func TestMaxSatisfyingIntersection(t *testing.T) {
	t.Parallel()

	candidates := []Version{
		MustParseVersion("1.0.0"),
		MustParseVersion("1.4.0"),
		MustParseVersion("1.9.2"),
		MustParseVersion("2.1.0"),
	}

	got, ok := MaxSatisfying([]Requirement{
		MustParseRequirement("^1.0.0"),
		MustParseRequirement("<1.5.0"),
	}, candidates)
	if !ok || got.String() != "1.4.0" {
		t.Fatalf("MaxSatisfying() = %v, %v; want 1.4.0, true", got, ok)
	}

	if _, ok := MaxSatisfying([]Requirement{
		MustParseRequirement("^1.0.0"),
		MustParseRequirement("^2.0.0"),
	}, candidates); ok {
		t.Error("disjoint requirements should have no satisfying version")
	}

	got, ok = MaxSatisfying(nil, candidates)
	if !ok || got.String() != "2.1.0" {
		t.Errorf("MaxSatisfying(nil) = %v, want 2.1.0", got)
	}
}

func TestVersionCompareZero(t *testing.T) {
	t.Parallel()

	var zero Version
	if !zero.IsZero() {
		t.Fatal("zero Version should report IsZero")
	}
	if zero.Compare(MustParseVersion("0.0.1")) != -1 {
		t.Error("zero Version should sort first")
	}
	if MustParseRequirement("*").Check(zero) {
		t.Error("zero Version should never satisfy a requirement")
	}
}
