// SPDX-License-Identifier: MPL-2.0

package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/circkit/circpkg/pkg/diag"
)

func sample() *Report {
	return &Report{
		ResolutionID: "3f1c",
		Root:         "app",
		Packages: []Package{
			{Name: "math", Version: "1.2.0", LocalPath: "/cache/math-1/src", Source: "network:std/math", Fingerprint: "sha256:ab"},
			{Name: "app", Version: "0.1.0", LocalPath: "/work/app", Source: "local:/work/app", Dependencies: []string{"math"}},
		},
		Diagnostics: []diag.Diagnostic{
			diag.Infof(diag.CodeSuperseded, "math", "math 1.1.0 superseded by 1.2.0"),
		},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "json", want: FormatJSON},
		{in: "YAML", want: FormatYAML},
		{in: " markdown ", want: FormatMarkdown},
		{in: "md", want: FormatMarkdown},
		{in: "", want: FormatText},
		{in: "text", want: FormatText},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownFormat) {
					t.Fatalf("ParseFormat(%q) error = %v, want ErrUnknownFormat", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFormat(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := sample().Write(&buf, FormatJSON, Styles{}); err != nil {
		t.Fatal(err)
	}
	var got Report
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(sample(), &got); diff != "" {
		t.Errorf("JSON report mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(buf.String(), `"local_path": "/work/app"`) {
		t.Errorf("JSON report lacks snake_case keys:\n%s", buf.String())
	}
}

func TestWriteYAML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := sample().Write(&buf, FormatYAML, Styles{}); err != nil {
		t.Fatal(err)
	}
	var got Report
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(sample(), &got); diff != "" {
		t.Errorf("YAML report mismatch (-want +got):\n%s", diff)
	}
}

func TestText(t *testing.T) {
	t.Parallel()

	out := sample().Text(Styles{})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	if !strings.HasPrefix(lines[0], "resolved app (2 packages") {
		t.Errorf("first line = %q", lines[0])
	}
	var mathLine, appLine int
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "math "):
			mathLine = i
		case strings.HasPrefix(l, "app "):
			appLine = i
		}
	}
	if mathLine == 0 || appLine == 0 || mathLine > appLine {
		t.Errorf("packages not listed in build order:\n%s", out)
	}
	if strings.Index(lines[mathLine], "1.2.0") != strings.Index(lines[appLine], "0.1.0") {
		t.Errorf("version column not aligned:\n%s", out)
	}
	if !strings.Contains(out, "info[superseded] math: math 1.1.0 superseded by 1.2.0") {
		t.Errorf("diagnostic missing:\n%s", out)
	}
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	r := sample()
	r.Packages[1].Source = "local:/a|b"
	md := r.Markdown()

	for _, want := range []string{
		"# Resolution of `app`",
		"| 1 | math | 1.2.0 | `network:std/math` | `sha256:ab` |",
		"| 2 | app | 0.1.0 | `local:/a\\|b` | `-` |",
		"## Diagnostics",
		"- **info** `superseded`: math 1.1.0 superseded by 1.2.0",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown() missing %q:\n%s", want, md)
		}
	}
}

func TestReportPackage(t *testing.T) {
	t.Parallel()

	r := sample()
	if p, ok := r.Package("math"); !ok || p.Version != "1.2.0" {
		t.Errorf("Package(math) = %+v, %v", p, ok)
	}
	if _, ok := r.Package("nope"); ok {
		t.Error("Package(nope) found")
	}
}
