// SPDX-License-Identifier: MPL-2.0

package fingerprint

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spf13/afero"
)

func writeTree(t *testing.T, fs afero.Fs, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		if err := afero.WriteFile(fs, filepath.Join(root, filepath.FromSlash(rel)), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCompute_Deterministic(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"circuit.toml":   "name = \"a\"\nversion = \"1.0.0\"\n",
		"src/main.circ":  "fn main() {}",
		"src/lib/x.circ": "fn x() {}",
	}
	fsA, fsB := afero.NewMemMapFs(), afero.NewMemMapFs()
	writeTree(t, fsA, "/a", files)
	writeTree(t, fsB, "/elsewhere/b", files)

	da, err := Compute(fsA, "/a", nil)
	if err != nil {
		t.Fatal(err)
	}
	db, err := Compute(fsB, "/elsewhere/b", nil)
	if err != nil {
		t.Fatal(err)
	}
	if da != db {
		t.Errorf("same contents at different roots: %s vs %s", da, db)
	}
	if err := da.Validate(); err != nil {
		t.Errorf("Compute() produced invalid digest: %v", err)
	}
}

func TestCompute_SensitiveToContentAndPath(t *testing.T) {
	t.Parallel()

	base := map[string]string{"a.circ": "x", "b.circ": "y"}
	variants := []map[string]string{
		{"a.circ": "x", "b.circ": "z"},
		{"a.circ": "x", "c.circ": "y"},
		{"a.circ": "xy", "b.circ": ""},
	}

	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/base", base)
	want, err := Compute(fs, "/base", nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range variants {
		root := filepath.Join("/v", string(rune('0'+i)))
		writeTree(t, fs, root, v)
		got, err := Compute(fs, root, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got == want {
			t.Errorf("variant %d has the same digest as base", i)
		}
	}
}

func TestCompute_Excludes(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/p", map[string]string{"main.circ": "m"})
	clean, err := Compute(fs, "/p", nil)
	if err != nil {
		t.Fatal(err)
	}

	writeTree(t, fs, "/p", map[string]string{
		"build/main.avm":  "bytes",
		"outputs/x.out":   "o",
		".git/HEAD":       "ref: refs/heads/main",
		"build/deep/a/b":  "c",
		"outputs/keep/ok": "d",
	})
	dirty, err := Compute(fs, "/p", nil)
	if err != nil {
		t.Fatal(err)
	}
	if clean != dirty {
		t.Errorf("excluded paths changed the digest")
	}

	files, err := List(fs, "/p", []string{})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(files, "build/main.avm") {
		t.Errorf("List() with no excludes = %v, want build output included", files)
	}

	if _, err := List(fs, "/p", []string{"[bad"}); err == nil {
		t.Error("List() accepted an invalid pattern")
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	good := "sha256:" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	if _, err := Parse(good); err != nil {
		t.Errorf("Parse(%q) error = %v", good, err)
	}

	for _, bad := range []string{"", "sha256:", "md5:abcd", "sha256:XYZ", good[:len(good)-1], "sha256:" + "0123456789ABCDEF0123456789abcdef0123456789abcdef0123456789abcdef"} {
		_, err := Parse(bad)
		if !errors.Is(err, ErrInvalidDigest) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidDigest", bad, err)
		}
	}

	if got := Digest(good).Short(); got != "sha256:0123456789ab" {
		t.Errorf("Short() = %q", got)
	}
}
