// SPDX-License-Identifier: MPL-2.0

// Package fingerprint computes content digests of package trees.
//
// A digest covers every regular file under a root, in sorted slash-separated relative
// path order, so it does not depend on walk order, timestamps or permissions. Build
// outputs and VCS metadata are excluded by doublestar patterns.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

const algorithm = "sha256"

// ErrInvalidDigest is the sentinel wrapped by InvalidDigestError.
var ErrInvalidDigest = errors.New("invalid fingerprint")

// DefaultExcludes are skipped unless the caller passes its own patterns.
var DefaultExcludes = []string{"build/**", "outputs/**", ".git/**"}

type (
	// Digest is a content fingerprint of the form "sha256:<64 hex digits>".
	Digest string

	// InvalidDigestError is returned when a string is not a well-formed Digest.
	InvalidDigestError struct {
		Value string
	}
)

func (e *InvalidDigestError) Error() string {
	return fmt.Sprintf("invalid fingerprint %q (expected %s:<64 hex digits>)", e.Value, algorithm)
}

// Unwrap returns ErrInvalidDigest for errors.Is compatibility.
func (e *InvalidDigestError) Unwrap() error { return ErrInvalidDigest }

// String returns the string representation of the Digest.
func (d Digest) String() string { return string(d) }

// IsZero reports whether the digest is empty.
func (d Digest) IsZero() bool { return d == "" }

// Short returns the algorithm prefix and the first 12 hex digits, for display.
func (d Digest) Short() string {
	const n = len(algorithm) + 1 + 12
	if len(d) <= n {
		return string(d)
	}
	return string(d[:n])
}

// Validate returns nil if the digest is well formed.
func (d Digest) Validate() error {
	hexPart, ok := strings.CutPrefix(string(d), algorithm+":")
	if !ok || len(hexPart) != sha256.Size*2 {
		return &InvalidDigestError{Value: string(d)}
	}
	if _, err := hex.DecodeString(hexPart); err != nil || strings.ToLower(hexPart) != hexPart {
		return &InvalidDigestError{Value: string(d)}
	}
	return nil
}

// Parse validates s and returns it as a Digest.
func Parse(s string) (Digest, error) {
	d := Digest(s)
	if err := d.Validate(); err != nil {
		return "", err
	}
	return d, nil
}

// Compute fingerprints the tree rooted at root on fsys. Paths matching any of the
// excludes (doublestar patterns against the slash-separated relative path) are skipped;
// a nil excludes slice means DefaultExcludes.
func Compute(fsys afero.Fs, root string, excludes []string) (Digest, error) {
	if excludes == nil {
		excludes = DefaultExcludes
	}
	files, err := List(fsys, root, excludes)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, rel := range files {
		if err := hashFile(h, fsys, root, rel); err != nil {
			return "", err
		}
	}
	return Digest(algorithm + ":" + hex.EncodeToString(h.Sum(nil))), nil
}

// List returns the sorted relative paths of the regular files Compute would hash.
func List(fsys afero.Fs, root string, excludes []string) ([]string, error) {
	for _, p := range excludes {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}

	var files []string
	err := afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if excluded(rel, excludes) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// hashFile frames each entry as path NUL size NUL content so that no two distinct trees
// produce the same byte stream.
func hashFile(w io.Writer, fsys afero.Fs, root, rel string) error {
	f, err := fsys.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, rel+"\x00"+strconv.FormatInt(info.Size(), 10)+"\x00"); err != nil {
		return err
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return fmt.Errorf("hash %s: %w", rel, err)
	}
	if n != info.Size() {
		return fmt.Errorf("hash %s: file changed while reading", rel)
	}
	return nil
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
