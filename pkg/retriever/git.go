// SPDX-License-Identifier: MPL-2.0

package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/store"
)

var commitPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// Git clones registry repositories in memory and copies the checked-out tree into the
// staging area. Registry ids map to "https://<id>" unless URLFor says otherwise.
type Git struct {
	// URLFor maps a canonical registry id to a clone URL.
	URLFor func(registry string) string
	// Shallow requests depth-1 clones for tag and branch revisions.
	Shallow bool
	Logger  *log.Logger
}

var _ Retriever = (*Git)(nil)

// NewGit returns a Git retriever for public HTTPS registries.
func NewGit(logger *log.Logger) *Git {
	return &Git{Shallow: true, Logger: logger}
}

// Fetch implements Retriever. The revision may be empty (default branch), a tag with or
// without a "v" prefix, a branch name, or a commit hash.
func (g *Git) Fetch(ctx context.Context, key depspec.CanonicalKey, dst *store.Staging) (fingerprint.Digest, error) {
	registry, revision, err := networkID(key)
	if err != nil {
		return "", err
	}
	url := g.url(registry)
	g.logger().Debug("cloning", "key", key, "url", url, "revision", revision)

	wt, err := g.checkout(ctx, url, revision)
	if err != nil {
		return "", &Error{Key: key, Err: err}
	}
	if err := copyTree(wt, dst.FS()); err != nil {
		return "", &Error{Key: key, Err: fmt.Errorf("copy worktree: %w", err)}
	}
	fp, err := dst.Fingerprint()
	if err != nil {
		return "", &Error{Key: key, Err: err}
	}
	return fp, nil
}

func (g *Git) checkout(ctx context.Context, url, revision string) (billy.Filesystem, error) {
	if revision == "" {
		return g.clone(ctx, url, "")
	}

	var lastErr error
	for _, ref := range candidateRefs(revision) {
		wt, err := g.clone(ctx, url, ref)
		if err == nil {
			return wt, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	if commitPattern.MatchString(revision) {
		return g.cloneAtCommit(ctx, url, revision)
	}
	return nil, fmt.Errorf("revision %q not found in %s: %w", revision, url, lastErr)
}

func (g *Git) clone(ctx context.Context, url string, ref plumbing.ReferenceName) (billy.Filesystem, error) {
	wt := memfs.New()
	opts := &git.CloneOptions{
		URL:           url,
		ReferenceName: ref,
		SingleBranch:  ref != "",
		Tags:          git.NoTags,
	}
	if g.Shallow {
		opts.Depth = 1
	}
	if _, err := git.CloneContext(ctx, memory.NewStorage(), wt, opts); err != nil {
		return nil, err
	}
	return wt, nil
}

func (g *Git) cloneAtCommit(ctx context.Context, url, commit string) (billy.Filesystem, error) {
	wt := memfs.New()
	repo, err := git.CloneContext(ctx, memory.NewStorage(), wt, &git.CloneOptions{URL: url})
	if err != nil {
		return nil, err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(commit))
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", commit, err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	if err := w.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", commit, err)
	}
	return wt, nil
}

// candidateRefs lists the references a revision may name: the tag as written, the tag
// with the "v" prefix toggled, then a branch.
func candidateRefs(revision string) []plumbing.ReferenceName {
	refs := []plumbing.ReferenceName{plumbing.NewTagReferenceName(revision)}
	if noV, found := strings.CutPrefix(revision, "v"); found {
		refs = append(refs, plumbing.NewTagReferenceName(noV))
	} else {
		refs = append(refs, plumbing.NewTagReferenceName("v"+revision))
	}
	return append(refs, plumbing.NewBranchReferenceName(revision))
}

func (g *Git) url(registry string) string {
	if g.URLFor != nil {
		return g.URLFor(registry)
	}
	return "https://" + registry
}

func (g *Git) logger() *log.Logger {
	if g.Logger == nil {
		return log.New(io.Discard)
	}
	return g.Logger
}

// copyTree copies every regular file of src into dst, skipping .git.
func copyTree(src billy.Filesystem, dst afero.Fs) error {
	return util.Walk(src, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return dst.MkdirAll(path, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(src, dst, path, info.Mode().Perm())
	})
}

func copyFile(src billy.Filesystem, dst afero.Fs, path string, perm os.FileMode) error {
	in, err := src.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := dst.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		return errors.Join(err, out.Close())
	}
	return out.Close()
}
