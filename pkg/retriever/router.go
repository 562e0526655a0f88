// SPDX-License-Identifier: MPL-2.0

package retriever

import (
	"context"
	"strings"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/store"
)

// Router dispatches fetches by registry alias. A registry id of the form
// "alias:rest" goes to Routes[alias]; everything else goes to Default.
type Router struct {
	Default Retriever
	Routes  map[string]Retriever
}

var _ Retriever = (*Router)(nil)

// Fetch implements Retriever.
func (r *Router) Fetch(ctx context.Context, key depspec.CanonicalKey, dst *store.Staging) (fingerprint.Digest, error) {
	registry, _, err := networkID(key)
	if err != nil {
		return "", err
	}
	if alias, _, found := strings.Cut(registry, ":"); found {
		if rt, ok := r.Routes[alias]; ok {
			fp, err := rt.Fetch(ctx, key, dst)
			return fp, Wrap(key, err)
		}
	}
	if r.Default == nil {
		return "", &Error{Key: key, Err: errNoRoute(registry)}
	}
	fp, err := r.Default.Fetch(ctx, key, dst)
	return fp, Wrap(key, err)
}

type errNoRoute string

func (e errNoRoute) Error() string {
	return "no retriever configured for registry " + string(e)
}
