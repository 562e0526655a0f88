// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"os"

	"github.com/circkit/circpkg/pkg/lockfile"
	"github.com/circkit/circpkg/pkg/resolver"
)

// suggestions per resolution failure kind, shown under the one-line error.
var kindSuggestions = map[resolver.ErrorKind][]string{
	resolver.KindManifest: {
		"Run 'circpkg manifest check' on the package named in the error",
		"Required fields are name and version",
	},
	resolver.KindSpec: {
		"Declare exactly one of path or network for each dependency",
		"Only network dependencies accept a revision",
	},
	resolver.KindRetrieval: {
		"Check the registry id and revision",
		"Raise CIRCPKG_FETCH_TIMEOUT on slow networks",
	},
	resolver.KindFingerprintConflict: {
		"Pin the dependency to a revision",
		"Run 'circpkg cache invalidate <key>' if the upstream change is expected",
	},
	resolver.KindCyclicDependency: {
		"Remove one dependency of the printed chain",
	},
	resolver.KindVersionConflict: {
		"Relax one of the listed requirements",
		"Run 'circpkg resolve --refresh' in case newer versions were published",
	},
}

// IdFor maps an error to the issue explaining it.
func IdFor(err error) (Id, bool) {
	switch {
	case err == nil:
		return 0, false
	case errors.Is(err, lockfile.ErrDrift):
		return LockFileDriftId, true
	case errors.Is(err, lockfile.ErrLockFile):
		return LockFileInvalidId, true
	}
	switch resolver.Kind(err) {
	case resolver.KindManifest:
		if errors.Is(err, os.ErrNotExist) {
			return ManifestNotFoundId, true
		}
		return ManifestInvalidId, true
	case resolver.KindSpec:
		return DependencySpecInvalidId, true
	case resolver.KindRetrieval:
		return RetrievalFailedId, true
	case resolver.KindFingerprintConflict:
		return FingerprintConflictId, true
	case resolver.KindCyclicDependency:
		return DependencyCycleId, true
	case resolver.KindVersionConflict:
		return VersionConflictId, true
	default:
		return 0, false
	}
}

// ForResolution wraps a resolution failure with suggestions for its kind. resolutionID is
// empty when the failure happened outside a session. Errors that are already actionable
// are returned unchanged.
func ForResolution(err error, operation, resource, resolutionID string) error {
	if err == nil {
		return nil
	}
	var ae *ActionableError
	if errors.As(err, &ae) {
		return err
	}
	c := NewErrorContext().WithOperation(operation).WithResource(resource).WithResolution(resolutionID).Wrap(err)
	switch {
	case errors.Is(err, lockfile.ErrDrift):
		c.WithSuggestion("Run 'circpkg lock' to accept the new resolution")
	case errors.Is(err, lockfile.ErrLockFile):
		c.WithSuggestion("Regenerate the lock file with 'circpkg lock'")
	default:
		c.WithSuggestions(kindSuggestions[resolver.Kind(err)]...)
	}
	return c.BuildError()
}
