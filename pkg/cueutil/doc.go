// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE validation utilities.
//
// The package consolidates the schema-validation pattern used by the manifest, lock file
// and config packages:
//
//  1. Compile the embedded schema
//  2. Compile (or encode) the user data and unify it with a schema definition
//  3. Validate and decode to a Go value
//
// Lock and config files are CUE documents and go through [ParseAndDecode]. Manifests are
// TOML; they are decoded to a generic map first, rewritten by the manifest refactor chain,
// and only then checked with [ValidateAndDecode].
//
// # Usage
//
//	//go:embed lockfile_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[lockDocument](
//	    schemaBytes,
//	    userFileBytes,
//	    "#LockFile",
//	    cueutil.WithFilename("circuit.lock.cue"),
//	)
//	if err != nil {
//	    return nil, err  // *ValidationError carries the CUE path of the offending field
//	}
//	return result.Value, nil
package cueutil
