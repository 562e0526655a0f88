// SPDX-License-Identifier: MPL-2.0

// Package manifest models and parses circuit package manifests (circuit.toml).
//
// A manifest declares a package's identity (name and semantic version), optional
// licensing metadata, and its dependencies. Parsing is a fixed pipeline:
//
//  1. Decode TOML into a generic document
//  2. Rewrite older manifest shapes to the current one ([Rules])
//  3. Check required fields and record tolerated unknown fields as diagnostics
//  4. Validate the document against the embedded CUE schema (#Manifest)
//  5. Enforce name and version syntax
//
// Every failure is a [*Error] wrapping [ErrManifest] and naming the offending field, so a
// malformed manifest is rejected before any dependency is fetched.
package manifest
