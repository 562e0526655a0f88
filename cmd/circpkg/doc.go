// SPDX-License-Identifier: MPL-2.0

// Package cmd implements the circpkg command line. Commands are thin: they load the
// configuration, build the cache and retrievers, and hand off to a resolver session.
package cmd
