// SPDX-License-Identifier: MPL-2.0

// Package config handles circpkg configuration using Viper with CUE as the file format.
//
// Configuration is read from $XDG_CONFIG_HOME/circpkg/config.cue (or an explicit file),
// validated against the embedded #Config schema, merged over built-in defaults, and
// finally overridden by CIRCPKG_* environment variables such as CIRCPKG_CACHE_DIR and
// CIRCPKG_WORKERS.
package config
