// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError adds the failed operation, the resource involved and suggestions to an
// error; Issue holds longer Markdown guidance per failure kind, rendered with glamour.
package issue
