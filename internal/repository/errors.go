// Package repository holds the credential store implementations and the
// refresh-token allow-list. The sentinel values below let handlers tell
// failure scenarios apart with errors.Is regardless of the backend.
package repository

import "errors"

// ErrNotFound is returned when no user matches the lookup. Malformed ids are
// reported the same way since they cannot match any record.
var ErrNotFound = errors.New("user not found")

// ErrEmailExists is returned by Create when the email is already registered.
// Handlers translate this into an HTTP 409 response.
var ErrEmailExists = errors.New("email already exists")

// ErrTokenRevoked is returned by the allow-list when a refresh token id is not
// (or no longer) recorded for its user.
var ErrTokenRevoked = errors.New("refresh token revoked")
