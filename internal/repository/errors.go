// Package repository holds the data access layer: the Redis-backed session
// and notification stores and the MySQL user table.  The sentinel values
// below let handlers map failures onto HTTP responses without inspecting
// driver errors.
package repository

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by UserRepo.Create when the email is taken.
// Handlers should translate this into an HTTP 409 response.
var ErrEmailExists = errors.New("email already exists")

// ErrStoreUnavailable wraps failures reaching Redis or MySQL.  Write paths
// surface it to the caller (HTTP 503); read paths log it and degrade.
var ErrStoreUnavailable = errors.New("backing store unavailable")
