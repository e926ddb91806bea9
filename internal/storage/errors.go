package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist or is not
// visible within the caller's org scope. The two cases are deliberately
// indistinguishable so a response never leaks another tenant's record ids.
var ErrNotFound = errors.New("storage: not found")
