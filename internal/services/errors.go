// Package services implements the business logic of the helpline: the user
// directory, the invitation ledger, and the coordinator that sequences
// pairing transitions with invitation updates.
//
// Expected transition results (client already paired, operator busy, …) are
// result codes defined in the repo package, never errors. The error values
// here cover genuine faults the handlers may want to distinguish; anything
// else is a raw storage or transport error propagated up.
package services

import "errors"

// ErrUserNotFound indicates that the referenced chat id is not registered
// in the user directory.
var ErrUserNotFound = errors.New("user not found")
