// Package syncerr holds the error taxonomy of a synchronization pass.
//
// Pass-fatal kinds (ConfigError, AuthError, TransportError, StoreReadError,
// StoreWriteError) abort the pass and surface as a single error. MessageError
// and DisposalError are local: they are collected into the pass result and
// never stop the loop.
package syncerr

import (
	"errors"
	"fmt"
)

// ErrPassInProgress is returned when a pass is requested while another one holds the guard
var ErrPassInProgress = errors.New("sync pass already in progress")

// ConfigError reports a missing or invalid setting
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// AuthError reports a rejected invocation credential
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "unauthorized: " + e.Message
}

// TransportError reports a connect, login, select or list failure against the mailbox
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StoreReadError reports an unreadable watermark
type StoreReadError struct {
	Err error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("reading watermark: %v", e.Err)
}

func (e *StoreReadError) Unwrap() error { return e.Err }

// StoreWriteError reports a watermark that could not be advanced
type StoreWriteError struct {
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("advancing watermark: %v", e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// MessageError reports a failure local to one message
type MessageError struct {
	Identifier string
	Stage      string
	Err        error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("message %s: %s: %v", e.Identifier, e.Stage, e.Err)
}

func (e *MessageError) Unwrap() error { return e.Err }

// DisposalError reports a post-persist cleanup failure; the record is already stored
type DisposalError struct {
	Identifier string
	Action     string
	Err        error
}

func (e *DisposalError) Error() string {
	return fmt.Sprintf("disposing message %s (%s): %v", e.Identifier, e.Action, e.Err)
}

func (e *DisposalError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborts a pass
func IsFatal(err error) bool {
	var (
		cfgErr   *ConfigError
		authErr  *AuthError
		trErr    *TransportError
		readErr  *StoreReadError
		writeErr *StoreWriteError
	)
	return errors.As(err, &cfgErr) ||
		errors.As(err, &authErr) ||
		errors.As(err, &trErr) ||
		errors.As(err, &readErr) ||
		errors.As(err, &writeErr)
}
