package vault

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by a flow wraps exactly one of these.
var (
	ErrIO                   = errors.New("vault: i/o failure")
	ErrCorruptKeyfile       = errors.New("vault: corrupt keyfile")
	ErrKDF                  = errors.New("vault: key derivation failed")
	ErrAuthenticationFailed = errors.New("vault: authentication failed")
	ErrDataIntegrity        = errors.New("vault: data integrity failure")
	ErrSchemaBootstrap      = errors.New("vault: schema bootstrap failed")
	ErrSerialization        = errors.New("vault: serialization failed")

	ErrPasswordTooShort = errors.New("vault: master password too short")
	ErrPasswordTooLong  = errors.New("vault: master password too long")
	ErrPasswordMismatch = errors.New("vault: passwords do not match")
	ErrInvalidInput     = errors.New("vault: invalid input")
	ErrVaultExists      = errors.New("vault: vault already exists at this path")
	ErrVaultNotFound    = errors.New("vault: vault not found at this path")
	ErrVaultBusy        = errors.New("vault: vault is in use by another process")
	ErrInvalidState     = errors.New("vault: operation not allowed in current state")
	ErrCooldownActive   = errors.New("vault: cooldown period active")
	ErrInsufficientDisk = errors.New("vault: insufficient disk space")
)

// codes maps each kind to a stable identifier for logs and audit records.
var codes = []struct {
	kind error
	code string
}{
	{ErrIO, "io_failure"},
	{ErrCorruptKeyfile, "corrupt_keyfile"},
	{ErrKDF, "kdf_failure"},
	{ErrAuthenticationFailed, "authentication_failed"},
	{ErrDataIntegrity, "data_integrity_failure"},
	{ErrSchemaBootstrap, "schema_bootstrap_failure"},
	{ErrSerialization, "serialization_failure"},
	{ErrPasswordTooShort, "password_too_short"},
	{ErrPasswordTooLong, "password_too_long"},
	{ErrPasswordMismatch, "password_mismatch"},
	{ErrInvalidInput, "invalid_input"},
	{ErrVaultExists, "vault_exists"},
	{ErrVaultNotFound, "vault_not_found"},
	{ErrVaultBusy, "vault_busy"},
	{ErrInvalidState, "invalid_state"},
	{ErrCooldownActive, "cooldown_active"},
	{ErrInsufficientDisk, "insufficient_disk"},
}

// Code returns the stable identifier of err's kind, or "unknown".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "unknown"
}

// Error is a failed flow step.
//
// Notice is the human-readable message pushed to the notification queue.
// It is static text and never includes the cause.
type Error struct {
	Kind   error
	Step   string
	Notice string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Step)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Step, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stepErr(kind error, step, notice string, cause error) *Error {
	return &Error{Kind: kind, Step: step, Notice: notice, Err: cause}
}

// noticeOf returns the queue message for err.
func noticeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Notice != "" {
		return e.Notice
	}
	return "Unexpected Error: " + Code(err)
}
