// Package amoebiuserr defines the error taxonomy shared by every workflow
// package: a small set of typed kinds (spec §7) instead of ad-hoc sentinel
// strings, so callers can branch with errors.Is instead of substring checks.
package amoebiuserr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy from spec §7. These are categories,
// not Go types — every instance is a *Error carrying one of these kinds.
type Kind string

const (
	// KindTransient covers connection resets, 5xx responses, and subprocess
	// retries that were ultimately consumed without success.
	KindTransient Kind = "transient"
	// KindAuth covers a 403 from the secret manager; the caller is expected
	// to re-login and retry once, and a persistent failure here is fatal.
	KindAuth Kind = "auth"
	// KindNotFound covers a 404 from the secret manager's KV API.
	KindNotFound Kind = "not_found"
	// KindValidation covers malformed JSON envelopes and model/schema
	// mismatches; always fatal for the operation.
	KindValidation Kind = "validation"
	// KindPrecondition covers caller misuse: empty host keys for strict
	// SSH, an empty root name, an invalid workspace name, a double
	// TF_WORKSPACE override.
	KindPrecondition Kind = "precondition"
	// KindRemoteCommand covers a non-success exit code outside okCodes.
	KindRemoteCommand Kind = "remote_command"
	// KindCrypto covers AEAD verification failures; fatal.
	KindCrypto Kind = "crypto"
)

// Sentinel values for errors.Is matching, mirroring the taxonomy's kinds.
var (
	ErrNotFound     = errors.New("not found")
	ErrAuth         = errors.New("authentication failed")
	ErrValidation   = errors.New("validation failed")
	ErrPrecondition = errors.New("precondition failed")
	ErrRemoteFailed = errors.New("remote command failed")
	ErrCrypto       = errors.New("decryption failed")
	ErrTransient    = errors.New("transient failure")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindAuth:
		return ErrAuth
	case KindValidation:
		return ErrValidation
	case KindPrecondition:
		return ErrPrecondition
	case KindRemoteCommand:
		return ErrRemoteFailed
	case KindCrypto:
		return ErrCrypto
	default:
		return ErrTransient
	}
}

// Error is the single error type every package in this module returns for
// taxonomy-classified failures. Op names the failing operation (e.g.
// "secretclient.Read", "sshcore.RunSSH") for log correlation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New constructs a classified error. Op should be short and stable, e.g.
// "secretclient.kv.read".
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound builds a KindNotFound error whose message is guaranteed to
// contain the literal substring "404", per spec §7/§8 — callers that still
// branch on the substring (rather than errors.Is) keep working.
func NotFound(op string, err error) *Error {
	if err == nil {
		err = fmt.Errorf("404")
	}
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("404: %w", err)}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As chains, and also
// matches against the taxonomy's sentinel for its own Kind so that
// errors.Is(err, amoebiuserr.ErrNotFound) works without the caller knowing
// about the wrapped cause.
func (e *Error) Unwrap() []error {
	return []error{e.Err, sentinelFor(e.Kind)}
}

// Is reports whether target is the sentinel for this error's Kind, in
// addition to the normal Unwrap-based matching errors.Is already performs.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, with ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
