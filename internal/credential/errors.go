// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package credential

import (
	"errors"
	"fmt"
)

// Reason identifies which verification step rejected a credential.
type Reason string

const (
	ReasonInvalidCredentialType Reason = "InvalidCredentialType"
	ReasonSignatureInvalid      Reason = "SignatureInvalid"
	ReasonTimestampOutOfBounds  Reason = "TimestampOutOfBounds"
	ReasonPayloadTypeMismatch   Reason = "PayloadTypeMismatch"
	ReasonPayloadInvalid        Reason = "PayloadInvalid"
	ReasonIdentityMismatch      Reason = "IdentityMismatch"
	ReasonUntrustedSigner       Reason = "UntrustedSigner"
)

// Sentinels matched by errors.Is against a *VerificationError.
var (
	ErrInvalidCredentialType = errors.New("credential: invalid credential type")
	ErrSignatureInvalid      = errors.New("credential: signature invalid")
	ErrTimestampOutOfBounds  = errors.New("credential: timestamp out of bounds")
	ErrPayloadTypeMismatch   = errors.New("credential: payload type mismatch")
	ErrPayloadInvalid        = errors.New("credential: payload invalid")
	ErrIdentityMismatch      = errors.New("credential: identity mismatch")
	ErrUntrustedSigner       = errors.New("credential: untrusted signer")
)

// ErrMalformedPayload is returned when the signed message is not a valid
// credential payload. It is a parse failure, not a VerificationError.
var ErrMalformedPayload = errors.New("credential: malformed payload")

// ErrNoEmailProof is returned by Manager when an email proof is requested
// but none is held.
var ErrNoEmailProof = errors.New("credential: no email proof available")

var reasonSentinels = map[Reason]error{
	ReasonInvalidCredentialType: ErrInvalidCredentialType,
	ReasonSignatureInvalid:      ErrSignatureInvalid,
	ReasonTimestampOutOfBounds:  ErrTimestampOutOfBounds,
	ReasonPayloadTypeMismatch:   ErrPayloadTypeMismatch,
	ReasonPayloadInvalid:        ErrPayloadInvalid,
	ReasonIdentityMismatch:      ErrIdentityMismatch,
	ReasonUntrustedSigner:       ErrUntrustedSigner,
}

// VerificationError reports a terminal verification failure.
type VerificationError struct {
	Reason Reason
	Detail string
	Err    error // underlying cause, may be nil
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("credential verification failed: %s", e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Reason.
func (e *VerificationError) Is(target error) bool {
	s, ok := reasonSentinels[e.Reason]
	return ok && s == target
}

func newError(reason Reason, detail string, err error) *VerificationError {
	return &VerificationError{Reason: reason, Detail: detail, Err: err}
}

// IsAuthFailure reports whether err means the credential itself was
// rejected, as opposed to an infrastructure failure.
func IsAuthFailure(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve) || errors.Is(err, ErrMalformedPayload)
}

// ReasonOf extracts the rejection reason, or "" when err is not a
// VerificationError.
func ReasonOf(err error) Reason {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
