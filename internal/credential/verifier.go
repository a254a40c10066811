// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package credential verifies and produces signed, timestamped credentials.
//
// A credential is a signature proof over a JSON Payload. The payload may
// embed an email proof binding an email address to the signing identity.
package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/metrics"
	"github.com/omahs/zupass/internal/proof"
	"github.com/rs/zerolog"
)

// MaxAge is how old a credential timestamp may be. Clients refresh cached
// credentials hourly; the extra 20 minutes absorbs skew and refresh latency.
const MaxAge = time.Hour + 20*time.Minute

// SignatureVerifier checks the outer signature proof.
type SignatureVerifier interface {
	Type() string
	Verify(ctx context.Context, data []byte) (proof.SignatureClaim, bool, error)
}

// EmailVerifier checks an embedded email proof.
type EmailVerifier interface {
	Type() string
	Verify(ctx context.Context, data []byte) (proof.EmailClaim, bool, error)
}

// TrustFunc decides whether an email proof signer is trusted.
type TrustFunc func(signer proof.PublicKey) bool

// TrustKeys returns a TrustFunc accepting exactly the given keys.
func TrustKeys(keys ...proof.PublicKey) TrustFunc {
	return func(signer proof.PublicKey) bool {
		for _, k := range keys {
			if k.Equal(signer) {
				return true
			}
		}
		return false
	}
}

// VerifiedCredential holds only verified data. Email and EmailSigner are
// empty when no email proof was embedded.
type VerifiedCredential struct {
	Email       string
	SemaphoreID string
	EmailSigner proof.PublicKey
}

// HasEmail reports whether an email proof was verified.
func (v *VerifiedCredential) HasEmail() bool {
	return v.EmailSigner != nil
}

// Verifier validates credentials. It is safe for concurrent use.
type Verifier struct {
	signatures SignatureVerifier
	emails     EmailVerifier
	clock      clock.Clock
	maxAge     time.Duration
	skew       time.Duration
	logger     zerolog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source.
func WithClock(c clock.Clock) VerifierOption {
	return func(v *Verifier) { v.clock = c }
}

// WithMaxAge overrides MaxAge.
func WithMaxAge(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.maxAge = d }
}

// WithClockSkewTolerance additionally requires the payload timestamp to be
// within d of the verifier's clock in either direction, inclusive.
// Zero disables the check.
func WithClockSkewTolerance(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.skew = d }
}

// WithProofVerifiers replaces the proof verifiers.
func WithProofVerifiers(sig SignatureVerifier, email EmailVerifier) VerifierOption {
	return func(v *Verifier) {
		v.signatures = sig
		v.emails = email
	}
}

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = logger }
}

// NewVerifier returns a Verifier using the built-in proof verifiers.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		signatures: proof.SignatureVerifier{},
		emails:     proof.EmailVerifier{},
		clock:      clock.Real(),
		maxAge:     MaxAge,
		logger:     log.WithComponent("credential"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks cred and returns its verified contents. Checks run in a
// fixed order and the first failure is returned. A nil trusted accepts any
// email proof signer.
func (v *Verifier) Verify(ctx context.Context, cred Credential, trusted TrustFunc) (*VerifiedCredential, error) {
	vc, err := v.verify(ctx, cred, trusted)
	reason := ReasonOf(err)
	if err != nil && reason == "" {
		reason = "MalformedPayload"
	}
	metrics.RecordCredentialVerification(string(reason))
	if err != nil {
		v.logger.Debug().
			Str(log.FieldEvent, "credential.rejected").
			Str(log.FieldReason, string(reason)).
			Err(err).
			Msg("credential rejected")
	}
	return vc, err
}

func (v *Verifier) verify(ctx context.Context, cred Credential, trusted TrustFunc) (*VerifiedCredential, error) {
	if cred.Type != v.signatures.Type() {
		return nil, newError(ReasonInvalidCredentialType, fmt.Sprintf("got %q", cred.Type), nil)
	}

	sig, ok, err := v.signatures.Verify(ctx, cred.Proof)
	if err != nil || !ok {
		return nil, newError(ReasonSignatureInvalid, "", err)
	}

	payload, err := ParsePayload(sig.SignedMessage)
	if err != nil {
		return nil, err
	}

	if err := v.checkTimestamp(payload.Time()); err != nil {
		return nil, err
	}

	if payload.PCD == nil {
		return &VerifiedCredential{SemaphoreID: sig.IdentityCommitment}, nil
	}

	if payload.PCD.Type != v.emails.Type() {
		return nil, newError(ReasonPayloadTypeMismatch, fmt.Sprintf("got %q", payload.PCD.Type), nil)
	}
	email, ok, err := v.emails.Verify(ctx, payload.PCD.Proof)
	if err != nil || !ok {
		return nil, newError(ReasonPayloadInvalid, "", err)
	}
	if email.SemaphoreID != sig.IdentityCommitment {
		return nil, newError(ReasonIdentityMismatch, "email proof belongs to a different identity", nil)
	}
	if trusted != nil && !trusted(email.Signer) {
		return nil, newError(ReasonUntrustedSigner, email.Signer.String(), nil)
	}

	return &VerifiedCredential{
		Email:       email.EmailAddress,
		SemaphoreID: sig.IdentityCommitment,
		EmailSigner: email.Signer,
	}, nil
}

func (v *Verifier) checkTimestamp(ts time.Time) error {
	age := v.clock.Now().Sub(ts)
	if age >= v.maxAge {
		return newError(ReasonTimestampOutOfBounds, fmt.Sprintf("age %s exceeds %s", age, v.maxAge), nil)
	}
	if v.skew > 0 && (age > v.skew || age < -v.skew) {
		return newError(ReasonTimestampOutOfBounds, fmt.Sprintf("skew %s exceeds %s", age, v.skew), nil)
	}
	return nil
}
