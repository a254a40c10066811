// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package proof

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
)

// Proof type names carried in Serialized.Type.
const (
	SignatureProofType = "semaphore-signature-pcd"
	EmailProofType     = "email-pcd"
)

// Domain separation prefixes so a signature over one kind of message can
// never be replayed as another.
var (
	signatureDomain = []byte("zupass/signature-proof/v1\x00")
	emailDomain     = []byte("zupass/email-proof/v1\x00")
)

// ErrMalformed is returned when serialized proof bytes cannot be decoded.
var ErrMalformed = errors.New("proof: malformed proof")

// Serialized is the JSON transport envelope of a proof.
type Serialized struct {
	Type  string `json:"type"`
	Proof []byte `json:"pcd"`
}

// SignatureClaim is what a valid signature proof asserts.
type SignatureClaim struct {
	IdentityCommitment string
	SignedMessage      string
}

// EmailClaim is what a valid email proof asserts: the issuer with key Signer
// vouches that SemaphoreID controls EmailAddress.
type EmailClaim struct {
	EmailAddress string
	SemaphoreID  string
	Signer       PublicKey
}

type signatureProof struct {
	IdentityCommitment string `cbor:"1,keyasint"`
	PublicKey          []byte `cbor:"2,keyasint"`
	SignedMessage      string `cbor:"3,keyasint"`
	Signature          []byte `cbor:"4,keyasint"`
}

type emailBody struct {
	EmailAddress string `cbor:"1,keyasint"`
	SemaphoreID  string `cbor:"2,keyasint"`
}

type emailProof struct {
	Body            emailBody `cbor:"1,keyasint"`
	SignerPublicKey []byte    `cbor:"2,keyasint"`
	Signature       []byte    `cbor:"3,keyasint"`
}

// SignMessage produces a serialized signature proof of message by id.
func SignMessage(id *Identity, message string) (Serialized, error) {
	p := signatureProof{
		IdentityCommitment: id.Commitment(),
		PublicKey:          id.PublicKey(),
		SignedMessage:      message,
		Signature:          id.sign(append(append([]byte{}, signatureDomain...), message...)),
	}
	data, err := marshal(p)
	if err != nil {
		return Serialized{}, fmt.Errorf("proof: encode signature proof: %w", err)
	}
	return Serialized{Type: SignatureProofType, Proof: data}, nil
}

// SignatureVerifier verifies signature proofs.
type SignatureVerifier struct{}

// Type returns the proof type this verifier accepts.
func (SignatureVerifier) Type() string { return SignatureProofType }

// Verify decodes data and checks the signature. A decode failure is an
// error; a well-formed proof with a bad signature returns ok=false.
func (SignatureVerifier) Verify(_ context.Context, data []byte) (SignatureClaim, bool, error) {
	var p signatureProof
	if err := unmarshal(data, &p); err != nil {
		return SignatureClaim{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	claim := SignatureClaim{IdentityCommitment: p.IdentityCommitment, SignedMessage: p.SignedMessage}
	if len(p.PublicKey) != ed25519.PublicKeySize || len(p.Signature) != ed25519.SignatureSize {
		return claim, false, nil
	}
	if Commitment(p.PublicKey) != p.IdentityCommitment {
		return claim, false, nil
	}
	msg := append(append([]byte{}, signatureDomain...), p.SignedMessage...)
	return claim, ed25519.Verify(p.PublicKey, msg, p.Signature), nil
}

// EmailIssuer signs email proofs, binding an address to an identity
// commitment.
type EmailIssuer struct {
	key *Identity
}

// NewEmailIssuer wraps a signing identity as an issuer.
func NewEmailIssuer(key *Identity) *EmailIssuer {
	return &EmailIssuer{key: key}
}

// PublicKey returns the issuer key that verifiers can choose to trust.
func (e *EmailIssuer) PublicKey() PublicKey {
	return e.key.PublicKey()
}

// Issue creates a serialized email proof for semaphoreID.
func (e *EmailIssuer) Issue(email, semaphoreID string) (Serialized, error) {
	body := emailBody{EmailAddress: email, SemaphoreID: semaphoreID}
	bodyBytes, err := marshal(body)
	if err != nil {
		return Serialized{}, fmt.Errorf("proof: encode email claim: %w", err)
	}
	p := emailProof{
		Body:            body,
		SignerPublicKey: e.key.PublicKey(),
		Signature:       e.key.sign(append(append([]byte{}, emailDomain...), bodyBytes...)),
	}
	data, err := marshal(p)
	if err != nil {
		return Serialized{}, fmt.Errorf("proof: encode email proof: %w", err)
	}
	return Serialized{Type: EmailProofType, Proof: data}, nil
}

// EmailVerifier verifies email proofs.
type EmailVerifier struct{}

// Type returns the proof type this verifier accepts.
func (EmailVerifier) Type() string { return EmailProofType }

// Verify decodes data and checks the issuer signature over the claim.
func (EmailVerifier) Verify(_ context.Context, data []byte) (EmailClaim, bool, error) {
	var p emailProof
	if err := unmarshal(data, &p); err != nil {
		return EmailClaim{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	claim := EmailClaim{
		EmailAddress: p.Body.EmailAddress,
		SemaphoreID:  p.Body.SemaphoreID,
		Signer:       PublicKey(p.SignerPublicKey),
	}
	if len(p.SignerPublicKey) != ed25519.PublicKeySize || len(p.Signature) != ed25519.SignatureSize {
		return claim, false, nil
	}
	bodyBytes, err := marshal(p.Body)
	if err != nil {
		return claim, false, fmt.Errorf("proof: re-encode email claim: %w", err)
	}
	msg := append(append([]byte{}, emailDomain...), bodyBytes...)
	return claim, ed25519.Verify(p.SignerPublicKey, msg, p.Signature), nil
}
