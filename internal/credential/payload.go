// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package credential

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/omahs/zupass/internal/proof"
)

// PayloadVersion is the newest payload schema this package understands.
// Payloads without a version field are treated as version 1.
const PayloadVersion = 1

// Credential is the signed envelope a client presents: a signature proof
// whose signed message is a JSON encoded Payload.
type Credential = proof.Serialized

// Payload is the message signed inside a credential.
type Payload struct {
	Version   int               `json:"version,omitempty"`
	PCD       *proof.Serialized `json:"pcd,omitempty"`
	Timestamp int64             `json:"timestamp"` // unix milliseconds
}

// NewPayload builds a current-version payload stamped at t.
func NewPayload(t time.Time, pcd *proof.Serialized) Payload {
	return Payload{Version: PayloadVersion, PCD: pcd, Timestamp: t.UnixMilli()}
}

// Time returns the payload timestamp.
func (p Payload) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Encode renders the payload as the string to be signed.
func (p Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("credential: encode payload: %w", err)
	}
	return string(b), nil
}

type rawPayload struct {
	Version   *int              `json:"version"`
	PCD       *proof.Serialized `json:"pcd"`
	Timestamp *int64            `json:"timestamp"`
}

// ParsePayload decodes a signed message. Unknown fields, trailing data, a
// missing timestamp and unsupported versions are all rejected with
// ErrMalformedPayload.
func ParsePayload(message string) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(message)))
	dec.DisallowUnknownFields()

	var raw rawPayload
	if err := dec.Decode(&raw); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Payload{}, fmt.Errorf("%w: trailing data after payload", ErrMalformedPayload)
	}
	if raw.Timestamp == nil {
		return Payload{}, fmt.Errorf("%w: missing timestamp", ErrMalformedPayload)
	}

	p := Payload{Version: 1, PCD: raw.PCD, Timestamp: *raw.Timestamp}
	if raw.Version != nil {
		if *raw.Version < 1 || *raw.Version > PayloadVersion {
			return Payload{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedPayload, *raw.Version)
		}
		p.Version = *raw.Version
	}
	return p, nil
}
