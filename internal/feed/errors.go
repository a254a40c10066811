// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feed

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/omahs/zupass/internal/credential"
)

var (
	ErrUnknownProvider     = errors.New("feed: no provider registered for url")
	ErrUnknownSubscription = errors.New("feed: unknown subscription")
	ErrAlreadySubscribed   = errors.New("feed: already subscribed")
	ErrUnauthorized        = errors.New("feed: credential rejected by provider")
	ErrFeedNotFound        = errors.New("feed: feed not found")
	ErrBadResponse         = errors.New("feed: malformed response")
)

// ErrorType classifies subscription failures.
type ErrorType string

const ErrorTypeFetch ErrorType = "fetch-error"

// FetchError is the error state of a subscription whose last poll failed.
type FetchError struct {
	SubscriptionID string
	ProviderURL    string
	Err            error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed: poll of subscription %s at %s failed: %v", e.SubscriptionID, e.ProviderURL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Type returns the error classification.
func (e *FetchError) Type() ErrorType { return ErrorTypeFetch }

// StatusError is a non-success HTTP response from a provider.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("feed: provider returned %d", e.StatusCode)
	}
	return fmt.Sprintf("feed: provider returned %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrFeedNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsAuthError reports whether err means the credential was rejected, in
// which case re-authenticating may help and silent retries will not.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || credential.IsAuthFailure(err)
}

// IsTransient reports whether err is worth retrying without user action.
func IsTransient(err error) bool {
	return err != nil && !IsAuthError(err) && !errors.Is(err, ErrFeedNotFound)
}
