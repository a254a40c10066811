// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feed

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeProviderURL canonicalizes a provider URL so one provider has one
// key: lower-case scheme and host, IDNA host in ASCII form, no trailing
// slash, no query or fragment.
func NormalizeProviderURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("provider url %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("provider url %q: scheme must be http or https", raw)
	}
	if u.User != nil {
		return "", fmt.Errorf("provider url %q: must not include userinfo", raw)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("provider url %q: host is empty", raw)
	}
	if ip := net.ParseIP(host); ip == nil {
		host, err = idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
		if err != nil {
			return "", fmt.Errorf("provider url %q: %w", raw, err)
		}
	}
	host = strings.ToLower(host)
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	out := url.URL{Scheme: scheme, Host: host, Path: strings.TrimRight(u.Path, "/")}
	return out.String(), nil
}

// providerKey is NormalizeProviderURL falling back to the raw value, so
// malformed URLs still get a stable key and fail later at the transport.
func providerKey(raw string) string {
	if key, err := NormalizeProviderURL(raw); err == nil {
		return key
	}
	return raw
}
