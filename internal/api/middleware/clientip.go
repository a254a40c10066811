// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is a set of networks whose forwarding headers are believed.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies parses CIDRs. Blank entries are skipped.
func ParseTrustedProxies(cidrs []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", c, err)
		}
		out = append(out, ipnet)
	}
	return out, nil
}

func (t TrustedProxies) contains(remote string) bool {
	if len(t) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range t {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating address of r. X-Forwarded-For and
// X-Real-IP are only honored when the peer is a trusted proxy.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	if t.contains(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// KeyFunc adapts ClientIP to the rate limiter.
func (t TrustedProxies) KeyFunc(r *http.Request) (string, error) {
	return t.ClientIP(r), nil
}
