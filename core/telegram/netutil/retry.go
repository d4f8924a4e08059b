// Package netutil classifies network failures seen while calling the Telegram API.
package netutil

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
)

// Error kinds reported by Classify.
const (
	KindTimeout = "timeout"
	KindDNS     = "dns"
	KindDial    = "dial"
	KindTLS     = "tls"
	KindReset   = "reset"
	KindUnknown = "unknown"
)

// ShouldRetry reports whether a network error is worth retrying.
// Timeouts, dial failures and resets are; DNS misconfiguration and TLS alerts are not.
func ShouldRetry(err error) bool {
	switch Classify(err) {
	case KindTimeout, KindDial, KindReset:
		return true
	}
	return false
}

// Classify names the transport-level failure behind err, or KindUnknown.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return KindTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case opErr.Timeout():
			return KindTimeout
		case opErr.Op == "dial":
			return KindDial
		case opErr.Op == "read" || opErr.Op == "write":
			return KindReset
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}
