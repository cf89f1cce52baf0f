// SPDX-License-Identifier: MIT

package errcat

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Classify inspects an arbitrary error chain and assigns a category.
// HTTP-derived errors should be built with FromStatus at the call site;
// this covers everything underneath: transport faults, DNS, timeouts.
func Classify(err error) Category {
	if err == nil {
		return ""
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Connection
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Network
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return Connection
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Connection
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Connection
	}

	return Unknown
}

// ParseRetryAfter interprets a Retry-After header value relative to now.
// Accepted forms: delay in integer seconds, an HTTP-date, or a Unix
// timestamp in seconds. Returns false for anything unparseable or in the
// past.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		// Large integers are epoch seconds, small ones a relative delay.
		if n > 1_000_000_000 {
			d := time.Unix(n, 0).Sub(now)
			if d <= 0 {
				return 0, false
			}
			return d, true
		}
		if n < 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}

	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d <= 0 {
			return 0, false
		}
		return d, true
	}

	return 0, false
}
