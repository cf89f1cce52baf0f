// SPDX-License-Identifier: MIT

package errcat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{400, Validation},
		{401, Authorization},
		{403, Authorization},
		{404, NotFound},
		{408, Timeout},
		{422, Validation},
		{425, Timeout},
		{429, RateLimit},
		{500, ServerError},
		{502, ServerError},
		{503, ServerError},
		{200, Unknown},
	}

	for _, tt := range tests {
		if got := FromStatus(tt.status); got != tt.want {
			t.Errorf("FromStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	nonRetryable := []Category{Validation, MissingRecord, Authorization, NotFound, Database}
	for _, c := range nonRetryable {
		if c.Retryable() {
			t.Errorf("%s.Retryable() = true, want false", c)
		}
	}
	retryable := []Category{RateLimit, Timeout, Network, Connection, Transient, ServerError, Unknown}
	for _, c := range retryable {
		if !c.Retryable() {
			t.Errorf("%s.Retryable() = false, want true", c)
		}
	}
}

func TestCategoryOf_WrappedChain(t *testing.T) {
	base := New(RateLimit, "too many requests")
	wrapped := fmt.Errorf("calling search: %w", base)

	if got := CategoryOf(wrapped); got != RateLimit {
		t.Errorf("CategoryOf() = %v, want %v", got, RateLimit)
	}
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable() = false, want true")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"deadline", context.DeadlineExceeded, Timeout},
		{"canceled", context.Canceled, Connection},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example.com"}, Network},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, Connection},
		{"plain", errors.New("boom"), Unknown},
		{"categorized wins", Wrap(Validation, errors.New("boom"), "bad payload"), Validation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{"seconds", "30", 30 * time.Second, true},
		{"zero seconds", "0", 0, true},
		{"negative", "-5", 0, false},
		{"http date", now.Add(90 * time.Second).UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"), 90 * time.Second, true},
		{"http date in past", now.Add(-time.Minute).UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"), 0, false},
		{"unix timestamp", fmt.Sprintf("%d", now.Add(2*time.Minute).Unix()), 2 * time.Minute, true},
		{"garbage", "soon", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, now)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = (%v, %v), want (%v, %v)", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Category: RateLimit, Message: "slow down", RetryAfter: 45 * time.Second}
	wrapped := fmt.Errorf("stage: %w", err)

	d, ok := RetryAfterOf(wrapped)
	if !ok || d != 45*time.Second {
		t.Errorf("RetryAfterOf() = (%v, %v), want (45s, true)", d, ok)
	}

	if _, ok := RetryAfterOf(errors.New("plain")); ok {
		t.Error("RetryAfterOf(plain) ok = true, want false")
	}
}
