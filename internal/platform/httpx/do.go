// SPDX-License-Identifier: MIT

package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/metrics"
)

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 10 << 20

// errorSnippetBytes is how much of an error body lands in the message.
const errorSnippetBytes = 512

// DoJSON sends req under the guard, decodes a 2xx JSON body into out
// (skipped when out is nil), and converts every failure into a
// categorized error the retry and breaker layers understand. Non-2xx
// responses carry the status and any Retry-After hint.
func DoJSON(ctx context.Context, client *http.Client, guard *Guard, resource string, req *http.Request, out any) error {
	release, err := guard.Acquire(ctx, resource)
	if err != nil {
		return errcat.Wrap(errcat.Timeout, err, "waiting for outbound slot")
	}
	defer release()

	metrics.OutboundStarted()
	started := time.Now()

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		metrics.OutboundFinished(resource, 0, time.Since(started))
		return &errcat.Error{
			Category: errcat.Classify(err),
			Message:  fmt.Sprintf("%s request failed", resource),
			Err:      err,
		}
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.OutboundFinished(resource, resp.StatusCode, time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resource, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return &errcat.Error{
			Category: errcat.Transient,
			Message:  fmt.Sprintf("decoding %s response", resource),
			Err:      err,
		}
	}
	return nil
}

// statusError converts a non-2xx response into a categorized error,
// keeping a short body snippet for the logs.
func statusError(resource string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetBytes))

	e := &errcat.Error{
		Category: errcat.FromStatus(resp.StatusCode),
		Message:  fmt.Sprintf("%s returned %d: %s", resource, resp.StatusCode, string(snippet)),
		Status:   resp.StatusCode,
	}
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if d, ok := errcat.ParseRetryAfter(retryAfter, time.Now()); ok {
			e.RetryAfter = d
		}
	}
	return e
}
