// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrMemoryPressure aborts a streamed fetch when process memory crosses the
// hard ceiling. Fatal for the current job only; sibling jobs keep running.
var ErrMemoryPressure = errors.New("fetch aborted: memory pressure hard limit exceeded")

// PermanentError marks an upstream failure that retrying cannot fix:
// authorization failures, missing datasets, rejected queries. The whole
// fetch aborts immediately without consuming remaining retries.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent upstream error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("permanent upstream error: %s", e.Message)
}

// TransientError marks a retryable upstream failure: timeouts, 5xx
// responses, malformed bodies, connection resets.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient upstream error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient upstream error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError reports an upstream rate-limit response. RetryAfter is the
// upstream-advertised cooldown, zero when the response carried no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by upstream, retry after %s", e.RetryAfter)
	}
	return "rate limited by upstream"
}

// IsPermanent reports whether err aborts a fetch without retries.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsRateLimited reports whether err is an upstream rate-limit signal.
func IsRateLimited(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// classifyStatus maps a non-200 response to the error taxonomy. 429 becomes
// a rate-limit signal with the Retry-After hint, 5xx is transient, and the
// remaining 4xx family is permanent (the request itself is wrong, retrying
// cannot help).
func classifyStatus(status int, header http.Header, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(header.Get("Retry-After"))}
	case status >= 500:
		return &TransientError{StatusCode: status, Err: fmt.Errorf("upstream returned %d: %s", status, truncateBody(body))}
	case status >= 400:
		return &PermanentError{StatusCode: status, Message: truncateBody(body)}
	default:
		return &TransientError{StatusCode: status, Err: fmt.Errorf("unexpected status %d", status)}
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// truncateBody bounds error messages so a large error page does not flood
// logs or wrapped error chains.
func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// outcomeLabel maps an error to the fetch_requests_total outcome label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsRateLimited(err):
		return "rate_limited"
	case IsPermanent(err):
		return "permanent"
	default:
		return "transient"
	}
}
