package errs

import (
	"net/http"
	"strconv"
	"time"
)

// FromStatus maps an HTTP status code from a provider response to the
// taxonomy. Adapters call this for any non-2xx status.
func FromStatus(status int, header http.Header, opts ...Option) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		opts = append(opts, WithRetryAfter(retryAfterHint(header)), WithDetail("http %d", status))
		return New(KindRateLimitExceeded, opts...)
	case status == http.StatusNotFound:
		opts = append(opts, WithDetail("http %d", status))
		return New(KindInvalidSymbol, opts...)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		opts = append(opts, WithDetail("http %d", status))
		return New(KindMissingCredential, opts...)
	case status >= 500:
		opts = append(opts, WithDetail("http %d", status))
		return New(KindProviderUnavailable, opts...)
	default:
		opts = append(opts, WithDetail("http %d", status))
		return New(KindNetworkError, opts...)
	}
}

// retryAfterHint parses a Retry-After header when present (seconds form only).
func retryAfterHint(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
