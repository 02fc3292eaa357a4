// Package errs defines the error taxonomy shared by the provider adapters,
// the tiered cache and the fetch orchestrator. Every failure is classified
// into a Kind which fixes its Category, Severity and Recovery strategy; the
// orchestrator consults only Recovery when deciding its next move.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the failure class.
type Kind string

const (
	KindInvalidURL          Kind = "invalid_url"
	KindNoData              Kind = "no_data"
	KindDecodingError       Kind = "decoding_error"
	KindRateLimitExceeded   Kind = "rate_limit_exceeded"
	KindNetworkError        Kind = "network_error"
	KindInvalidSymbol       Kind = "invalid_symbol"
	KindInvalidDateRange    Kind = "invalid_date_range"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindMissingCredential   Kind = "missing_credential"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindDataQualityError    Kind = "data_quality_error"
	KindCacheError          Kind = "cache_error"
	KindPersistenceError    Kind = "persistence_error"
)

// Category groups kinds by the subsystem at fault.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryAPILimit      Category = "api_limit"
	CategoryDataIssue     Category = "data_issue"
	CategoryConfiguration Category = "configuration"
	CategoryStorage       Category = "storage"
)

// Severity ranks how urgently a failure needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Recovery is the single action the orchestrator takes for an error.
type Recovery string

const (
	RecoveryRetry             Recovery = "retry"
	RecoveryFallbackProvider  Recovery = "fallback_provider"
	RecoveryUseStaleCache     Recovery = "use_stale_cache"
	RecoveryRequireUserConfig Recovery = "require_user_configuration"
	RecoveryNone              Recovery = "none"
)

// classification fixes the category/severity/recovery triple per kind.
type classification struct {
	category Category
	severity Severity
	recovery Recovery
}

var taxonomy = map[Kind]classification{
	KindInvalidURL:          {CategoryConfiguration, SeverityCritical, RecoveryNone},
	KindNoData:              {CategoryDataIssue, SeverityLow, RecoveryUseStaleCache},
	KindDecodingError:       {CategoryDataIssue, SeverityMedium, RecoveryFallbackProvider},
	KindRateLimitExceeded:   {CategoryAPILimit, SeverityMedium, RecoveryRetry},
	KindNetworkError:        {CategoryNetwork, SeverityMedium, RecoveryRetry},
	KindInvalidSymbol:       {CategoryDataIssue, SeverityLow, RecoveryUseStaleCache},
	KindInvalidDateRange:    {CategoryConfiguration, SeverityHigh, RecoveryNone},
	KindProviderUnavailable: {CategoryNetwork, SeverityMedium, RecoveryFallbackProvider},
	KindMissingCredential:   {CategoryConfiguration, SeverityCritical, RecoveryRequireUserConfig},
	KindQuotaExceeded:       {CategoryAPILimit, SeverityMedium, RecoveryFallbackProvider},
	KindDataQualityError:    {CategoryDataIssue, SeverityHigh, RecoveryFallbackProvider},
	KindCacheError:          {CategoryStorage, SeverityMedium, RecoveryNone},
	KindPersistenceError:    {CategoryStorage, SeverityHigh, RecoveryNone},
}

// Error is the taxonomy-carrying error type. It wraps an optional cause and
// carries enough context (provider, symbol, retry-after) for the orchestrator
// to drive its fallback decision.
type Error struct {
	Kind       Kind
	Category   Category
	Severity   Severity
	Recovery   Recovery
	Provider   string
	Symbol     string
	Detail     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Provider != "" {
		msg += " provider=" + e.Provider
	}
	if e.Symbol != "" {
		msg += " symbol=" + e.Symbol
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on bare kinds via sentinel errors built by New.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// New builds a classified error of the given kind.
func New(kind Kind, opts ...Option) *Error {
	c, ok := taxonomy[kind]
	if !ok {
		c = classification{CategoryNetwork, SeverityMedium, RecoveryFallbackProvider}
	}
	e := &Error{Kind: kind, Category: c.category, Severity: c.severity, Recovery: c.recovery}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option customizes the context an Error carries.
type Option func(*Error)

// WithProvider records the provider that produced the error.
func WithProvider(name string) Option { return func(e *Error) { e.Provider = name } }

// WithSymbol records the symbol being fetched.
func WithSymbol(symbol string) Option { return func(e *Error) { e.Symbol = symbol } }

// WithDetail attaches a free-form detail message.
func WithDetail(format string, args ...any) Option {
	return func(e *Error) { e.Detail = fmt.Sprintf(format, args...) }
}

// WithCause wraps the underlying error.
func WithCause(err error) Option { return func(e *Error) { e.Err = err } }

// WithRetryAfter attaches the provider's retry-after hint.
func WithRetryAfter(d time.Duration) Option { return func(e *Error) { e.RetryAfter = d } }

// Classify returns the *Error for err, wrapping unclassified errors as a
// network error so every failure path carries a recovery strategy.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(KindNetworkError, WithCause(err))
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
