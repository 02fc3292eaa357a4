package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestTaxonomyFixesTriple(t *testing.T) {
	cases := []struct {
		kind     Kind
		category Category
		severity Severity
		recovery Recovery
	}{
		{KindNetworkError, CategoryNetwork, SeverityMedium, RecoveryRetry},
		{KindRateLimitExceeded, CategoryAPILimit, SeverityMedium, RecoveryRetry},
		{KindQuotaExceeded, CategoryAPILimit, SeverityMedium, RecoveryFallbackProvider},
		{KindNoData, CategoryDataIssue, SeverityLow, RecoveryUseStaleCache},
		{KindInvalidSymbol, CategoryDataIssue, SeverityLow, RecoveryUseStaleCache},
		{KindInvalidDateRange, CategoryConfiguration, SeverityHigh, RecoveryNone},
		{KindMissingCredential, CategoryConfiguration, SeverityCritical, RecoveryRequireUserConfig},
		{KindDataQualityError, CategoryDataIssue, SeverityHigh, RecoveryFallbackProvider},
		{KindProviderUnavailable, CategoryNetwork, SeverityMedium, RecoveryFallbackProvider},
		{KindPersistenceError, CategoryStorage, SeverityHigh, RecoveryNone},
		{KindCacheError, CategoryStorage, SeverityMedium, RecoveryNone},
	}
	for _, tc := range cases {
		e := New(tc.kind)
		if e.Category != tc.category || e.Severity != tc.severity || e.Recovery != tc.recovery {
			t.Fatalf("%s: got (%s,%s,%s), want (%s,%s,%s)", tc.kind,
				e.Category, e.Severity, e.Recovery, tc.category, tc.severity, tc.recovery)
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	e := New(KindNetworkError, WithProvider("Yahoo"), WithSymbol("MSFT"), WithCause(cause))

	if !errors.Is(e, cause) {
		t.Fatal("wrapped cause should match errors.Is")
	}
	if !IsKind(e, KindNetworkError) {
		t.Fatal("IsKind should match")
	}
	if IsKind(e, KindNoData) {
		t.Fatal("IsKind should not match a different kind")
	}
	// a wrapped classified error stays classified
	outer := fmt.Errorf("fetch: %w", e)
	if got := Classify(outer); got.Kind != KindNetworkError || got.Provider != "Yahoo" {
		t.Fatalf("classify through wrap: got %s/%s", got.Kind, got.Provider)
	}
}

func TestClassifyUnknownError(t *testing.T) {
	e := Classify(fmt.Errorf("something broke"))
	if e.Kind != KindNetworkError {
		t.Fatalf("kind = %s, want network_error", e.Kind)
	}
	if e.Recovery != RecoveryRetry {
		t.Fatalf("recovery = %s, want retry", e.Recovery)
	}
}

func TestFromStatus(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")

	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimitExceeded},
		{http.StatusNotFound, KindInvalidSymbol},
		{http.StatusUnauthorized, KindMissingCredential},
		{http.StatusForbidden, KindMissingCredential},
		{http.StatusInternalServerError, KindProviderUnavailable},
		{http.StatusBadGateway, KindProviderUnavailable},
		{http.StatusTeapot, KindNetworkError},
	}
	for _, tc := range cases {
		e := Classify(FromStatus(tc.status, h))
		if e.Kind != tc.kind {
			t.Fatalf("status %d: kind = %s, want %s", tc.status, e.Kind, tc.kind)
		}
	}

	e := Classify(FromStatus(http.StatusTooManyRequests, h))
	if e.RetryAfter != 30*time.Second {
		t.Fatalf("retry-after = %v, want 30s", e.RetryAfter)
	}
}
