// Package health tracks per-provider call statistics and runs on-demand
// canary probes. The collector plugs into the orchestrator as its observer;
// it only records, it never influences routing.
package health

import (
	"context"
	"sync"
	"time"

	"assetfeed/internal/errs"
	"assetfeed/internal/provider"
	"assetfeed/internal/provider/ratelimit"
)

type providerStats struct {
	requests     int64
	failures     int64
	totalLatency time.Duration
	lastSuccess  time.Time
	lastFailure  time.Time
	lastError    string
	lastKind     string
}

// Collector aggregates call outcomes per provider.
type Collector struct {
	mu    sync.Mutex
	stats map[string]*providerStats
	now   func() time.Time
}

func NewCollector() *Collector {
	return &Collector{stats: make(map[string]*providerStats), now: time.Now}
}

// ObserveCall records one provider call outcome. Implements the
// orchestrator's observer contract.
func (c *Collector) ObserveCall(providerName, kind string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[providerName]
	if !ok {
		s = &providerStats{}
		c.stats[providerName] = s
	}
	s.requests++
	s.totalLatency += latency
	if err != nil {
		s.failures++
		s.lastFailure = c.now()
		s.lastError = err.Error()
		s.lastKind = string(errs.Classify(err).Kind)
		return
	}
	s.lastSuccess = c.now()
}

// ProviderReport is one provider's aggregated view, including current quota
// usage read live from its limiter.
type ProviderReport struct {
	Name          string           `json:"name"`
	Priority      int              `json:"priority"`
	Requests      int64            `json:"requests"`
	Failures      int64            `json:"failures"`
	ErrorRate     float64          `json:"error_rate"`
	AvgLatencyMS  int64            `json:"avg_latency_ms"`
	LastSuccess   *time.Time       `json:"last_success,omitempty"`
	LastFailure   *time.Time       `json:"last_failure,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	LastErrorKind string           `json:"last_error_kind,omitempty"`
	Quota         ratelimit.Usage  `json:"quota_used"`
	QuotaLimit    ratelimit.Config `json:"quota_limit"`
}

// Report builds one entry per registered provider, in priority order.
func (c *Collector) Report(providers []provider.Registered) []ProviderReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ProviderReport, 0, len(providers))
	for _, reg := range providers {
		desc := reg.Provider.Describe()
		r := ProviderReport{
			Name:       desc.Name,
			Priority:   desc.Priority,
			Quota:      reg.Limiter.Snapshot(),
			QuotaLimit: reg.Limiter.Limits(),
		}
		if s, ok := c.stats[desc.Name]; ok {
			r.Requests = s.requests
			r.Failures = s.failures
			if s.requests > 0 {
				r.ErrorRate = float64(s.failures) / float64(s.requests)
				r.AvgLatencyMS = (s.totalLatency / time.Duration(s.requests)).Milliseconds()
			}
			if !s.lastSuccess.IsZero() {
				t := s.lastSuccess
				r.LastSuccess = &t
			}
			if !s.lastFailure.IsZero() {
				t := s.lastFailure
				r.LastFailure = &t
			}
			r.LastError = s.lastError
			r.LastErrorKind = s.lastKind
		}
		out = append(out, r)
	}
	return out
}

// ProbeResult is one provider's canary outcome, carrying the collector's
// rolling error rate and last recorded error alongside the live call.
type ProbeResult struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	LatencyMS int64   `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
	ErrorRate float64 `json:"error_rate"`
	LastError string  `json:"last_error,omitempty"`
}

// Probe issues a live canary quote against every quote-capable provider.
// Probes spend real quota, so they run only on explicit request; a
// quota-blocked provider is reported unhealthy with the reason, not probed.
// Canary calls count toward the provider's recorded statistics.
func (c *Collector) Probe(ctx context.Context, providers []provider.Registered, symbol string) []ProbeResult {
	out := make([]ProbeResult, 0, len(providers))
	for _, reg := range providers {
		desc := reg.Provider.Describe()
		qp, ok := reg.Provider.(provider.QuoteFetcher)
		if !ok {
			continue
		}
		res := ProbeResult{Name: desc.Name}
		if !reg.Limiter.Reserve() {
			res.Error = "quota exhausted"
		} else {
			start := time.Now()
			_, err := qp.FetchQuote(ctx, symbol)
			latency := time.Since(start)
			res.LatencyMS = latency.Milliseconds()
			c.ObserveCall(desc.Name, "probe", latency, err)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Healthy = true
			}
		}
		c.mu.Lock()
		if s, ok := c.stats[desc.Name]; ok && s.requests > 0 {
			res.ErrorRate = float64(s.failures) / float64(s.requests)
			res.LastError = s.lastError
		}
		c.mu.Unlock()
		out = append(out, res)
	}
	return out
}
