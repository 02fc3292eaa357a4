package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"assetfeed/internal/errs"
	"assetfeed/internal/model"
	"assetfeed/internal/provider"
	"assetfeed/internal/provider/ratelimit"
)

type stubProvider struct {
	desc  provider.Descriptor
	quote model.Quote
	err   error
	calls int
}

func (s *stubProvider) Describe() provider.Descriptor { return s.desc }

func (s *stubProvider) FetchQuote(context.Context, string) (model.Quote, error) {
	s.calls++
	return s.quote, s.err
}

func TestCollectorReport(t *testing.T) {
	c := NewCollector()

	c.ObserveCall("Yahoo", "series", 100*time.Millisecond, nil)
	c.ObserveCall("Yahoo", "series", 300*time.Millisecond, nil)
	c.ObserveCall("Yahoo", "quote", 200*time.Millisecond,
		errs.New(errs.KindProviderUnavailable, errs.WithProvider("Yahoo")))

	regs := []provider.Registered{
		{
			Provider: &stubProvider{desc: provider.Descriptor{Name: "Yahoo", Priority: 1}},
			Limiter:  ratelimit.New(ratelimit.Config{PerMinute: 60}),
		},
		{
			Provider: &stubProvider{desc: provider.Descriptor{Name: "Nasdaq", Priority: 3}},
			Limiter:  ratelimit.New(ratelimit.Config{}),
		},
	}
	regs[0].Limiter.Record()

	report := c.Report(regs)
	if len(report) != 2 {
		t.Fatalf("len = %d, want 2", len(report))
	}

	yahoo := report[0]
	if yahoo.Name != "Yahoo" || yahoo.Requests != 3 || yahoo.Failures != 1 {
		t.Fatalf("yahoo report: %+v", yahoo)
	}
	if yahoo.ErrorRate < 0.33 || yahoo.ErrorRate > 0.34 {
		t.Fatalf("error rate = %v", yahoo.ErrorRate)
	}
	if yahoo.AvgLatencyMS != 200 {
		t.Fatalf("avg latency = %d, want 200", yahoo.AvgLatencyMS)
	}
	if yahoo.LastSuccess == nil || yahoo.LastFailure == nil {
		t.Fatal("timestamps missing")
	}
	if yahoo.LastErrorKind != string(errs.KindProviderUnavailable) {
		t.Fatalf("last error kind = %q", yahoo.LastErrorKind)
	}
	if yahoo.Quota.Minute != 1 || yahoo.QuotaLimit.PerMinute != 60 {
		t.Fatalf("quota: %+v / %+v", yahoo.Quota, yahoo.QuotaLimit)
	}

	// never-called provider still appears, zero-valued
	nasdaq := report[1]
	if nasdaq.Name != "Nasdaq" || nasdaq.Requests != 0 || nasdaq.LastSuccess != nil {
		t.Fatalf("nasdaq report: %+v", nasdaq)
	}
}

func TestProbe(t *testing.T) {
	healthy := &stubProvider{
		desc:  provider.Descriptor{Name: "Yahoo", Priority: 1},
		quote: model.Quote{Symbol: "AAPL", Price: 190.0, Source: "Yahoo"},
	}
	broken := &stubProvider{
		desc: provider.Descriptor{Name: "Nasdaq", Priority: 3},
		err:  errors.New("connection reset"),
	}
	blocked := &stubProvider{
		desc: provider.Descriptor{Name: "AlphaVantage", Priority: 2},
	}

	blockedReg := provider.Registered{Provider: blocked, Limiter: ratelimit.New(ratelimit.Config{PerDay: 1})}
	blockedReg.Limiter.Reserve()

	c := NewCollector()
	results := c.Probe(context.Background(), []provider.Registered{
		{Provider: healthy, Limiter: ratelimit.New(ratelimit.Config{})},
		blockedReg,
		{Provider: broken, Limiter: ratelimit.New(ratelimit.Config{})},
	}, "AAPL")

	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	if !results[0].Healthy || results[0].ErrorRate != 0 {
		t.Fatalf("healthy provider: %+v", results[0])
	}
	if results[1].Healthy || results[1].Error != "quota exhausted" {
		t.Fatalf("blocked provider: %+v", results[1])
	}
	if blocked.calls != 0 {
		t.Fatal("blocked provider should not be probed")
	}
	if results[2].Healthy || results[2].Error == "" {
		t.Fatalf("broken provider: %+v", results[2])
	}
	// the failed canary enters the rolling stats
	if results[2].ErrorRate != 1 || results[2].LastError != "connection reset" {
		t.Fatalf("broken provider stats: %+v", results[2])
	}
}

func TestProbeCarriesCollectorHistory(t *testing.T) {
	c := NewCollector()
	// two prior failures and two successes recorded by the orchestrator
	c.ObserveCall("Yahoo", "series", 10*time.Millisecond, nil)
	c.ObserveCall("Yahoo", "series", 10*time.Millisecond, errors.New("read timeout"))
	c.ObserveCall("Yahoo", "quote", 10*time.Millisecond, errors.New("read timeout"))
	c.ObserveCall("Yahoo", "series", 10*time.Millisecond, nil)

	p := &stubProvider{
		desc:  provider.Descriptor{Name: "Yahoo", Priority: 1},
		quote: model.Quote{Symbol: "AAPL", Price: 190.0, Source: "Yahoo"},
	}
	results := c.Probe(context.Background(), []provider.Registered{
		{Provider: p, Limiter: ratelimit.New(ratelimit.Config{})},
	}, "AAPL")

	if len(results) != 1 || !results[0].Healthy {
		t.Fatalf("results: %+v", results)
	}
	// 2 failures over 5 calls including the canary itself
	if results[0].ErrorRate != 0.4 {
		t.Fatalf("error rate = %v, want 0.4", results[0].ErrorRate)
	}
	if results[0].LastError != "read timeout" {
		t.Fatalf("last error = %q", results[0].LastError)
	}
}
