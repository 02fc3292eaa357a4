// Package orchestrator implements the fetch state machine: tiered cache
// check, provider loop in priority order gated by per-provider rate
// limiters, bounded same-provider retries, single-flight deduplication of
// identical in-flight requests, and stale-cache fallback when every
// provider fails.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"assetfeed/internal/cache"
	"assetfeed/internal/errs"
	"assetfeed/internal/logging"
	"assetfeed/internal/model"
	"assetfeed/internal/provider"
	"assetfeed/internal/store"
)

// Observer receives the outcome of every provider call. Implementations
// must be cheap and must never influence routing decisions.
type Observer interface {
	ObserveCall(providerName, kind string, latency time.Duration, err error)
}

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	// MaxAttempts is the total tries against one provider for retryable
	// failures before advancing to the next provider.
	MaxAttempts int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
	// CallTimeout bounds each individual provider call.
	CallTimeout time.Duration
	// BatchConcurrency bounds concurrent per-symbol fetches in FetchBatch.
	// Zero sizes the gate to the most restrictive per-second cap across the
	// registered providers, so one batch cannot burn a second window alone.
	BatchConcurrency int64
	Observer         Observer
	Log              *logging.Logger
}

type Orchestrator struct {
	providers []provider.Registered // ascending priority
	series    *cache.Tiered
	quotes    *cache.Quotes
	st        store.Store // may be nil; used for distribution/quote fallback

	flight singleflight.Group
	sem    *semaphore.Weighted

	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
	observer    Observer
	log         *logging.Logger
	sleep       func(time.Duration)
}

// New builds an orchestrator over the given providers. The provider list is
// copied and sorted by ascending priority; all collaborators are injected
// so tests can substitute fakes.
func New(providers []provider.Registered, series *cache.Tiered, quotes *cache.Quotes, st store.Store, opts Options) *Orchestrator {
	sorted := make([]provider.Registered, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Provider.Describe().Priority < sorted[j].Provider.Describe().Priority
	})

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 20 * time.Second
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = defaultBatchConcurrency(sorted)
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	return &Orchestrator{
		providers:   sorted,
		series:      series,
		quotes:      quotes,
		st:          st,
		sem:         semaphore.NewWeighted(opts.BatchConcurrency),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		callTimeout: opts.CallTimeout,
		observer:    opts.Observer,
		log:         opts.Log,
		sleep:       time.Sleep,
	}
}

// defaultBatchConcurrency is the tightest per-second cap across the
// providers; 4 when none of them limits per-second.
func defaultBatchConcurrency(providers []provider.Registered) int64 {
	tightest := 0
	for _, reg := range providers {
		if ps := reg.Limiter.Limits().PerSecond; ps > 0 && (tightest == 0 || ps < tightest) {
			tightest = ps
		}
	}
	if tightest == 0 {
		return 4
	}
	return int64(tightest)
}

// Providers exposes the registered provider list (read-only) for
// diagnostics endpoints.
func (o *Orchestrator) Providers() []provider.Registered { return o.providers }

func (o *Orchestrator) observe(name, kind string, latency time.Duration, err error) {
	if o.observer != nil {
		o.observer.ObserveCall(name, kind, latency, err)
	}
}

// SeriesRequest identifies one logical series fetch.
type SeriesRequest struct {
	Symbol string
	Range  model.DateRange
	// ForceRefresh bypasses the fresh-cache read but still writes through.
	ForceRefresh bool
}

// SeriesResult is the caller-facing outcome. Stale marks degraded data
// served from an expired cache entry after total provider failure.
type SeriesResult struct {
	Points   []model.PricePoint `json:"points"`
	Stale    bool               `json:"stale"`
	Provider string             `json:"provider,omitempty"` // empty on cache hits
	Tier     string             `json:"tier,omitempty"`     // cache tier that answered, empty on network fetch
}

// FetchSeries resolves one series request. Concurrent identical requests
// share a single upstream call; a canceling waiter detaches without
// aborting the shared call, which is bounded by its own per-call timeouts.
func (o *Orchestrator) FetchSeries(ctx context.Context, req SeriesRequest) (*SeriesResult, error) {
	if req.Symbol == "" {
		return nil, errs.New(errs.KindInvalidSymbol, errs.WithDetail("empty symbol"))
	}
	if err := req.Range.Validate(); err != nil {
		return nil, errs.New(errs.KindInvalidDateRange, errs.WithSymbol(req.Symbol), errs.WithCause(err))
	}
	req.Range = model.NewDateRange(req.Range.Start, req.Range.End)

	if !req.ForceRefresh {
		if res, ok := o.series.Get(ctx, req.Symbol, req.Range); ok {
			return &SeriesResult{Points: res.Points, Stale: res.Stale, Tier: res.Tier}, nil
		}
	}

	key := "series:" + req.Range.Key(req.Symbol)
	ch := o.flight.DoChan(key, func() (any, error) {
		return o.fetchSeriesUpstream(req.Symbol, req.Range)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SeriesResult), nil
	}
}

// action is the orchestrator's move after classifying a provider failure.
type action int

const (
	actionRetry action = iota
	actionNextProvider
	actionStale
	actionSurface
)

func nextAction(err error) action {
	switch errs.Classify(err).Recovery {
	case errs.RecoveryRetry:
		return actionRetry
	case errs.RecoveryUseStaleCache:
		return actionStale
	case errs.RecoveryNone, errs.RecoveryRequireUserConfig:
		return actionSurface
	default:
		return actionNextProvider
	}
}

// fetchSeriesUpstream runs the provider loop. It executes detached from any
// single caller's context: every provider call carries its own timeout, so
// the shared flight completes on its own terms.
func (o *Orchestrator) fetchSeriesUpstream(symbol string, r model.DateRange) (*SeriesResult, error) {
	var lastErr error
	sawCapable := false
	allBlocked := true
	var minWait time.Duration

	for _, reg := range o.providers {
		sp, ok := reg.Provider.(provider.SeriesFetcher)
		if !ok {
			continue
		}
		sawCapable = true
		name := reg.Provider.Describe().Name

		outcome, points, err := o.callProvider(reg, name, "series", func(ctx context.Context) (any, error) {
			return sp.FetchSeries(ctx, symbol, r)
		})
		switch outcome {
		case callBlocked:
			if w := reg.Limiter.TimeUntilNext(); minWait == 0 || w < minWait {
				minWait = w
			}
			o.log.Debug("provider quota-blocked", logging.F("provider", name), logging.F("symbol", symbol))
			continue
		case callSucceeded:
			allBlocked = false
			pts := points.([]model.PricePoint)
			storeCtx, cancel := context.WithTimeout(context.Background(), o.callTimeout)
			if err := o.series.Set(storeCtx, symbol, r, pts); err != nil {
				o.log.Warn("write-through failed", logging.F("symbol", symbol), logging.F("error", err.Error()))
			}
			cancel()
			return &SeriesResult{Points: pts, Provider: name}, nil
		default:
			allBlocked = false
			lastErr = err
			switch nextAction(err) {
			case actionSurface:
				return nil, err
			case actionStale:
				return o.seriesStaleFallback(symbol, r, err)
			}
			// fallthrough: advance to the next provider
		}
	}

	if !sawCapable {
		return nil, errs.New(errs.KindProviderUnavailable, errs.WithSymbol(symbol), errs.WithDetail("no provider supports series"))
	}
	if allBlocked {
		return nil, errs.New(errs.KindRateLimitExceeded, errs.WithSymbol(symbol),
			errs.WithRetryAfter(minWait), errs.WithDetail("all providers quota-blocked"))
	}
	return o.seriesStaleFallback(symbol, r, lastErr)
}

// seriesStaleFallback serves whatever expired data remains, flagged
// degraded; failing that it surfaces the last provider error.
func (o *Orchestrator) seriesStaleFallback(symbol string, r model.DateRange, cause error) (*SeriesResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.callTimeout)
	defer cancel()
	if res, ok := o.series.GetStale(ctx, symbol, r); ok {
		o.log.Warn("serving stale series after provider failure",
			logging.F("symbol", symbol), logging.F("tier", res.Tier))
		return &SeriesResult{Points: res.Points, Stale: true, Tier: res.Tier}, nil
	}
	return nil, cause
}

type callOutcome int

const (
	callBlocked callOutcome = iota
	callSucceeded
	callFailed
)

// callProvider runs one provider call with quota reservation and bounded
// same-provider retries. Every attempt, including retries, reserves quota;
// losing the budget mid-retry abandons the provider. Locks are never held
// across the call itself; the limiter serializes only its own update step.
func (o *Orchestrator) callProvider(reg provider.Registered, name, kind string, call func(ctx context.Context) (any, error)) (callOutcome, any, error) {
	if !reg.Limiter.Reserve() {
		return callBlocked, nil, nil
	}
	var lastErr error
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		if attempt > 0 {
			o.sleep(o.backoff << (attempt - 1))
			if !reg.Limiter.Reserve() {
				break
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), o.callTimeout)
		start := time.Now()
		val, err := call(ctx)
		cancel()
		o.observe(name, kind, time.Since(start), err)
		if err == nil {
			return callSucceeded, val, nil
		}
		lastErr = err
		if nextAction(err) != actionRetry {
			break
		}
	}
	return callFailed, nil, lastErr
}

// QuoteResult is the caller-facing quote outcome.
type QuoteResult struct {
	Quote model.Quote `json:"quote"`
	Stale bool        `json:"stale"`
	Tier  string      `json:"tier,omitempty"`
}

// FetchQuote resolves the latest price for a symbol, caching briefly in
// memory. Identical concurrent requests share one upstream call.
func (o *Orchestrator) FetchQuote(ctx context.Context, symbol string) (*QuoteResult, error) {
	if symbol == "" {
		return nil, errs.New(errs.KindInvalidSymbol, errs.WithDetail("empty symbol"))
	}
	if q, ok := o.quotes.Get(symbol); ok {
		return &QuoteResult{Quote: q, Tier: "memory"}, nil
	}
	ch := o.flight.DoChan("quote:"+symbol, func() (any, error) {
		return o.fetchQuoteUpstream(symbol)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*QuoteResult), nil
	}
}

func (o *Orchestrator) fetchQuoteUpstream(symbol string) (*QuoteResult, error) {
	var lastErr error
	sawCapable := false
	allBlocked := true
	var minWait time.Duration

	for _, reg := range o.providers {
		qp, ok := reg.Provider.(provider.QuoteFetcher)
		if !ok {
			continue
		}
		sawCapable = true
		name := reg.Provider.Describe().Name

		outcome, val, err := o.callProvider(reg, name, "quote", func(ctx context.Context) (any, error) {
			return qp.FetchQuote(ctx, symbol)
		})
		switch outcome {
		case callBlocked:
			if w := reg.Limiter.TimeUntilNext(); minWait == 0 || w < minWait {
				minWait = w
			}
			continue
		case callSucceeded:
			q := val.(model.Quote)
			o.quotes.Set(q)
			return &QuoteResult{Quote: q}, nil
		default:
			allBlocked = false
			lastErr = err
			switch nextAction(err) {
			case actionSurface:
				return nil, err
			case actionStale:
				return o.quoteStaleFallback(symbol, err)
			}
		}
	}

	if !sawCapable {
		return nil, errs.New(errs.KindProviderUnavailable, errs.WithSymbol(symbol), errs.WithDetail("no provider supports quotes"))
	}
	if allBlocked {
		return nil, errs.New(errs.KindRateLimitExceeded, errs.WithSymbol(symbol),
			errs.WithRetryAfter(minWait), errs.WithDetail("all providers quota-blocked"))
	}
	return o.quoteStaleFallback(symbol, lastErr)
}

// quoteStaleFallback serves the last known quote, or synthesizes one from
// the newest persisted close when the quote cache is empty too.
func (o *Orchestrator) quoteStaleFallback(symbol string, cause error) (*QuoteResult, error) {
	if q, ok := o.quotes.GetStale(symbol); ok {
		o.log.Warn("serving stale quote after provider failure", logging.F("symbol", symbol))
		return &QuoteResult{Quote: q, Stale: true, Tier: "memory"}, nil
	}
	if o.st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.callTimeout)
		defer cancel()
		if p, err := o.st.LatestPoint(ctx, symbol); err == nil && p != nil {
			o.log.Warn("serving stored close as stale quote", logging.F("symbol", symbol))
			return &QuoteResult{
				Quote: model.Quote{Symbol: symbol, Price: p.Close, Source: p.Source, AsOf: p.Date},
				Stale: true,
				Tier:  "store",
			}, nil
		}
	}
	return nil, cause
}

// DistributionResult is the caller-facing distribution outcome. The summary
// is always recomputed from raw events; only the events are durable.
type DistributionResult struct {
	Info     model.DistributionInfo    `json:"info"`
	Events   []model.DistributionEvent `json:"events"`
	Stale    bool                      `json:"stale"`
	Provider string                    `json:"provider,omitempty"`
}

// FetchDistribution resolves the dividend summary for a symbol.
func (o *Orchestrator) FetchDistribution(ctx context.Context, symbol string) (*DistributionResult, error) {
	if symbol == "" {
		return nil, errs.New(errs.KindInvalidSymbol, errs.WithDetail("empty symbol"))
	}
	ch := o.flight.DoChan("dist:"+symbol, func() (any, error) {
		return o.fetchDistributionUpstream(symbol)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DistributionResult), nil
	}
}

func (o *Orchestrator) fetchDistributionUpstream(symbol string) (*DistributionResult, error) {
	var lastErr error
	sawCapable := false
	allBlocked := true
	var minWait time.Duration

	for _, reg := range o.providers {
		dp, ok := reg.Provider.(provider.DistributionFetcher)
		if !ok {
			continue
		}
		sawCapable = true
		name := reg.Provider.Describe().Name

		outcome, val, err := o.callProvider(reg, name, "distribution", func(ctx context.Context) (any, error) {
			return dp.FetchDistributions(ctx, symbol)
		})
		switch outcome {
		case callBlocked:
			if w := reg.Limiter.TimeUntilNext(); minWait == 0 || w < minWait {
				minWait = w
			}
			continue
		case callSucceeded:
			events := val.([]model.DistributionEvent)
			if o.st != nil {
				storeCtx, cancel := context.WithTimeout(context.Background(), o.callTimeout)
				if err := o.st.PersistDistributions(storeCtx, symbol, events); err != nil {
					o.log.Warn("distribution persist failed", logging.F("symbol", symbol), logging.F("error", err.Error()))
				}
				cancel()
			}
			return &DistributionResult{
				Info:     model.SummarizeDistributions(symbol, events, o.lastKnownPrice(symbol)),
				Events:   events,
				Provider: name,
			}, nil
		default:
			allBlocked = false
			lastErr = err
			switch nextAction(err) {
			case actionSurface:
				return nil, err
			case actionStale:
				return o.distributionStaleFallback(symbol, err)
			}
		}
	}

	if !sawCapable {
		return nil, errs.New(errs.KindProviderUnavailable, errs.WithSymbol(symbol), errs.WithDetail("no provider supports distributions"))
	}
	if allBlocked {
		return nil, errs.New(errs.KindRateLimitExceeded, errs.WithSymbol(symbol),
			errs.WithRetryAfter(minWait), errs.WithDetail("all providers quota-blocked"))
	}
	return o.distributionStaleFallback(symbol, lastErr)
}

func (o *Orchestrator) distributionStaleFallback(symbol string, cause error) (*DistributionResult, error) {
	if o.st == nil {
		return nil, cause
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.callTimeout)
	defer cancel()
	events, err := o.st.QueryDistributions(ctx, symbol)
	if err != nil || len(events) == 0 {
		return nil, cause
	}
	o.log.Warn("serving stored distributions after provider failure", logging.F("symbol", symbol))
	return &DistributionResult{
		Info:   model.SummarizeDistributions(symbol, events, o.lastKnownPrice(symbol)),
		Events: events,
		Stale:  true,
	}, nil
}

// lastKnownPrice feeds the yield computation without spending quota:
// cached quote if present, stale quote otherwise, zero when unknown.
func (o *Orchestrator) lastKnownPrice(symbol string) float64 {
	if q, ok := o.quotes.Get(symbol); ok {
		return q.Price
	}
	if q, ok := o.quotes.GetStale(symbol); ok {
		return q.Price
	}
	return 0
}

// Invalidate drops all cached data for a symbol across tiers.
func (o *Orchestrator) Invalidate(symbol string) {
	o.series.Invalidate(symbol)
	o.quotes.Invalidate(symbol)
}

// BatchOutcome reports one symbol's result inside a batch fetch.
type BatchOutcome struct {
	Result *SeriesResult
	Err    error
}

// FetchBatch fans out one logical series fetch per unique symbol under the
// concurrency gate. Results are keyed by symbol and complete in any order;
// a failing symbol never fails the batch.
func (o *Orchestrator) FetchBatch(ctx context.Context, symbols []string, r model.DateRange) map[string]BatchOutcome {
	out := make(map[string]BatchOutcome, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup

	seen := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}

		if err := o.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			out[symbol] = BatchOutcome{Err: err}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer o.sem.Release(1)
			res, err := o.FetchSeries(ctx, SeriesRequest{Symbol: symbol, Range: r})
			mu.Lock()
			out[symbol] = BatchOutcome{Result: res, Err: err}
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return out
}
