// Command fetch is a one-shot CLI: it resolves a series, quote or
// distribution for a single symbol through the full fetch pipeline and
// prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"assetfeed/internal/cache"
	"assetfeed/internal/config"
	"assetfeed/internal/health"
	"assetfeed/internal/httpx"
	"assetfeed/internal/logging"
	"assetfeed/internal/model"
	"assetfeed/internal/orchestrator"
	"assetfeed/internal/provider"
	"assetfeed/internal/provider/alphavantage"
	"assetfeed/internal/provider/nasdaq"
	"assetfeed/internal/provider/ratelimit"
	"assetfeed/internal/provider/yahoo"
	"assetfeed/internal/store"
)

func main() {
	var (
		cfgPath = flag.String("config", os.Getenv("CONFIG_FILE"), "path to config.yaml")
		symbol  = flag.String("symbol", "", "ticker symbol (required)")
		start   = flag.String("start", "", "range start YYYY-MM-DD (default one year ago)")
		end     = flag.String("end", "", "range end YYYY-MM-DD (default today)")
		quote   = flag.Bool("quote", false, "fetch the latest quote instead of a series")
		dist    = flag.Bool("dist", false, "fetch the distribution summary instead of a series")
		refresh = flag.Bool("refresh", false, "bypass fresh cache")
	)
	flag.Parse()
	if *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	st, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	httpClient := httpx.New(timeout)

	mem := cache.NewMemory(cfg.Cache.MaxMemoryMB<<20,
		time.Duration(cfg.Cache.FreshTTLSec)*time.Second,
		time.Duration(cfg.Cache.StaleHorizonSec)*time.Second)
	var disk *cache.Disk
	if cfg.Cache.EnableDisk {
		disk, err = cache.NewDisk(cfg.Cache.DiskDir,
			time.Duration(cfg.Cache.DiskTTLSec)*time.Second,
			time.Duration(cfg.Cache.StaleHorizonSec)*time.Second)
		if err != nil {
			logger.Warn("disk cache disabled", logging.F("error", err.Error()))
		}
	}
	series := cache.NewTiered(mem, disk, st, logger)
	quotes := cache.NewQuotes(time.Duration(cfg.Cache.QuoteTTLSec) * time.Second)

	providers := buildProviders(cfg, httpClient)
	if len(providers) == 0 {
		log.Fatal("no providers enabled")
	}

	orch := orchestrator.New(providers, series, quotes, st, orchestrator.Options{
		MaxAttempts:      cfg.Fetch.MaxAttempts,
		Backoff:          time.Duration(cfg.Fetch.BackoffMillis) * time.Millisecond,
		CallTimeout:      timeout,
		BatchConcurrency: int64(cfg.Fetch.BatchConcurrency),
		Observer:         health.NewCollector(),
		Log:              logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var out any
	switch {
	case *quote:
		out, err = orch.FetchQuote(ctx, *symbol)
	case *dist:
		out, err = orch.FetchDistribution(ctx, *symbol)
	default:
		var dr model.DateRange
		dr, err = resolveRange(*start, *end)
		if err == nil {
			out, err = orch.FetchSeries(ctx, orchestrator.SeriesRequest{
				Symbol: *symbol, Range: dr, ForceRefresh: *refresh,
			})
		}
	}
	if err != nil {
		log.Fatalf("fetch: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

func resolveRange(start, end string) (model.DateRange, error) {
	now := time.Now().UTC()
	s := now.AddDate(-1, 0, 0)
	e := now
	var err error
	if start != "" {
		if s, err = time.Parse(model.DateLayout, start); err != nil {
			return model.DateRange{}, fmt.Errorf("parse -start: %w", err)
		}
	}
	if end != "" {
		if e, err = time.Parse(model.DateLayout, end); err != nil {
			return model.DateRange{}, fmt.Errorf("parse -end: %w", err)
		}
	}
	return model.NewDateRange(s, e), nil
}

func buildProviders(cfg config.Config, hc *httpx.Client) []provider.Registered {
	var providers []provider.Registered
	limits := func(l config.Limits) *ratelimit.Limiter {
		return ratelimit.New(ratelimit.Config{
			PerSecond: l.PerSecond, PerMinute: l.PerMinute, PerHour: l.PerHour, PerDay: l.PerDay,
		})
	}
	if cfg.Yahoo.Enabled {
		providers = append(providers, provider.Registered{
			Provider: yahoo.New(yahoo.Config{Endpoint: cfg.Yahoo.Endpoint, Priority: cfg.Yahoo.Priority}, hc),
			Limiter:  limits(cfg.Yahoo.Limits),
		})
	}
	if cfg.AlphaVantage.Enabled {
		opts := []alphavantage.ClientOption{alphavantage.WithHTTPClient(hc.HTTP)}
		if cfg.AlphaVantage.Endpoint != "" {
			opts = append(opts, alphavantage.WithBaseURL(cfg.AlphaVantage.Endpoint))
		}
		client := alphavantage.NewClient(cfg.AlphaVantage.APIKey, opts...)
		providers = append(providers, provider.Registered{
			Provider: alphavantage.New(alphavantage.Config{
				APIKey:   cfg.AlphaVantage.APIKey,
				Priority: cfg.AlphaVantage.Priority,
			}, client),
			Limiter: limits(cfg.AlphaVantage.Limits),
		})
	}
	if cfg.Nasdaq.Enabled {
		providers = append(providers, provider.Registered{
			Provider: nasdaq.New(nasdaq.Config{Endpoint: cfg.Nasdaq.Endpoint, Priority: cfg.Nasdaq.Priority}, hc),
			Limiter:  limits(cfg.Nasdaq.Limits),
		})
	}
	return providers
}
