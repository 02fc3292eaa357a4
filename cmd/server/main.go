package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"assetfeed/internal/cache"
	"assetfeed/internal/config"
	"assetfeed/internal/errs"
	"assetfeed/internal/health"
	"assetfeed/internal/httpx"
	"assetfeed/internal/janitor"
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
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	if cfg.AlphaVantage.Enabled && cfg.AlphaVantage.APIKey == "" {
		logger.Warn("alphavantage.enabled=true but ALPHAVANTAGE_API_KEY not set")
	}

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

	collector := health.NewCollector()
	orch := orchestrator.New(providers, series, quotes, st, orchestrator.Options{
		MaxAttempts:      cfg.Fetch.MaxAttempts,
		Backoff:          time.Duration(cfg.Fetch.BackoffMillis) * time.Millisecond,
		CallTimeout:      timeout,
		BatchConcurrency: int64(cfg.Fetch.BatchConcurrency),
		Observer:         collector,
		Log:              logger,
	})

	jan := janitor.New(series, st, logger, janitor.Options{RetentionDays: cfg.Store.RetentionDays})
	if err := jan.Start(); err != nil {
		log.Fatalf("janitor: %v", err)
	}
	defer jan.Stop()

	srv := &server{orch: orch, collector: collector, st: st, log: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/history", srv.handleHistory)
	mux.HandleFunc("/api/history/batch", srv.handleBatch)
	mux.HandleFunc("/api/quote", srv.handleQuote)
	mux.HandleFunc("/api/distribution", srv.handleDistribution)
	mux.HandleFunc("/api/providers", srv.handleProviders)
	mux.HandleFunc("/api/providers/probe", srv.handleProbe)
	mux.HandleFunc("/api/storage", srv.handleStorage)
	mux.HandleFunc("/api/invalidate", srv.handleInvalidate)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      timeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", logging.F("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
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

type server struct {
	orch      *orchestrator.Orchestrator
	collector *health.Collector
	st        store.Store
	log       *logging.Logger
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	dr, ok := parseRange(w, r)
	if !ok {
		return
	}
	res, err := s.orch.FetchSeries(r.Context(), orchestrator.SeriesRequest{
		Symbol:       symbol,
		Range:        dr,
		ForceRefresh: r.URL.Query().Get("refresh") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

type batchRequest struct {
	Symbols []string `json:"symbols"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
}

type batchEntry struct {
	Result *orchestrator.SeriesResult `json:"result,omitempty"`
	Error  string                     `json:"error,omitempty"`
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body batchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(body.Symbols) == 0 {
		http.Error(w, "symbols cannot be empty", http.StatusBadRequest)
		return
	}
	if len(body.Symbols) > 100 {
		http.Error(w, "too many symbols (max 100)", http.StatusBadRequest)
		return
	}
	dr, err := rangeFrom(body.Start, body.End)
	if err != nil {
		writeError(w, err)
		return
	}
	for i, sym := range body.Symbols {
		body.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	outcomes := s.orch.FetchBatch(r.Context(), body.Symbols, dr)
	resp := make(map[string]batchEntry, len(outcomes))
	for sym, o := range outcomes {
		e := batchEntry{Result: o.Result}
		if o.Err != nil {
			e.Error = o.Err.Error()
		}
		resp[sym] = e
	}
	writeJSON(w, map[string]any{"results": resp})
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	res, err := s.orch.FetchQuote(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	res, err := s.orch.FetchDistribution(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"providers": s.collector.Report(s.orch.Providers())})
}

// handleProbe fires live canary quotes. Spends provider quota, so it is a
// separate endpoint rather than part of /api/providers.
func (s *server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		symbol = "AAPL"
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	writeJSON(w, map[string]any{"probes": s.collector.Probe(ctx, s.orch.Providers(), symbol)})
}

func (s *server) handleStorage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.st.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		http.Error(w, "missing symbol query param", http.StatusBadRequest)
		return
	}
	s.orch.Invalidate(symbol)
	writeJSON(w, map[string]string{"invalidated": symbol})
}

// parseRange reads start/end query params, defaulting to the trailing year.
func parseRange(w http.ResponseWriter, r *http.Request) (model.DateRange, bool) {
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	if start == "" && end == "" {
		now := time.Now().UTC()
		return model.NewDateRange(now.AddDate(-1, 0, 0), now), true
	}
	dr, err := rangeFrom(start, end)
	if err != nil {
		writeError(w, err)
		return model.DateRange{}, false
	}
	return dr, true
}

func rangeFrom(start, end string) (model.DateRange, error) {
	s, err := time.Parse(model.DateLayout, start)
	if err != nil {
		return model.DateRange{}, errs.New(errs.KindInvalidDateRange,
			errs.WithDetail("start must be YYYY-MM-DD"), errs.WithCause(err))
	}
	e, err := time.Parse(model.DateLayout, end)
	if err != nil {
		return model.DateRange{}, errs.New(errs.KindInvalidDateRange,
			errs.WithDetail("end must be YYYY-MM-DD"), errs.WithCause(err))
	}
	return model.NewDateRange(s, e), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	Category   string `json:"category"`
	Severity   string `json:"severity"`
	Recovery   string `json:"recovery"`
	Provider   string `json:"provider,omitempty"`
	RetryAfter int64  `json:"retry_after_sec,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	e := errs.Classify(err)
	status := httpStatus(e)
	if e.Kind == errs.KindRateLimitExceeded && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(e.RetryAfter.Seconds())+1, 10))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:      e.Error(),
		Kind:       string(e.Kind),
		Category:   string(e.Category),
		Severity:   string(e.Severity),
		Recovery:   string(e.Recovery),
		Provider:   e.Provider,
		RetryAfter: int64(e.RetryAfter.Seconds()),
	})
}

func httpStatus(e *errs.Error) int {
	switch e.Kind {
	case errs.KindInvalidSymbol, errs.KindInvalidDateRange:
		return http.StatusBadRequest
	case errs.KindNoData:
		return http.StatusNotFound
	case errs.KindRateLimitExceeded, errs.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case errs.KindMissingCredential, errs.KindInvalidURL:
		return http.StatusServiceUnavailable
	case errs.KindProviderUnavailable, errs.KindNetworkError,
		errs.KindDecodingError, errs.KindDataQualityError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses the response when the client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
		next.ServeHTTP(gw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
