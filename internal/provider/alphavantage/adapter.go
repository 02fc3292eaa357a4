// Package alphavantage adapts the Alpha Vantage REST API. The free tier is
// severely quota-bound (5/min, 25/day), so it sits behind Yahoo in priority
// and mostly serves quotes and dividend histories.
package alphavantage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"assetfeed/internal/errs"
	"assetfeed/internal/model"
	"assetfeed/internal/provider"
)

type Config struct {
	Name     string
	APIKey   string
	Priority int
	Endpoint string
}

type Provider struct {
	cfg    Config
	client *Client
}

// New builds the adapter around an existing client so tests can inject a
// mocked HTTP seam.
func New(cfg Config, client *Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "AlphaVantage"
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Describe() provider.Descriptor {
	return provider.Descriptor{
		Name:               p.cfg.Name,
		Priority:           p.cfg.Priority,
		RequiresCredential: true,
		DailyQuota:         25,
	}
}

// symbol formatting: Alpha Vantage wants plain upper-case tickers without
// exchange suffixes.
func (p *Provider) ticker(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (p *Provider) checkKey(symbol string) error {
	if p.cfg.APIKey == "" {
		return errs.New(errs.KindMissingCredential, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol))
	}
	return nil
}

// tag stamps the provider name onto client-level errors.
func (p *Provider) tag(err error) error {
	if e := errs.Classify(err); e.Provider == "" {
		e.Provider = p.cfg.Name
		return e
	}
	return err
}

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	if err := p.checkKey(symbol); err != nil {
		return model.Quote{}, err
	}
	payload, err := p.client.GlobalQuote(ctx, p.ticker(symbol))
	if err != nil {
		return model.Quote{}, p.tag(err)
	}
	gq := payload.GlobalQuote
	if gq.Price == "" {
		return model.Quote{}, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithDetail("empty global quote"))
	}
	price, err := strconv.ParseFloat(gq.Price, 64)
	if err != nil {
		return model.Quote{}, errs.New(errs.KindDecodingError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	asOf := time.Now().UTC()
	if d, err := time.Parse(model.DateLayout, gq.LatestTrading); err == nil {
		asOf = d
	}
	q := model.Quote{Symbol: symbol, Price: price, Source: p.cfg.Name, AsOf: asOf}
	if err := q.Validate(); err != nil {
		return model.Quote{}, errs.New(errs.KindDataQualityError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return q, nil
}

func (p *Provider) FetchSeries(ctx context.Context, symbol string, r model.DateRange) ([]model.PricePoint, error) {
	if err := p.checkKey(symbol); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, errs.New(errs.KindInvalidDateRange, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}

	// compact covers ~100 trading days; older ranges need the full dump
	full := time.Since(r.Start) > 120*24*time.Hour
	payload, err := p.client.DailySeries(ctx, p.ticker(symbol), full)
	if err != nil {
		return nil, p.tag(err)
	}
	if len(payload.Series) == 0 {
		return nil, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol))
	}

	raw := make([]model.PricePoint, 0, len(payload.Series))
	inRange := 0
	for dateStr, bar := range payload.Series {
		day, err := time.Parse(model.DateLayout, dateStr)
		if err != nil {
			continue
		}
		if !r.Contains(day) {
			continue
		}
		inRange++
		pt, err := barToPoint(symbol, p.cfg.Name, day, bar)
		if err != nil {
			continue
		}
		raw = append(raw, pt)
	}

	points, _ := model.CleanPoints(raw)
	if len(points) == 0 {
		if inRange > 0 {
			return nil, errs.New(errs.KindDataQualityError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithDetail("all %d in-range points failed validation", inRange))
		}
		return nil, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol))
	}
	return points, nil
}

func barToPoint(symbol, source string, day time.Time, bar dailyBar) (model.PricePoint, error) {
	open, err := strconv.ParseFloat(bar.Open, 64)
	if err != nil {
		return model.PricePoint{}, err
	}
	high, err := strconv.ParseFloat(bar.High, 64)
	if err != nil {
		return model.PricePoint{}, err
	}
	low, err := strconv.ParseFloat(bar.Low, 64)
	if err != nil {
		return model.PricePoint{}, err
	}
	closep, err := strconv.ParseFloat(bar.Close, 64)
	if err != nil {
		return model.PricePoint{}, err
	}
	vol, _ := strconv.ParseInt(bar.Volume, 10, 64)
	return model.PricePoint{
		Symbol: symbol,
		Date:   model.Day(day),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closep,
		Volume: vol,
		Source: source,
	}, nil
}

func (p *Provider) FetchDistributions(ctx context.Context, symbol string) ([]model.DistributionEvent, error) {
	if err := p.checkKey(symbol); err != nil {
		return nil, err
	}
	payload, err := p.client.Dividends(ctx, p.ticker(symbol))
	if err != nil {
		return nil, p.tag(err)
	}
	events := make([]model.DistributionEvent, 0, len(payload.Data))
	for _, rec := range payload.Data {
		exDate, err := time.Parse(model.DateLayout, rec.ExDividendDate)
		if err != nil {
			continue
		}
		amount, err := strconv.ParseFloat(rec.Amount, 64)
		if err != nil || amount <= 0 {
			continue
		}
		evt := model.DistributionEvent{
			Symbol: symbol,
			ExDate: model.Day(exDate),
			Amount: amount,
			Source: p.cfg.Name,
		}
		if payDate, err := time.Parse(model.DateLayout, rec.PaymentDate); err == nil {
			evt.PayDate = model.Day(payDate)
		}
		events = append(events, evt)
	}
	if len(events) == 0 {
		return nil, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithDetail("no dividend events"))
	}
	return events, nil
}
