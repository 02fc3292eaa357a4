// Package yahoo adapts the Yahoo Finance v8 chart API into the canonical
// data model. No credential required; the public endpoint just wants a
// browser-ish user agent.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"assetfeed/internal/errs"
	"assetfeed/internal/httpx"
	"assetfeed/internal/model"
	"assetfeed/internal/provider"
)

const defaultEndpoint = "https://query1.finance.yahoo.com/v8/finance/chart"

type Config struct {
	Name     string
	Endpoint string
	Priority int
	// SymbolMap maps internal symbols to Yahoo tickers (index aliases etc.).
	SymbolMap map[string]string
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "Yahoo"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.SymbolMap == nil {
		cfg.SymbolMap = map[string]string{
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
			"DJI":    "^DJI",
			"NASDAQ": "^IXIC",
		}
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Describe() provider.Descriptor {
	return provider.Descriptor{
		Name:               p.cfg.Name,
		Priority:           p.cfg.Priority,
		RequiresCredential: false,
	}
}

func (p *Provider) ticker(symbol string) string {
	if mapped, ok := p.cfg.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// chartResponse mirrors the subset of the v8 chart payload we consume.
// Price columns are pointers because Yahoo emits nulls on holidays.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				LongName           string  `json:"longName"`
				ShortName          string  `json:"shortName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *Provider) fetchChart(ctx context.Context, symbol string, params url.Values) (*chartResponse, error) {
	u := fmt.Sprintf("%s/%s?%s", p.cfg.Endpoint, url.PathEscape(p.ticker(symbol)), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errs.New(errs.KindInvalidURL, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, errs.New(errs.KindNetworkError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2<<10))
		return nil, errs.FromStatus(resp.StatusCode, resp.Header, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol))
	}

	var chart chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, errs.New(errs.KindDecodingError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return nil, errs.New(errs.KindInvalidSymbol, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithDetail("%s", chart.Chart.Error.Description))
		}
		return nil, errs.New(errs.KindProviderUnavailable, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithDetail("%s", chart.Chart.Error.Description))
	}
	if len(chart.Chart.Result) == 0 {
		return nil, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol))
	}
	return &chart, nil
}

func (p *Provider) FetchSeries(ctx context.Context, symbol string, r model.DateRange) ([]model.PricePoint, error) {
	if err := r.Validate(); err != nil {
		return nil, errs.New(errs.KindInvalidDateRange, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", fmt.Sprint(r.Start.Unix()))
	// period2 is exclusive; extend a day so the end date is included
	params.Set("period2", fmt.Sprint(r.End.AddDate(0, 0, 1).Unix()))

	chart, err := p.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	result := chart.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol))
	}
	quote := result.Indicators.Quote[0]

	raw := make([]model.PricePoint, 0, len(result.Timestamp))
	total := 0
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			break
		}
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			continue // null bars on holidays
		}
		total++
		var vol int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		day := model.Day(time.Unix(ts, 0))
		if !r.Contains(day) {
			continue
		}
		raw = append(raw, model.PricePoint{
			Symbol: symbol,
			Date:   day,
			Open:   *quote.Open[i],
			High:   *quote.High[i],
			Low:    *quote.Low[i],
			Close:  *quote.Close[i],
			Volume: vol,
			Source: p.cfg.Name,
		})
	}

	points, dropped := model.CleanPoints(raw)
	if len(points) == 0 {
		if total > 0 && dropped == len(raw) && dropped > 0 {
			return nil, errs.New(errs.KindDataQualityError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithDetail("all %d points failed validation", dropped))
		}
		return nil, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol))
	}
	return points, nil
}

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")

	chart, err := p.fetchChart(ctx, symbol, params)
	if err != nil {
		return model.Quote{}, err
	}
	meta := chart.Chart.Result[0].Meta

	name := meta.LongName
	if name == "" {
		name = meta.ShortName
	}
	asOf := time.Now().UTC()
	if meta.RegularMarketTime > 0 {
		asOf = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	q := model.Quote{
		Symbol:      symbol,
		Price:       meta.RegularMarketPrice,
		DisplayName: name,
		Source:      p.cfg.Name,
		AsOf:        asOf,
	}
	if err := q.Validate(); err != nil {
		return model.Quote{}, errs.New(errs.KindDataQualityError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return q, nil
}
