// Package nasdaq adapts api.nasdaq.com quote and dividend endpoints.
// The API is keyless but picky: it wants browser-style headers and returns
// prices as "$1,234.56" strings with "N/A" placeholders.
package nasdaq

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"assetfeed/internal/errs"
	"assetfeed/internal/httpx"
	"assetfeed/internal/model"
	"assetfeed/internal/provider"
)

const defaultEndpoint = "https://api.nasdaq.com/api/quote"

type Config struct {
	Name       string
	Endpoint   string
	Priority   int
	AssetClass string // "stocks" unless configured otherwise
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "Nasdaq"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.AssetClass == "" {
		cfg.AssetClass = "stocks"
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

type quotePayload struct {
	Data *struct {
		Symbol      string `json:"symbol"`
		CompanyName string `json:"companyName"`
		PrimaryData struct {
			LastSalePrice string `json:"lastSalePrice"`
			LastTradeDate string `json:"lastTradeTimestamp"`
		} `json:"primaryData"`
	} `json:"data"`
	Status struct {
		RCode            int `json:"rCode"`
		BCodeMessage     any `json:"bCodeMessage"`
		DeveloperMessage any `json:"developerMessage"`
	} `json:"status"`
}

type dividendsPayload struct {
	Data *struct {
		Dividends struct {
			Rows []struct {
				ExOrEffDate string `json:"exOrEffDate"`
				Amount      string `json:"amount"`
				PaymentDate string `json:"paymentDate"`
			} `json:"rows"`
		} `json:"dividends"`
	} `json:"data"`
}

func (p *Provider) get(ctx context.Context, symbol, path string, out any) error {
	u := p.cfg.Endpoint + "/" + url.PathEscape(strings.ToUpper(symbol)) + "/" + path + "?assetclass=" + p.cfg.AssetClass
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errs.New(errs.KindInvalidURL, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	// without these the endpoint hangs or returns 403
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return errs.New(errs.KindNetworkError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2<<10))
		return errs.FromStatus(resp.StatusCode, resp.Header, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.New(errs.KindDecodingError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return nil
}

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	var payload quotePayload
	if err := p.get(ctx, symbol, "info", &payload); err != nil {
		return model.Quote{}, err
	}
	if payload.Data == nil {
		return model.Quote{}, errs.New(errs.KindInvalidSymbol, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithDetail("null data block"))
	}
	price, ok := parseMoney(payload.Data.PrimaryData.LastSalePrice)
	if !ok {
		return model.Quote{}, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithDetail("unparseable price %q", payload.Data.PrimaryData.LastSalePrice))
	}
	q := model.Quote{
		Symbol:      symbol,
		Price:       price,
		DisplayName: payload.Data.CompanyName,
		Source:      p.cfg.Name,
		AsOf:        time.Now().UTC(),
	}
	if err := q.Validate(); err != nil {
		return model.Quote{}, errs.New(errs.KindDataQualityError, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return q, nil
}

func (p *Provider) FetchDistributions(ctx context.Context, symbol string) ([]model.DistributionEvent, error) {
	var payload dividendsPayload
	if err := p.get(ctx, symbol, "dividends", &payload); err != nil {
		return nil, err
	}
	if payload.Data == nil {
		return nil, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol))
	}
	rows := payload.Data.Dividends.Rows
	events := make([]model.DistributionEvent, 0, len(rows))
	for _, row := range rows {
		exDate, ok := parseUSDate(row.ExOrEffDate)
		if !ok {
			continue
		}
		amount, ok := parseMoney(row.Amount)
		if !ok || amount <= 0 {
			continue
		}
		evt := model.DistributionEvent{
			Symbol: symbol,
			ExDate: exDate,
			Amount: amount,
			Source: p.cfg.Name,
		}
		if payDate, ok := parseUSDate(row.PaymentDate); ok {
			evt.PayDate = payDate
		}
		events = append(events, evt)
	}
	if len(events) == 0 {
		return nil, errs.New(errs.KindNoData, errs.WithProvider(p.cfg.Name), errs.WithSymbol(symbol), errs.WithDetail("no dividend rows"))
	}
	return events, nil
}

// parseMoney scrubs "$1,234.56" style strings. "N/A" and empty map to false.
func parseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || strings.EqualFold(s, "N/A") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseUSDate handles the MM/DD/YYYY format the dividend rows use.
func parseUSDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return time.Time{}, false
	}
	t, err := time.Parse("01/02/2006", s)
	if err != nil {
		return time.Time{}, false
	}
	return model.Day(t), true
}
