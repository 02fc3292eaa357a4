package alphavantage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"assetfeed/internal/errs"
)

const defaultBaseURL = "https://www.alphavantage.co/query"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a minimal Alpha Vantage API client. The free tier allows
// 5 requests per minute and 25 per day; quota enforcement lives with the
// caller's rate limiter, not here.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	apiKey     string
}

// ClientOption is a configuration option for the client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL (tests, proxies).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient creates an Alpha Vantage API client. The key is required by the
// upstream API; an empty key is allowed here so the adapter can surface a
// missing-credential error at call time instead of at wiring time.
func NewClient(apiKey string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		apiKey:     apiKey,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// globalQuotePayload is the GLOBAL_QUOTE wire shape. Field names carry the
// upstream's numeric prefixes verbatim.
type globalQuotePayload struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		LatestTrading string `json:"07. latest trading day"`
	} `json:"Global Quote"`
}

type dailyBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

type dailySeriesPayload struct {
	Series map[string]dailyBar `json:"Time Series (Daily)"`
}

type dividendRecord struct {
	ExDividendDate string `json:"ex_dividend_date"`
	PaymentDate    string `json:"payment_date"`
	Amount         string `json:"amount"`
}

type dividendsPayload struct {
	Symbol string           `json:"symbol"`
	Data   []dividendRecord `json:"data"`
}

// throttleProbe catches the 200-status throttle/error bodies Alpha Vantage
// returns instead of real HTTP error codes.
type throttleProbe struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (c *Client) get(ctx context.Context, function, symbol string, extra url.Values, out any) error {
	params := url.Values{}
	params.Set("function", function)
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return errs.New(errs.KindInvalidURL, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.New(errs.KindNetworkError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2<<10))
		return errs.FromStatus(resp.StatusCode, resp.Header, errs.WithSymbol(symbol))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return errs.New(errs.KindNetworkError, errs.WithSymbol(symbol), errs.WithCause(err))
	}

	// throttle and auth failures come back as 200s with a message body
	var probe throttleProbe
	if err := json.Unmarshal(body, &probe); err == nil {
		if probe.Note != "" || probe.Information != "" {
			detail := probe.Note
			if detail == "" {
				detail = probe.Information
			}
			return errs.New(errs.KindRateLimitExceeded, errs.WithSymbol(symbol), errs.WithDetail("%s", detail))
		}
		if probe.ErrorMessage != "" {
			return errs.New(errs.KindInvalidSymbol, errs.WithSymbol(symbol), errs.WithDetail("%s", probe.ErrorMessage))
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errs.New(errs.KindDecodingError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return nil
}

// GlobalQuote fetches the GLOBAL_QUOTE endpoint for one symbol.
func (c *Client) GlobalQuote(ctx context.Context, symbol string) (*globalQuotePayload, error) {
	var out globalQuotePayload
	if err := c.get(ctx, "GLOBAL_QUOTE", symbol, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DailySeries fetches TIME_SERIES_DAILY. full=true requests the entire
// history (outputsize=full) instead of the latest ~100 trading days.
func (c *Client) DailySeries(ctx context.Context, symbol string, full bool) (*dailySeriesPayload, error) {
	extra := url.Values{}
	if full {
		extra.Set("outputsize", "full")
	} else {
		extra.Set("outputsize", "compact")
	}
	var out dailySeriesPayload
	if err := c.get(ctx, "TIME_SERIES_DAILY", symbol, extra, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Dividends fetches the DIVIDENDS endpoint (raw distribution events).
func (c *Client) Dividends(ctx context.Context, symbol string) (*dividendsPayload, error) {
	var out dividendsPayload
	if err := c.get(ctx, "DIVIDENDS", symbol, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

