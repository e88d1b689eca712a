// Package marketdata is a thin client for the exchange's public market API.
// Only the read-only endpoints the recurring jobs need are covered; trading
// and account surfaces are out of scope.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

const DefaultBaseURL = "https://api.bybit.com"

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// WithProxy routes all exchange traffic through the given forward proxy.
// Applies to the client in effect when the option runs, so order it after
// WithHTTPClient.
func WithProxy(proxy *url.URL) Option {
	return func(c *Client) {
		c.http.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ticker is one spot symbol's 24h summary.
type Ticker struct {
	Symbol      string
	LastPrice   float64
	High24h     float64
	Low24h      float64
	Volume24h   float64
	Turnover24h float64
}

// Kline is one candle, oldest-first once returned from Klines.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
}

// Announcement is one exchange news item.
type Announcement struct {
	Title       string
	Description string
	Type        string
	URL         string
	PublishedAt time.Time
}

// TopSymbolsByTurnover returns the n spot tickers with the highest 24h
// turnover, descending. The jobs use this list to bound each sweep to the
// liquid end of the market.
func (c *Client) TopSymbolsByTurnover(ctx context.Context, n int) ([]Ticker, error) {
	query := url.Values{"category": {"spot"}}

	var payload struct {
		List []struct {
			Symbol      string `json:"symbol"`
			LastPrice   string `json:"lastPrice"`
			HighPrice   string `json:"highPrice24h"`
			LowPrice    string `json:"lowPrice24h"`
			Volume24h   string `json:"volume24h"`
			Turnover24h string `json:"turnover24h"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/tickers", query, &payload); err != nil {
		return nil, fmt.Errorf("fetching spot tickers: %w", err)
	}

	tickers := make([]Ticker, 0, len(payload.List))
	for _, item := range payload.List {
		tickers = append(tickers, Ticker{
			Symbol:      item.Symbol,
			LastPrice:   parseFloat(item.LastPrice),
			High24h:     parseFloat(item.HighPrice),
			Low24h:      parseFloat(item.LowPrice),
			Volume24h:   parseFloat(item.Volume24h),
			Turnover24h: parseFloat(item.Turnover24h),
		})
	}
	sort.Slice(tickers, func(i, j int) bool {
		return tickers[i].Turnover24h > tickers[j].Turnover24h
	})
	if n > 0 && len(tickers) > n {
		tickers = tickers[:n]
	}
	return tickers, nil
}

// Klines returns up to limit candles for the symbol, oldest first. interval
// follows the exchange's notation ("D" daily, "60" hourly, ...).
func (c *Client) Klines(ctx context.Context, symbol string, interval string, limit int) ([]Kline, error) {
	query := url.Values{
		"category": {"spot"},
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}

	var payload struct {
		List [][]string `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/kline", query, &payload); err != nil {
		return nil, fmt.Errorf("fetching klines for %s: %w", symbol, err)
	}

	klines := make([]Kline, 0, len(payload.List))
	for _, row := range payload.List {
		if len(row) < 7 {
			continue
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		klines = append(klines, Kline{
			OpenTime: time.UnixMilli(ms).UTC(),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
			Turnover: parseFloat(row[6]),
		})
	}
	// The exchange returns newest first.
	sort.Slice(klines, func(i, j int) bool {
		return klines[i].OpenTime.Before(klines[j].OpenTime)
	})
	return klines, nil
}

// Announcements returns the latest exchange announcements, newest first.
func (c *Client) Announcements(ctx context.Context, limit int) ([]Announcement, error) {
	query := url.Values{
		"locale": {"en-US"},
		"limit":  {strconv.Itoa(limit)},
	}

	var payload struct {
		List []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Type        struct {
				Title string `json:"title"`
			} `json:"type"`
			URL           string `json:"url"`
			DateTimestamp int64  `json:"dateTimestamp"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/announcements/index", query, &payload); err != nil {
		return nil, fmt.Errorf("fetching announcements: %w", err)
	}

	out := make([]Announcement, 0, len(payload.List))
	for _, item := range payload.List {
		out = append(out, Announcement{
			Title:       item.Title,
			Description: item.Description,
			Type:        item.Type.Title,
			URL:         item.URL,
			PublishedAt: time.UnixMilli(item.DateTimestamp).UTC(),
		})
	}
	return out, nil
}

// get issues a GET with retries on transient failures and decodes the
// exchange's standard {retCode, retMsg, result} envelope into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	endpoint := c.baseURL + path + "?" + query.Encode()

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return retry.RetryableError(fmt.Errorf("market api returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("market api returned %d", resp.StatusCode)
		}

		var envelope struct {
			RetCode int             `json:"retCode"`
			RetMsg  string          `json:"retMsg"`
			Result  json.RawMessage `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return retry.RetryableError(err)
		}
		if envelope.RetCode != 0 {
			return fmt.Errorf("market api error %d: %s", envelope.RetCode, envelope.RetMsg)
		}
		return json.Unmarshal(envelope.Result, result)
	})
}

func parseFloat(s string) float64 {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return value
}
