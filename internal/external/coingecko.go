package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CoinGeckoOptions configures a CoinGeckoClient.
type CoinGeckoOptions struct {
	BaseURL        string
	APIKey         string
	RetryBaseDelay time.Duration
	MaxRetries     int
	PerPage        int
	RatePerMinute  int
	Metrics        *metrics.Metrics
}

// CoinGeckoClient fetches market data from the CoinGecko API.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	delay      time.Duration
	maxRetries int
	perPage    int
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// NewCoinGeckoClient creates a new CoinGecko API client.
func NewCoinGeckoClient(opts CoinGeckoOptions) *CoinGeckoClient {
	limit := rate.Inf
	if opts.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RatePerMinute))
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	return &CoinGeckoClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		delay:      opts.RetryBaseDelay,
		maxRetries: opts.MaxRetries,
		perPage:    perPage,
		limiter:    rate.NewLimiter(limit, 1),
		metrics:    opts.Metrics,
	}
}

// FetchBulkPrices fetches the top `total` coins by market cap, one page at a
// time. A failed page is logged and skipped; the call fails only when no page
// succeeds.
func (c *CoinGeckoClient) FetchBulkPrices(ctx context.Context, total int) ([]domain.MarketQuote, error) {
	pages := (total + c.perPage - 1) / c.perPage
	var quotes []domain.MarketQuote
	var lastErr error

	for page := 1; page <= pages; page++ {
		q := url.Values{}
		q.Set("vs_currency", "usd")
		q.Set("order", "market_cap_desc")
		q.Set("per_page", strconv.Itoa(c.perPage))
		q.Set("page", strconv.Itoa(page))
		q.Set("sparkline", "false")
		q.Set("price_change_percentage", "1h,24h")

		body, err := c.fetchWithRetry(ctx, c.baseURL+"/coins/markets?"+q.Encode())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("CoinGecko markets page failed", "page", page, "error", err)
			lastErr = err
			continue
		}

		var batch []domain.MarketQuote
		if err := json.Unmarshal(body, &batch); err != nil {
			slog.Warn("CoinGecko markets page unreadable", "page", page, "error", err)
			lastErr = fmt.Errorf("%w: parsing CoinGecko markets page %d: %v", domain.ErrProvider, page, err)
			continue
		}
		quotes = append(quotes, batch...)
		if len(batch) < c.perPage {
			break
		}
	}

	if len(quotes) == 0 && lastErr != nil {
		return nil, fmt.Errorf("fetching bulk prices: %w", lastErr)
	}
	if len(quotes) > total {
		quotes = quotes[:total]
	}
	return quotes, nil
}

// FetchSingleCoin fetches full market data for one coin. An unknown id yields
// domain.ErrNotFound without retrying; persistent rate limiting yields
// domain.ErrRateLimited.
func (c *CoinGeckoClient) FetchSingleCoin(ctx context.Context, externalID string) (domain.MarketQuote, error) {
	if externalID == "" {
		return domain.MarketQuote{}, domain.NewValidationError("externalId", "must not be empty")
	}

	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")
	body, err := c.fetchWithRetry(ctx, c.baseURL+"/coins/"+url.PathEscape(externalID)+"?"+q.Encode())
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("fetching coin %s: %w", externalID, err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("%w: parsing CoinGecko coin %s: %v", domain.ErrProvider, externalID, err)
	}

	quote := domain.MarketQuote{
		ExternalID:            pathString(doc, "$.id"),
		Name:                  pathString(doc, "$.name"),
		Symbol:                pathString(doc, "$.symbol"),
		CurrentPrice:          pathDecimal(doc, "$.market_data.current_price.usd"),
		MarketCap:             pathDecimal(doc, "$.market_data.market_cap.usd"),
		TotalVolume:           pathDecimal(doc, "$.market_data.total_volume.usd"),
		High24h:               pathDecimal(doc, "$.market_data.high_24h.usd"),
		Low24h:                pathDecimal(doc, "$.market_data.low_24h.usd"),
		PriceChange24h:        pathDecimal(doc, "$.market_data.price_change_24h"),
		PriceChangePct24h:     pathDecimal(doc, "$.market_data.price_change_percentage_24h"),
		PriceChangePct1h:      pathDecimal(doc, "$.market_data.price_change_percentage_1h_in_currency.usd"),
		MarketCapChange24h:    pathDecimal(doc, "$.market_data.market_cap_change_24h"),
		MarketCapChangePct24h: pathDecimal(doc, "$.market_data.market_cap_change_percentage_24h"),
		MarketCapRank:         int(pathDecimal(doc, "$.market_cap_rank").IntPart()),
	}
	if quote.MarketCapRank == 0 {
		quote.MarketCapRank = int(pathDecimal(doc, "$.market_data.market_cap_rank").IntPart())
	}
	if quote.ExternalID == "" {
		quote.ExternalID = externalID
	}
	return quote, nil
}

func pathString(doc any, path string) string {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// pathDecimal returns zero for missing, null or non-numeric values.
func pathDecimal(doc any, path string) decimal.Decimal {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return decimal.Zero
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case string:
		return domain.SafeParse(n)
	}
	return decimal.Zero
}

func (c *CoinGeckoClient) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := range c.maxRetries + 1 {
		if attempt > 0 {
			baseDelay := c.delay
			if baseDelay == 0 {
				baseDelay = 10 * time.Second
			}
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating CoinGecko request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			if strings.Contains(c.baseURL, "pro-api") {
				req.Header.Set("x-cg-pro-api-key", c.apiKey)
			} else {
				req.Header.Set("x-cg-demo-api-key", c.apiKey)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.ObserveRequest("coingecko", "error")
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: CoinGecko request failed: %v", domain.ErrProvider, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			c.metrics.ObserveRequest("coingecko", "error")
			return nil, fmt.Errorf("%w: reading CoinGecko response: %v", domain.ErrProvider, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			c.metrics.ObserveRequest("coingecko", "ok")
			return body, nil
		case http.StatusNotFound:
			c.metrics.ObserveRequest("coingecko", "not_found")
			return nil, fmt.Errorf("CoinGecko HTTP 404: %w", domain.ErrNotFound)
		case http.StatusTooManyRequests:
			c.metrics.ObserveRequest("coingecko", "rate_limited")
			lastErr = fmt.Errorf("%w: CoinGecko (attempt %d/%d)", domain.ErrRateLimited, attempt+1, c.maxRetries+1)
			continue
		}

		c.metrics.ObserveRequest("coingecko", "error")
		return nil, fmt.Errorf("%w: CoinGecko HTTP %d: %s", domain.ErrProvider, resp.StatusCode, string(body))
	}

	return nil, lastErr
}
