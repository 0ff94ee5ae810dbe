package moralis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxPages bounds cursor pagination for a single chain.
const maxPages = 20

// Client is an HTTP client for the Moralis wallet token balances API. Requests
// are not retried: a chain that fails is reported to the caller, which skips it
// for the current pass.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient creates a new Moralis API client.
func NewClient(baseURL, apiKey string, m *metrics.Metrics) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		metrics:    m,
	}
}

// rawText keeps a JSON scalar as its literal text so numeric fields reach the
// reconciliation engine unparsed. null becomes "".
type rawText string

func (r *rawText) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch {
	case s == "null":
		*r = ""
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*r = rawText(str)
	default:
		*r = rawText(s)
	}
	return nil
}

type tokenBalance struct {
	TokenAddress     string  `json:"token_address"`
	Name             string  `json:"name"`
	Symbol           string  `json:"symbol"`
	BalanceFormatted rawText `json:"balance_formatted"`
	USDPrice         rawText `json:"usd_price"`
	PossibleSpam     bool    `json:"possible_spam"`
}

type tokensPage struct {
	Cursor string         `json:"cursor"`
	Result []tokenBalance `json:"result"`
}

// FetchChainBalances returns every non-spam token balance address holds on chain.
func (c *Client) FetchChainBalances(ctx context.Context, address, chain string) ([]domain.ChainBalance, error) {
	var balances []domain.ChainBalance
	cursor := ""

	for range maxPages {
		q := url.Values{}
		q.Set("chain", chain)
		q.Set("exclude_spam", "true")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var page tokensPage
		if err := c.getJSON(ctx, "/wallets/"+url.PathEscape(address)+"/tokens?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("fetching %s balances: %w", chain, err)
		}

		for _, t := range page.Result {
			if t.PossibleSpam {
				continue
			}
			balances = append(balances, domain.ChainBalance{
				Chain:        chain,
				TokenAddress: t.TokenAddress,
				Name:         t.Name,
				Symbol:       t.Symbol,
				Balance:      string(t.BalanceFormatted),
				USDPrice:     string(t.USDPrice),
			})
		}

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	return balances, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest("moralis", "error")
		return nil, fmt.Errorf("%w: executing request: %v", domain.ErrProvider, err)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.metrics.ObserveRequest("moralis", "error")
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.ObserveRequest("moralis", "error")
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrProvider, resp.StatusCode, string(body))
	}
	c.metrics.ObserveRequest("moralis", "ok")
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: parsing JSON from %s: %v", domain.ErrProvider, path, err)
	}
	return nil
}
