package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/chains"
	"pricewatch/internal/resilience"
)

var (
	// ErrNoLiquidity indicates the provider has no liquid market for the
	// pair. This is an expected business outcome, not a fault.
	ErrNoLiquidity = errors.New("no liquidity for token")
	// ErrTokenNotFound indicates the provider has no record of the token.
	ErrTokenNotFound = errors.New("token not found")
)

// HTTPError is a non-2xx provider response. RetryAfterHint is populated from
// the Retry-After header on 429 responses.
type HTTPError struct {
	Status         int
	Message        string
	RetryAfterHint time.Duration
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider api error (%d)", e.Status)
}

// RetryAfter reports the provider-mandated retry delay, if any.
func (e *HTTPError) RetryAfter() time.Duration {
	return e.RetryAfterHint
}

// Options parameterise the provider client.
type Options struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches token prices and metadata from the external price-data
// provider. Every call is gated by the rate limiter and repaired by the
// retry policy.
type Client struct {
	opts     Options
	registry *chains.Registry
	limiter  *resilience.Limiter
	retrier  *resilience.Retrier
	client   *http.Client
	baseURL  string
	logger   zerolog.Logger
}

// New constructs a provider client.
func New(opts Options, registry *chains.Registry, limiter *resilience.Limiter, retrier *resilience.Retrier, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://deep-index.moralis.io/api/v2"
	}

	return &Client{
		opts:     opts,
		registry: registry,
		limiter:  limiter,
		retrier:  retrier,
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		logger:   logger.With().Str("component", "provider").Logger(),
	}
}

// TokenPrice fetches the current quote for one (chain, address) pair. A nil
// quote with ErrNoLiquidity means the provider reports no liquid market.
func (c *Client) TokenPrice(ctx context.Context, chain, address string) (*PriceQuote, error) {
	hex, err := c.registry.HexCode(chain)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("chain", hex)
	query.Set("include", "percent_change")

	var res priceResponse
	err = c.execute(ctx, "token price", func(ctx context.Context) error {
		path := fmt.Sprintf("/erc20/%s/price", address)
		return c.request(ctx, http.MethodGet, path, query, nil, &res)
	})
	if err != nil {
		return nil, err
	}

	quote, err := res.toQuote()
	if err != nil {
		return nil, fmt.Errorf("decode quote for %s on %s: %w", address, chain, err)
	}
	return quote, nil
}

// TokenPrices fetches quotes for many addresses on one chain. Individual
// address failures surface per entry; only chain translation or a wholesale
// request failure fails the call.
func (c *Client) TokenPrices(ctx context.Context, chain string, addresses []string) ([]BatchResult, error) {
	hex, err := c.registry.HexCode(chain)
	if err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("chain", hex)
	query.Set("include", "percent_change")

	body := batchRequest{Tokens: make([]batchToken, 0, len(addresses))}
	for _, address := range addresses {
		body.Tokens = append(body.Tokens, batchToken{TokenAddress: address})
	}

	var res []priceResponse
	err = c.execute(ctx, "token prices", func(ctx context.Context) error {
		return c.request(ctx, http.MethodPost, "/erc20/prices", query, body, &res)
	})
	if err != nil {
		return nil, err
	}

	quoted := make(map[string]priceResponse, len(res))
	for _, item := range res {
		quoted[strings.ToLower(item.TokenAddress)] = item
	}

	results := make([]BatchResult, 0, len(addresses))
	for _, address := range addresses {
		item, ok := quoted[strings.ToLower(address)]
		if !ok {
			results = append(results, BatchResult{Address: address, Err: ErrNoLiquidity})
			continue
		}
		quote, convErr := item.toQuote()
		if convErr != nil {
			results = append(results, BatchResult{Address: address, Err: convErr})
			continue
		}
		quote.TokenAddress = address
		results = append(results, BatchResult{Address: address, Quote: quote})
	}
	return results, nil
}

// TokenMetadata fetches symbol, name and decimals for a token. Fails with
// ErrTokenNotFound when the provider has no record.
func (c *Client) TokenMetadata(ctx context.Context, chain, address string) (*Metadata, error) {
	hex, err := c.registry.HexCode(chain)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("chain", hex)
	query.Set("addresses", address)

	var res []metadataResponse
	err = c.execute(ctx, "token metadata", func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, "/erc20/metadata", query, nil, &res)
	})
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || res[0].Address == "" {
		return nil, fmt.Errorf("%w: %s on %s", ErrTokenNotFound, address, chain)
	}

	return res[0].toMetadata(), nil
}

// execute gates one logical provider call behind the limiter and the retry
// schedule. Terminal errors are marked permanent so their original kind
// propagates unchanged.
func (c *Client) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	return c.retrier.Do(ctx, op, func(ctx context.Context) error {
		if err := c.limiter.Allow(); err != nil {
			return resilience.Permanent(err)
		}
		err := fn(ctx)
		if err != nil && !retryable(err) {
			return resilience.Permanent(err)
		}
		return err
	})
}

func retryable(err error) bool {
	if errors.Is(err, ErrNoLiquidity) || errors.Is(err, ErrTokenNotFound) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusTooManyRequests || httpErr.Status >= 500
	}
	// Transport-level failures (timeouts, resets) are transient.
	return true
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.opts.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseHTTPError(resp, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

func parseHTTPError(resp *http.Response, payload []byte) error {
	var apiErr errorResponse
	message := ""
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		message = apiErr.Message
	}
	if message == "" && len(payload) > 0 {
		message = strings.TrimSpace(string(payload))
	}

	// The provider reports missing liquidity as a client error with an
	// explanatory message; that is absence, not a fault.
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		if strings.Contains(strings.ToLower(message), "liquidity") {
			return ErrNoLiquidity
		}
	}

	httpErr := &HTTPError{Status: resp.StatusCode, Message: message}
	if resp.StatusCode == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			httpErr.RetryAfterHint = time.Duration(seconds) * time.Second
		}
	}
	return httpErr
}

type priceResponse struct {
	TokenAddress     string      `json:"tokenAddress"`
	USDPrice         json.Number `json:"usdPrice"`
	BlockTimestamp   string      `json:"blockTimestamp"`
	PercentChange1h  string      `json:"1hrPercentChange"`
	PercentChange24h string      `json:"24hrPercentChange"`
}

func (r priceResponse) toQuote() (*PriceQuote, error) {
	price, err := decimal.NewFromString(r.USDPrice.String())
	if err != nil {
		return nil, fmt.Errorf("parse usd price: %w", err)
	}

	quote := &PriceQuote{
		TokenAddress: r.TokenAddress,
		USDPrice:     price,
	}

	if r.BlockTimestamp != "" {
		millis, err := strconv.ParseInt(r.BlockTimestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse block timestamp: %w", err)
		}
		quote.QuotedAt = time.UnixMilli(millis).UTC()
	} else {
		quote.QuotedAt = time.Now().UTC()
	}

	if change, err := decimal.NewFromString(r.PercentChange1h); err == nil && r.PercentChange1h != "" {
		quote.PercentChange1h = &change
	}
	if change, err := decimal.NewFromString(r.PercentChange24h); err == nil && r.PercentChange24h != "" {
		quote.PercentChange24h = &change
	}

	return quote, nil
}

type metadataResponse struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals string `json:"decimals"`
}

func (r metadataResponse) toMetadata() *Metadata {
	meta := &Metadata{
		Address: r.Address,
		Symbol:  r.Symbol,
		Name:    r.Name,
	}
	if meta.Symbol == "" {
		meta.Symbol = "UNKNOWN"
	}
	if meta.Name == "" {
		meta.Name = "Unknown"
	}
	if r.Decimals != "" {
		if decimals, err := strconv.Atoi(r.Decimals); err == nil {
			meta.Decimals = &decimals
		}
	}
	return meta
}

type batchRequest struct {
	Tokens []batchToken `json:"tokens"`
}

type batchToken struct {
	TokenAddress string `json:"token_address"`
}

type errorResponse struct {
	Message string `json:"message"`
}
