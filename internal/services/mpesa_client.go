package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"loyalty-service/pkg/common"
)

const (
	sandboxBaseUrl    = "https://sandbox.payments.example.net"
	productionBaseUrl = "https://api.payments.example.net"

	// Tokens are cached for the network-declared lifetime minus this
	// margin so a token is never used right at its expiry edge.
	tokenSafetyMargin = 30 * time.Second

	defaultMaxAttempts = 4
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 8 * time.Second
)

// MpesaConfig is the per-channel client configuration. Key and secret
// arrive already decrypted; the client never reads the store.
type MpesaConfig struct {
	Environment    string
	BaseUrl        string // overrides the environment default when set
	ConsumerKey    string
	ConsumerSecret string
}

func (c MpesaConfig) resolveBaseUrl() string {
	if c.BaseUrl != "" {
		return c.BaseUrl
	}
	if c.Environment == "production" {
		return productionBaseUrl
	}
	return sandboxBaseUrl
}

// ProtocolClient is the authenticated surface of the mobile-money
// network. MpesaClient implements it for both environments; tests
// substitute scripted fakes through the ClientFactory.
type ProtocolClient interface {
	GetToken(ctx context.Context) (string, error)
	RegisterURLs(ctx context.Context, req RegisterURLsRequest) (*RegisterURLsResponse, error)
	SimulateC2B(ctx context.Context, req SimulateRequest) (*SimulateResponse, error)
	FetchTransactions(ctx context.Context, shortcode string, window PollWindow, page, perPage int) (*TransactionPage, error)
}

// ClientFactory builds a client for one channel's credentials.
type ClientFactory func(cfg MpesaConfig) ProtocolClient

type tokenEntry struct {
	token     string
	expiresAt time.Time
}

// TokenCache holds bearer tokens keyed by credential fingerprint. It is
// constructor-injected and owned by whoever builds the clients; there
// is no process-wide singleton, so tenants stay isolated. A redundant
// refresh under concurrency is harmless.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]tokenEntry
}

func NewTokenCache() *TokenCache {
	return &TokenCache{entries: make(map[string]tokenEntry)}
}

func (c *TokenCache) Get(fingerprint string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[fingerprint]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}

func (c *TokenCache) Put(fingerprint, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = tokenEntry{token: token, expiresAt: time.Now().Add(ttl)}
}

func (c *TokenCache) Purge(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fingerprint)
}

// MpesaClient is the stateful protocol client for one channel. Retry
// state is per call, so backoff on one channel never blocks another.
type MpesaClient struct {
	cfg         MpesaConfig
	http        *http.Client
	cache       *TokenCache
	fingerprint string

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewMpesaClient(cfg MpesaConfig, cache *TokenCache) *MpesaClient {
	if cache == nil {
		cache = NewTokenCache()
	}
	sum := sha256.Sum256([]byte(cfg.ConsumerKey + ":" + cfg.ConsumerSecret + "@" + cfg.resolveBaseUrl()))
	return &MpesaClient{
		cfg:         cfg,
		http:        &http.Client{Timeout: 30 * time.Second},
		cache:       cache,
		fingerprint: hex.EncodeToString(sum[:]),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
}

// NewMpesaClientFactory returns a ClientFactory whose clients share one
// token cache, keeping one cache entry per credential set.
func NewMpesaClientFactory(cache *TokenCache) ClientFactory {
	return func(cfg MpesaConfig) ProtocolClient {
		return NewMpesaClient(cfg, cache)
	}
}

// GetToken returns a cached bearer token, fetching a fresh one when the
// cache entry is missing or past its safety margin.
func (c *MpesaClient) GetToken(ctx context.Context) (string, error) {
	if token, ok := c.cache.Get(c.fingerprint); ok {
		return token, nil
	}
	return c.fetchToken(ctx)
}

func (c *MpesaClient) fetchToken(ctx context.Context) (string, error) {
	tokenUrl := c.cfg.resolveBaseUrl() + "/oauth/v1/generate?grant_type=client_credentials"
	resp, err := common.GetBasicAuth(ctx, c.http, tokenUrl, c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	if err != nil {
		return "", &MpesaNetworkError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &MpesaAuthError{Message: "invalid consumer key or secret"}
	case resp.StatusCode >= 500:
		return "", &MpesaNetworkError{Err: fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", &MpesaRequestError{StatusCode: resp.StatusCode, Body: truncateBody(resp.Body)}
	}

	var tr tokenResponse
	if err := resp.DecodeJSON(&tr); err != nil {
		return "", &MpesaNetworkError{Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", &MpesaAuthError{Message: "token endpoint returned no access token"}
	}

	lifetime := 3600 * time.Second
	if secs, err := strconv.Atoi(tr.ExpiresIn); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}
	ttl := lifetime - tokenSafetyMargin
	if ttl > 0 {
		c.cache.Put(c.fingerprint, tr.AccessToken, ttl)
	}
	return tr.AccessToken, nil
}

// Call performs an authenticated request against the network. It is an
// explicit bounded loop carrying the attempt count: transient failures
// (transport, 5xx, 429) retry with exponential backoff up to maxDelay,
// a server-supplied Retry-After is honored, and an authentication
// failure purges the cached token and is retried exactly once with a
// fresh one.
func (c *MpesaClient) Call(ctx context.Context, method, endpoint string, body, out interface{}) error {
	headers := map[string]string{}
	delay := c.baseDelay
	authRetried := false

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		token, err := c.GetToken(ctx)
		if err != nil {
			if _, ok := err.(*MpesaAuthError); ok {
				return err
			}
			if attempt == c.maxAttempts {
				return err
			}
			if err := sleepWithContext(ctx, delay); err != nil {
				return err
			}
			delay = nextDelay(delay, c.maxDelay)
			continue
		}
		headers["Authorization"] = "Bearer " + token

		resp, err := common.DoJSON(ctx, c.http, method, c.cfg.resolveBaseUrl()+endpoint, body, headers)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt == c.maxAttempts {
				return &MpesaNetworkError{Err: err}
			}
			if err := sleepWithContext(ctx, delay); err != nil {
				return err
			}
			delay = nextDelay(delay, c.maxDelay)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			c.cache.Purge(c.fingerprint)
			if !authRetried {
				// Exactly one retry with a fresh token; does not
				// consume the transient-retry budget.
				authRetried = true
				attempt--
				continue
			}
			return &MpesaAuthError{Message: truncateBody(resp.Body)}

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := resp.RetryAfter()
			if wait == 0 {
				wait = delay
			}
			if attempt == c.maxAttempts {
				return &MpesaRateLimitError{RetryAfter: wait}
			}
			if err := sleepWithContext(ctx, wait); err != nil {
				return err
			}
			delay = nextDelay(delay, c.maxDelay)
			continue

		case resp.StatusCode >= 500:
			if attempt == c.maxAttempts {
				return &MpesaNetworkError{Err: fmt.Errorf("server returned %d: %s", resp.StatusCode, truncateBody(resp.Body))}
			}
			if err := sleepWithContext(ctx, delay); err != nil {
				return err
			}
			delay = nextDelay(delay, c.maxDelay)
			continue

		case resp.StatusCode >= 400:
			return &MpesaRequestError{StatusCode: resp.StatusCode, Body: truncateBody(resp.Body)}
		}

		if out != nil {
			if err := resp.DecodeJSON(out); err != nil {
				return &MpesaNetworkError{Err: fmt.Errorf("malformed response body: %w", err)}
			}
		}
		return nil
	}

	return &MpesaNetworkError{Err: fmt.Errorf("retry budget exhausted")}
}

// RegisterURLs registers the channel's confirmation and validation URLs
// with the network. A non-"0" response code is a business rejection.
func (c *MpesaClient) RegisterURLs(ctx context.Context, req RegisterURLsRequest) (*RegisterURLsResponse, error) {
	var resp RegisterURLsResponse
	if err := c.Call(ctx, "POST", "/mpesa/c2b/v1/registerurl", req, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, &MpesaRejectionError{Code: resp.ResponseCode, Description: resp.ResponseDescription}
	}
	return &resp, nil
}

// SimulateC2B triggers a sandbox test payment against the shortcode.
func (c *MpesaClient) SimulateC2B(ctx context.Context, req SimulateRequest) (*SimulateResponse, error) {
	var resp SimulateResponse
	if err := c.Call(ctx, "POST", "/mpesa/c2b/v1/simulate", req, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, &MpesaRejectionError{Code: resp.ResponseCode, Description: resp.ResponseDescription}
	}
	return &resp, nil
}

// FetchTransactions retrieves one page of settled payments for the
// shortcode inside the window. A page shorter than perPage is the last.
func (c *MpesaClient) FetchTransactions(ctx context.Context, shortcode string, window PollWindow, page, perPage int) (*TransactionPage, error) {
	params := url.Values{}
	params.Set("ShortCode", shortcode)
	params.Set("StartDate", window.From.Format("2006-01-02 15:04:05"))
	params.Set("EndDate", window.To.Format("2006-01-02 15:04:05"))
	params.Set("Page", strconv.Itoa(page))
	params.Set("PerPage", strconv.Itoa(perPage))

	var resp TransactionPage
	if err := c.Call(ctx, "GET", "/mpesa/c2b/v1/payments?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
