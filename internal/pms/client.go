package pms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pms-sync-service/internal/config"
	"pms-sync-service/internal/logger"
)

type EntityKind string

const (
	KindListings      EntityKind = "listings"
	KindGuests        EntityKind = "guests"
	KindReservations  EntityKind = "reservations"
	KindConversations EntityKind = "conversations"
)

var endpoints = map[EntityKind]string{
	KindListings:      "/v1/listings",
	KindGuests:        "/v1/guests-crud",
	KindReservations:  "/v1/reservations",
	KindConversations: "/v1/communication/conversations",
}

// Filter is a server-side query condition, e.g. {checkIn $gte 2023-01-01}.
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Page is one page of a paginated list endpoint. Results are kept raw and
// decoded by the entity sync units.
type Page struct {
	Results []json.RawMessage `json:"results"`
}

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 512

type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenManager
	retry   RetryPolicy
	limiter *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient builds a client with its own token cache. Construct one per run.
func NewClient(cfg config.RemoteConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.GetRequestTimeout()},
		retry:   DefaultRetryPolicy(),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	if cfg.MaxAttempts > 0 {
		c.retry.MaxAttempts = cfg.MaxAttempts
	}
	if d := cfg.GetBaseBackoff(); d > 0 {
		c.retry.BaseDelay = d
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tokens = NewTokenManager(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes, c.http)
	return c
}

// FetchPage requests one page of kind. 401 responses drop the cached token
// and retry immediately; 429, other non-2xx statuses and transport errors
// retry after exponential backoff. Every attempt counts against the budget.
func (c *Client) FetchPage(ctx context.Context, kind EntityKind, skip, limit int, filters []Filter) (*Page, error) {
	endpoint, err := c.pageURL(kind, skip, limit, filters)
	if err != nil {
		return nil, err
	}

	var (
		lastStatus int
		lastMsg    string
	)
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		status, body, err := c.get(ctx, endpoint, token)
		reason := ""
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			apiRequestsTotal.WithLabelValues(string(kind), "error").Inc()
			lastStatus, lastMsg = 0, err.Error()
			reason = "transport"
		case status >= 200 && status < 300:
			apiRequestsTotal.WithLabelValues(string(kind), strconv.Itoa(status)).Inc()
			var page Page
			if err := json.Unmarshal(body, &page); err != nil {
				return nil, &RemoteAPIError{Kind: kind, StatusCode: status, Message: "invalid response body: " + err.Error(), Attempts: attempt}
			}
			return &page, nil
		case status == http.StatusUnauthorized:
			apiRequestsTotal.WithLabelValues(string(kind), strconv.Itoa(status)).Inc()
			apiRetriesTotal.WithLabelValues(string(kind), "unauthorized").Inc()
			c.tokens.Invalidate()
			lastStatus, lastMsg = status, truncate(body)
			logger.Log.Warn("pms rejected access token, refreshing", zap.String("entity", string(kind)), zap.Int("attempt", attempt))
			continue
		default:
			apiRequestsTotal.WithLabelValues(string(kind), strconv.Itoa(status)).Inc()
			lastStatus, lastMsg = status, truncate(body)
			reason = "status"
			if status == http.StatusTooManyRequests {
				reason = "rate_limited"
			}
		}

		if attempt == c.retry.MaxAttempts {
			break
		}
		apiRetriesTotal.WithLabelValues(string(kind), reason).Inc()
		logger.Log.Warn("pms request failed, backing off",
			zap.String("entity", string(kind)),
			zap.Int("attempt", attempt),
			zap.Int("status", lastStatus),
			zap.Duration("backoff", c.retry.Backoff(attempt)),
		)
		if err := c.retry.wait(ctx, attempt); err != nil {
			return nil, err
		}
	}

	if lastStatus == http.StatusUnauthorized {
		return nil, &AuthError{StatusCode: lastStatus, Body: lastMsg}
	}
	return nil, &RemoteAPIError{Kind: kind, StatusCode: lastStatus, Message: lastMsg, Attempts: c.retry.MaxAttempts}
}

func (c *Client) pageURL(kind EntityKind, skip, limit int, filters []Filter) (string, error) {
	path, ok := endpoints[kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
	params := url.Values{}
	params.Set("skip", strconv.Itoa(skip))
	params.Set("limit", strconv.Itoa(limit))
	if len(filters) > 0 {
		b, err := json.Marshal(filters)
		if err != nil {
			return "", fmt.Errorf("encode filters: %w", err)
		}
		params.Set("filters", string(b))
	}
	return c.baseURL + path + "?" + params.Encode(), nil
}

func (c *Client) get(ctx context.Context, endpoint, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
