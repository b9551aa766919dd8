package pms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pms-sync-service/internal/config"
)

// fakePMS serves a token endpoint and replies to list calls with a scripted
// sequence of status codes; the last code repeats once the script runs out.
type fakePMS struct {
	t *testing.T

	mu          sync.Mutex
	statuses    []int
	calls       int
	tokenCalls  int
	lastQuery   map[string]string
	lastAuth    string
	tokenStatus int
}

func (f *fakePMS) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		n := f.tokenCalls
		status := f.tokenStatus
		f.mu.Unlock()

		assert.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(f.t, "id", r.PostForm.Get("client_id"))
		assert.Equal(f.t, "secret", r.PostForm.Get("client_secret"))

		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   86400,
		})
	})
	mux.HandleFunc("/v1/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := http.StatusOK
		if len(f.statuses) > 0 {
			idx := f.calls
			if idx >= len(f.statuses) {
				idx = len(f.statuses) - 1
			}
			status = f.statuses[idx]
		}
		f.calls++
		f.lastAuth = r.Header.Get("Authorization")
		f.lastQuery = map[string]string{
			"skip":    r.URL.Query().Get("skip"),
			"limit":   r.URL.Query().Get("limit"),
			"filters": r.URL.Query().Get("filters"),
			"path":    r.URL.Path,
		}
		f.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"_id":"a"},{"_id":"b"}]}`))
	})
	return mux
}

type fakeSnapshot struct {
	calls      int
	tokenCalls int
	query      map[string]string
	auth       string
}

func (f *fakePMS) snapshot() fakeSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeSnapshot{calls: f.calls, tokenCalls: f.tokenCalls, query: f.lastQuery, auth: f.lastAuth}
}

func (f *fakePMS) failTokens(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
}

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func newTestClient(t *testing.T, statuses ...int) (*Client, *fakePMS, *sleepRecorder) {
	t.Helper()
	fake := &fakePMS{t: t, statuses: statuses}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	rec := &sleepRecorder{}
	policy := DefaultRetryPolicy()
	policy.Sleep = rec.Sleep

	c := NewClient(config.RemoteConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth2/token",
		ClientID:     "id",
		ClientSecret: "secret",
	}, WithHTTPClient(srv.Client()), WithRetryPolicy(policy))
	return c, fake, rec
}

func TestFetchPageSuccess(t *testing.T) {
	c, fake, rec := newTestClient(t)

	filters := []Filter{{Field: "checkIn", Operator: "$gte", Value: "2023-10-17T00:00:00Z"}}
	page, err := c.FetchPage(context.Background(), KindReservations, 200, 100, filters)
	require.NoError(t, err)
	require.Len(t, page.Results, 2)

	snap := fake.snapshot()
	assert.Equal(t, "/v1/reservations", snap.query["path"])
	assert.Equal(t, "200", snap.query["skip"])
	assert.Equal(t, "100", snap.query["limit"])
	assert.JSONEq(t, `[{"field":"checkIn","operator":"$gte","value":"2023-10-17T00:00:00Z"}]`, snap.query["filters"])
	assert.Equal(t, "Bearer tok-1", snap.auth)
	assert.Empty(t, rec.slept)
}

func TestFetchPageRetriesRateLimit(t *testing.T) {
	c, fake, rec := newTestClient(t, 429, 429, 200)

	page, err := c.FetchPage(context.Background(), KindListings, 0, 100, nil)
	require.NoError(t, err)
	assert.Len(t, page.Results, 2)
	assert.Equal(t, 3, fake.snapshot().calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.slept)
}

func TestFetchPageRefreshesTokenOn401WithoutSleeping(t *testing.T) {
	c, fake, rec := newTestClient(t, 401, 200)

	_, err := c.FetchPage(context.Background(), KindGuests, 0, 100, nil)
	require.NoError(t, err)
	snap := fake.snapshot()
	assert.Equal(t, 2, snap.calls)
	assert.Equal(t, 2, snap.tokenCalls, "401 forces a token refresh")
	assert.Equal(t, "Bearer tok-2", snap.auth)
	assert.Empty(t, rec.slept)
}

func TestFetchPageExhaustsBudget(t *testing.T) {
	c, fake, rec := newTestClient(t, 500)

	_, err := c.FetchPage(context.Background(), KindConversations, 0, 100, nil)
	var apiErr *RemoteAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, 3, apiErr.Attempts)
	assert.Contains(t, apiErr.Message, "nope")
	assert.Equal(t, 3, fake.snapshot().calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.slept, "no sleep after the final attempt")
}

func TestFetchPageRepeated401IsAuthError(t *testing.T) {
	c, fake, rec := newTestClient(t, 401)

	_, err := c.FetchPage(context.Background(), KindListings, 0, 100, nil)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, 3, fake.snapshot().calls)
	assert.Empty(t, rec.slept)
}

func TestFetchPageTokenFailureIsFatal(t *testing.T) {
	c, fake, _ := newTestClient(t)
	fake.failTokens(http.StatusBadRequest)

	_, err := c.FetchPage(context.Background(), KindListings, 0, 100, nil)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
	assert.Contains(t, authErr.Body, "invalid_client")
	assert.Equal(t, 0, fake.snapshot().calls)
}

func TestFetchPageTransportError(t *testing.T) {
	rec := &sleepRecorder{}
	policy := DefaultRetryPolicy()
	policy.Sleep = rec.Sleep

	fake := &fakePMS{t: t}
	tokenSrv := httptest.NewServer(fake.handler())
	t.Cleanup(tokenSrv.Close)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	c := NewClient(config.RemoteConfig{
		BaseURL:      deadURL,
		TokenURL:     tokenSrv.URL + "/oauth2/token",
		ClientID:     "id",
		ClientSecret: "secret",
	}, WithRetryPolicy(policy))

	_, err := c.FetchPage(context.Background(), KindListings, 0, 100, nil)
	var apiErr *RemoteAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 0, apiErr.StatusCode)
	assert.Len(t, rec.slept, 2)
}

func TestFetchPageUnknownKind(t *testing.T) {
	c, _, _ := newTestClient(t)
	_, err := c.FetchPage(context.Background(), EntityKind("owners"), 0, 100, nil)
	assert.Error(t, err)
}

func TestFetchPageHonoursCancelledSleep(t *testing.T) {
	c, _, _ := newTestClient(t, 503)
	ctx, cancel := context.WithCancel(context.Background())
	c.retry.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.FetchPage(ctx, KindListings, 0, 100, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(0))
}
