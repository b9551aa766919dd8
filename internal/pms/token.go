package pms

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"pms-sync-service/internal/logger"
)

const (
	// tokenRefreshMargin is how long before expiry a cached token is replaced.
	tokenRefreshMargin   = 5 * time.Minute
	defaultTokenLifetime = 24 * time.Hour
)

// TokenManager caches a client-credentials access token. It is not safe for
// concurrent use; each sync run owns its own Client and TokenManager.
type TokenManager struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time

	token  string
	expiry time.Time
}

func NewTokenManager(tokenURL, clientID, clientSecret string, scopes []string, httpClient *http.Client) *TokenManager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenManager{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns the cached token, fetching a new one when the cache is empty
// or within five minutes of expiry.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	now := m.now()
	if m.token != "" && now.Before(m.expiry.Add(-tokenRefreshMargin)) {
		return m.token, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tokenRefreshesTotal.Inc()
	tok, err := m.cfg.Token(ctx)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			return "", &AuthError{StatusCode: rErr.Response.StatusCode, Body: string(rErr.Body)}
		}
		return "", &AuthError{Err: err}
	}

	m.token = tok.AccessToken
	m.expiry = now.Add(tokenLifetime(tok, now))
	logger.Log.Debug("Obtained pms access token", zap.Time("expires_at", m.expiry))
	return m.token, nil
}

// Invalidate drops the cached token so the next Token call fetches a new one.
func (m *TokenManager) Invalidate() {
	m.token = ""
	m.expiry = time.Time{}
}

func tokenLifetime(tok *oauth2.Token, now time.Time) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case int64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry.Sub(now)
	}
	return defaultTokenLifetime
}
