// SPDX-License-Identifier: MIT

// Package spotify is the typed client for the Spotify Web API. Every
// call runs through the shared upstream policy chain, and a
// client-credentials token is kept in the cache under token:spotify so
// concurrent stages reuse one grant.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crateworks/linernotes/internal/cache"
	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/platform/httpx"
	"github.com/crateworks/linernotes/internal/retry"
)

const (
	defaultBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token"

	// maxPageLimit is the API's own ceiling for the paged endpoints.
	maxPageLimit     = 50
	defaultSearchTTL = 6 * time.Hour
	defaultArtistTTL = 24 * time.Hour

	// tokenSafety is shaved off expires_in so a token never goes stale
	// mid-request.
	tokenSafety = time.Minute

	tokenCacheKey = cache.NSToken + "spotify"
	tokenBreaker  = "token:spotify-refresh"
)

// Config carries the credentials and endpoint knobs.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	SearchTTL    time.Duration
	ArtistTTL    time.Duration
	PageLimit    int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.TokenURL == "" {
		c.TokenURL = defaultTokenURL
	}
	if c.SearchTTL <= 0 {
		c.SearchTTL = defaultSearchTTL
	}
	if c.ArtistTTL <= 0 {
		c.ArtistTTL = defaultArtistTTL
	}
	if c.PageLimit <= 0 || c.PageLimit > maxPageLimit {
		c.PageLimit = maxPageLimit
	}
}

// Deps are the shared runtime pieces the client calls through.
type Deps struct {
	HTTP  *http.Client
	Guard *httpx.Guard
	Chain *httpx.Chain
	Cache cache.Cache
	Clock clock.Clock
}

// Client talks to the Spotify Web API.
type Client struct {
	cfg   Config
	http  *http.Client
	guard *httpx.Guard
	chain *httpx.Chain
	cache cache.Cache
	clk   clock.Clock
}

// New builds a Client. Credentials are required; the token grant owns
// no refresh token, so a bad secret surfaces on the first call.
func New(cfg Config, deps Deps) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("spotify: client id and secret are required")
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:   cfg,
		http:  deps.HTTP,
		guard: deps.Guard,
		chain: deps.Chain,
		cache: deps.Cache,
		clk:   deps.Clock,
	}
	if c.http == nil {
		c.http = httpx.NewClient(0)
	}
	if c.guard == nil {
		c.guard = httpx.NewGuard(0, c.clk)
	}
	if c.cache == nil {
		c.cache = cache.NewNoOpCache()
	}
	if c.clk == nil {
		c.clk = clock.System()
	}
	return c, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a bearer token, refreshing through the token breaker
// when the cached one is gone. Refresh failures park the breaker for an
// hour rather than hammering the accounts endpoint.
func (c *Client) token(ctx context.Context) (string, error) {
	if v, ok := c.cache.Get(tokenCacheKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}

	var tok tokenResponse
	breaker := c.chain.Breakers.GetOrCreate(tokenBreaker)
	err := breaker.Fire(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, retry.Config{MaxAttempts: 2, Clock: c.clk}, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL,
				strings.NewReader("grant_type=client_credentials"))
			if err != nil {
				return errcat.Wrap(errcat.Validation, err, "building token request")
			}
			req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return httpx.DoJSON(ctx, c.http, c.guard, "spotify-token", req, &tok)
		})
	})
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errcat.New(errcat.Authorization, "token response carried no access_token")
	}

	ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenSafety
	if ttl < time.Minute {
		ttl = time.Minute
	}
	c.cache.Set(tokenCacheKey, tok.AccessToken, ttl)
	logger := log.WithComponent("spotify")
	logger.Debug().Dur("ttl", ttl).Msg("refreshed api token")
	return tok.AccessToken, nil
}

// get runs one authenticated GET under the policy chain. endpoint names
// the per-endpoint circuit, so one sick endpoint does not drag the rest
// down with it.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	return c.chain.Call(ctx, "api:spotify:"+endpoint, func(ctx context.Context) error {
		u := c.cfg.BaseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errcat.Wrap(errcat.Validation, err, "building api request")
		}
		req.Header.Set("Authorization", "Bearer "+token)

		err = httpx.DoJSON(ctx, c.http, c.guard, "spotify", req, out)
		if errcat.StatusOf(err) == http.StatusUnauthorized {
			// The token went stale before its TTL. Evict it and let the
			// redelivery refresh; stale grants must not dead-letter work.
			c.cache.Delete(tokenCacheKey)
			return errcat.Wrap(errcat.Transient, err, "cached token rejected")
		}
		return err
	})
}

func (c *Client) clampLimit(limit int) int {
	if limit <= 0 || limit > c.cfg.PageLimit {
		return c.cfg.PageLimit
	}
	return limit
}
