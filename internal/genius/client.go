// SPDX-License-Identifier: MIT

// Package genius is the typed client for the Genius API, used to
// identify producers and their social profiles. The integration is
// optional: without an access token New returns a nil client and the
// stages that need it degrade instead of failing.
package genius

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crateworks/linernotes/internal/cache"
	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/platform/httpx"
)

const (
	defaultBaseURL   = "https://api.genius.com"
	defaultSongTTL   = 24 * time.Hour
	defaultSearchTTL = 6 * time.Hour
)

// Config carries the token and endpoint knobs.
type Config struct {
	AccessToken string
	BaseURL     string
	SongTTL     time.Duration
	SearchTTL   time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.SongTTL <= 0 {
		c.SongTTL = defaultSongTTL
	}
	if c.SearchTTL <= 0 {
		c.SearchTTL = defaultSearchTTL
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

// Client talks to the Genius API. A nil *Client is a valid "not
// configured" value; check Client.Enabled before use.
type Client struct {
	cfg   Config
	http  *http.Client
	guard *httpx.Guard
	chain *httpx.Chain
	cache cache.Cache
	clk   clock.Clock
}

// New builds a Client, or returns nil when no access token is
// configured. Callers treat nil as "enrichment disabled".
func New(cfg Config, deps Deps) *Client {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		logger := log.WithComponent("genius")
		logger.Info().Msg("no access token configured, producer enrichment disabled")
		return nil
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
	return c
}

// Enabled reports whether the integration is configured.
func (c *Client) Enabled() bool { return c != nil }

// get runs one authenticated GET under the policy chain.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	return c.chain.Call(ctx, "api:genius:"+endpoint, func(ctx context.Context) error {
		u := c.cfg.BaseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errcat.Wrap(errcat.Validation, err, "building api request")
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
		return httpx.DoJSON(ctx, c.http, c.guard, "genius", req, out)
	})
}
