// SPDX-License-Identifier: MIT

package genius

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/crateworks/linernotes/internal/cache"
	"github.com/crateworks/linernotes/internal/errcat"
)

// ArtistRef is the short artist object embedded in songs and hits.
type ArtistRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SongHit is a search result: enough to decide whether the match is the
// track we asked about and fetch the full song.
type SongHit struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	FullTitle     string    `json:"full_title"`
	PrimaryArtist ArtistRef `json:"primary_artist"`
}

// Song is the full song object, carrying the production credits.
type Song struct {
	ID              int64       `json:"id"`
	Title           string      `json:"title"`
	ReleaseDate     string      `json:"release_date,omitempty"`
	ProducerArtists []ArtistRef `json:"producer_artists"`
	WriterArtists   []ArtistRef `json:"writer_artists,omitempty"`
}

// Artist is the full artist object with the social fields the
// enrichment stage persists.
type Artist struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	AlternateNames []string `json:"alternate_names,omitempty"`
	InstagramName  string   `json:"instagram_name,omitempty"`
	TwitterName    string   `json:"twitter_name,omitempty"`
	FollowersCount int      `json:"followers_count,omitempty"`
}

type searchResponse struct {
	Response struct {
		Hits []struct {
			Type   string  `json:"type"`
			Result SongHit `json:"result"`
		} `json:"hits"`
	} `json:"response"`
}

type songResponse struct {
	Response struct {
		Song Song `json:"song"`
	} `json:"response"`
}

type artistResponse struct {
	Response struct {
		Artist Artist `json:"artist"`
	} `json:"response"`
}

// SearchSong finds the best hit for a track title and artist name. The
// artist name must appear in the hit's primary artist (case-insensitive)
// so cover versions and lyric reposts do not hijack the credits.
func (c *Client) SearchSong(ctx context.Context, title, artist string) (*SongHit, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errcat.New(errcat.Validation, "song title is empty")
	}

	key := cache.Key(cache.NSSearch, "song:"+strings.ToLower(title)+"|"+strings.ToLower(artist))
	return cache.GetOrFetch(ctx, c.cache, key, c.cfg.SearchTTL, 0, func(ctx context.Context) (*SongHit, error) {
		q := url.Values{}
		q.Set("q", strings.TrimSpace(title+" "+artist))

		var res searchResponse
		if err := c.get(ctx, "search", "/search", q, &res); err != nil {
			return nil, err
		}

		wantArtist := strings.ToLower(artist)
		for _, hit := range res.Response.Hits {
			if hit.Type != "song" {
				continue
			}
			if wantArtist != "" && !strings.Contains(strings.ToLower(hit.Result.PrimaryArtist.Name), wantArtist) {
				continue
			}
			match := hit.Result
			return &match, nil
		}
		return nil, errcat.Newf(errcat.NotFound, "no song matches %q by %q", title, artist)
	})
}

// GetSong fetches the full song with production credits, cached under
// song:<id>.
func (c *Client) GetSong(ctx context.Context, id int64) (*Song, error) {
	if id <= 0 {
		return nil, errcat.New(errcat.Validation, "song id must be positive")
	}

	key := cache.Key(cache.NSSong, strconv.FormatInt(id, 10))
	return cache.GetOrFetch(ctx, c.cache, key, c.cfg.SongTTL, 0, func(ctx context.Context) (*Song, error) {
		var res songResponse
		if err := c.get(ctx, "songs", "/songs/"+strconv.FormatInt(id, 10), nil, &res); err != nil {
			return nil, err
		}
		return &res.Response.Song, nil
	})
}

// GetArtist fetches an artist's social profile, cached under
// artist:genius:<id> so Spotify artist entries never collide.
func (c *Client) GetArtist(ctx context.Context, id int64) (*Artist, error) {
	if id <= 0 {
		return nil, errcat.New(errcat.Validation, "artist id must be positive")
	}

	key := cache.Key(cache.NSArtist, "genius:"+strconv.FormatInt(id, 10))
	return cache.GetOrFetch(ctx, c.cache, key, c.cfg.SongTTL, 0, func(ctx context.Context) (*Artist, error) {
		var res artistResponse
		if err := c.get(ctx, "artists", "/artists/"+strconv.FormatInt(id, 10), nil, &res); err != nil {
			return nil, err
		}
		return &res.Response.Artist, nil
	})
}
