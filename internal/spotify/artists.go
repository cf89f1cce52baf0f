// SPDX-License-Identifier: MIT

package spotify

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/crateworks/linernotes/internal/cache"
	"github.com/crateworks/linernotes/internal/errcat"
)

// ArtistRef is the short artist object embedded in albums and tracks.
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Artist is the full artist object.
type Artist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres,omitempty"`
	Popularity int      `json:"popularity,omitempty"`
}

// Album is one release in an artist's discography. AlbumGroup tells how
// the release relates to the queried artist (album, single, compilation,
// appears_on); AlbumType is the release's own type.
type Album struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	AlbumType   string      `json:"album_type"`
	AlbumGroup  string      `json:"album_group,omitempty"`
	ReleaseDate string      `json:"release_date"`
	TotalTracks int         `json:"total_tracks"`
	Artists     []ArtistRef `json:"artists"`
}

// AlbumsPage is one slice of a discography plus paging cursors.
type AlbumsPage struct {
	Items      []Album
	Total      int
	NextOffset int
	HasNext    bool
}

type searchResponse struct {
	Artists struct {
		Items []Artist `json:"items"`
		Total int      `json:"total"`
	} `json:"artists"`
}

type pagedAlbums struct {
	Items []Album `json:"items"`
	Total int     `json:"total"`
	Next  string  `json:"next"`
}

// SearchArtist resolves a free-text name to the best-matching artist.
// Results are cached by lowercased name; an empty result set is a
// not_found, which callers treat as permanent.
func (c *Client) SearchArtist(ctx context.Context, name string) (*Artist, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errcat.New(errcat.Validation, "artist name is empty")
	}

	key := cache.Key(cache.NSSearch, "artist:"+strings.ToLower(name))
	return cache.GetOrFetch(ctx, c.cache, key, c.cfg.SearchTTL, 0, func(ctx context.Context) (*Artist, error) {
		q := url.Values{}
		q.Set("q", name)
		q.Set("type", "artist")
		q.Set("limit", "1")

		var res searchResponse
		if err := c.get(ctx, "search", "/search", q, &res); err != nil {
			return nil, err
		}
		if len(res.Artists.Items) == 0 {
			return nil, errcat.Newf(errcat.NotFound, "no artist matches %q", name)
		}
		artist := res.Artists.Items[0]
		return &artist, nil
	})
}

// GetArtist fetches one artist by id, cached under artist:<id>.
func (c *Client) GetArtist(ctx context.Context, id string) (*Artist, error) {
	if id == "" {
		return nil, errcat.New(errcat.Validation, "artist id is empty")
	}

	key := cache.Key(cache.NSArtist, id)
	return cache.GetOrFetch(ctx, c.cache, key, c.cfg.ArtistTTL, 0, func(ctx context.Context) (*Artist, error) {
		var artist Artist
		if err := c.get(ctx, "artists", "/artists/"+url.PathEscape(id), nil, &artist); err != nil {
			return nil, err
		}
		return &artist, nil
	})
}

// ArtistAlbums lists one page of an artist's discography. Pages are not
// cached: discographies change and the stages walk them exactly once
// per seeding.
func (c *Client) ArtistAlbums(ctx context.Context, id string, offset, limit int) (*AlbumsPage, error) {
	if id == "" {
		return nil, errcat.New(errcat.Validation, "artist id is empty")
	}
	limit = c.clampLimit(limit)

	q := url.Values{}
	q.Set("include_groups", "album,single,compilation,appears_on")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var res pagedAlbums
	if err := c.get(ctx, "artist-albums", "/artists/"+url.PathEscape(id)+"/albums", q, &res); err != nil {
		return nil, err
	}
	return &AlbumsPage{
		Items:      res.Items,
		Total:      res.Total,
		NextOffset: offset + len(res.Items),
		HasNext:    res.Next != "",
	}, nil
}
