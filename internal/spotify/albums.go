// SPDX-License-Identifier: MIT

package spotify

import (
	"context"
	"net/url"
	"strconv"

	"github.com/crateworks/linernotes/internal/errcat"
)

// Track is one track on an album.
type Track struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	DurationMS  int         `json:"duration_ms"`
	TrackNumber int         `json:"track_number"`
	DiscNumber  int         `json:"disc_number"`
	Artists     []ArtistRef `json:"artists"`
}

// TracksPage is one slice of an album's track list plus paging cursors.
type TracksPage struct {
	Items      []Track
	Total      int
	NextOffset int
	HasNext    bool
}

type pagedTracks struct {
	Items []Track `json:"items"`
	Total int     `json:"total"`
	Next  string  `json:"next"`
}

// AlbumTracks lists one page of an album's tracks.
func (c *Client) AlbumTracks(ctx context.Context, id string, offset, limit int) (*TracksPage, error) {
	if id == "" {
		return nil, errcat.New(errcat.Validation, "album id is empty")
	}
	limit = c.clampLimit(limit)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var res pagedTracks
	if err := c.get(ctx, "album-tracks", "/albums/"+url.PathEscape(id)+"/tracks", q, &res); err != nil {
		return nil, err
	}
	return &TracksPage{
		Items:      res.Items,
		Total:      res.Total,
		NextOffset: offset + len(res.Items),
		HasNext:    res.Next != "",
	}, nil
}
