// Package streams fetches play-count figures for matched tracks from the
// streaming-stats service. Counts are display enrichment only: a miss or
// failure never affects the match itself.
package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Counts holds the per-platform figures known for one track. Fields are
// nil when the service has no data for that platform.
type Counts struct {
	SpotifyStreams *int64
	YouTubeViews   *int64
}

// Client talks to the streaming-stats service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a Client for the given service base URL.
func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

// TrackCounts returns stream counts for a Spotify track id. Returns an
// empty Counts (no error) when the service has never seen the track.
// Retries once on transient network errors.
func (c *Client) TrackCounts(ctx context.Context, spotifyTrackID string) (Counts, error) {
	if spotifyTrackID == "" {
		return Counts{}, nil
	}

	counts, err := c.fetch(ctx, spotifyTrackID)
	if err == nil {
		return counts, nil
	}
	if !isTransient(err) {
		return Counts{}, err
	}

	select {
	case <-ctx.Done():
		return Counts{}, err
	case <-time.After(2 * time.Second):
	}
	return c.fetch(ctx, spotifyTrackID)
}

func (c *Client) fetch(ctx context.Context, trackID string) (Counts, error) {
	reqURL := fmt.Sprintf("%s/tracks/%s/counts", c.baseURL, url.PathEscape(trackID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to create counts request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Counts{}, fmt.Errorf("counts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Counts{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Counts{}, fmt.Errorf("counts request returned %d", resp.StatusCode)
	}

	var body struct {
		SpotifyStreams *int64 `json:"spotify_streams"`
		YouTubeViews   *int64 `json:"youtube_views"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Counts{}, fmt.Errorf("failed to decode counts response: %w", err)
	}
	return Counts{SpotifyStreams: body.SpotifyStreams, YouTubeViews: body.YouTubeViews}, nil
}

// isTransient reports whether a request failure is worth one retry.
// url.Error satisfies net.Error for every Do failure, so matching the
// interface alone would retry on anything; only timeouts and socket-level
// failures qualify.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
