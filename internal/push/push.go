// Package push maintains the live update channel: a single server-to-
// client notification stream telling the client that its jobs or logs
// changed. SSE is the primary transport; a WebSocket transport is
// selected automatically for ws:// endpoints. A subscription never
// reopens itself after a transport error — the owning lifecycle decides
// when to dial again, because duplicate subscriptions cause duplicate
// refresh storms.
package push

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
)

// EventType discriminates push envelope payloads.
type EventType string

const (
	EventJobUpdate        EventType = "job_update"
	EventRefreshRequested EventType = "refresh_requested"
)

// Event is the discriminated envelope delivered over the channel.
type Event struct {
	Type EventType `json:"type"`
}

// Subscription is one open push channel. Events is closed when the
// transport fails or Close is called; Close is idempotent and must be
// called on teardown — an orphaned open connection is a correctness bug,
// not just a leak.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Dial opens a subscription to the configured push endpoint, choosing the
// transport by URL scheme: http(s) speaks SSE, ws(s) speaks WebSocket.
func Dial(ctx context.Context, endpoint, token string, log zerolog.Logger) (Subscription, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid push endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http", "https":
		return dialSSE(ctx, endpoint, token, log)
	case "ws", "wss":
		return dialWebSocket(ctx, endpoint, token, log)
	default:
		return nil, fmt.Errorf("unsupported push endpoint scheme %q", u.Scheme)
	}
}
