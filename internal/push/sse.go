package push

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// sseSubscription reads a text/event-stream response line by line and
// delivers parsed envelopes.
type sseSubscription struct {
	events chan Event
	cancel context.CancelFunc
	log    zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// dialSSE opens the stream and verifies the handshake before returning,
// so a bad endpoint or expired session fails the Dial call instead of
// dying silently in the reader goroutine.
func dialSSE(ctx context.Context, endpoint, token string, log zerolog.Logger) (Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// No client timeout: this response is intentionally long-lived.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("push channel connect failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("push channel handshake returned %d", resp.StatusCode)
	}

	s := &sseSubscription{
		events: make(chan Event, 8),
		cancel: cancel,
		log:    log.With().Str("component", "push").Str("transport", "sse").Logger(),
		done:   make(chan struct{}),
	}
	go s.read(resp)
	return s, nil
}

func (s *sseSubscription) Events() <-chan Event { return s.events }

// Close tears the stream down. Safe to call more than once and after a
// transport error already closed the channel.
func (s *sseSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
	return nil
}

// read consumes the stream until error or cancellation. SSE framing:
// "data:" lines accumulate, a blank line dispatches the event, lines
// starting with ":" are comments.
func (s *sseSubscription) read(resp *http.Response) {
	defer func() {
		resp.Body.Close()
		close(s.events)
		close(s.done)
	}()

	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				s.dispatch(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		// Transport died. The channel closes and stays closed; reopening
		// is the owner's decision.
		s.log.Warn().Err(err).Msg("push stream ended")
	}
}

func (s *sseSubscription) dispatch(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.log.Debug().Err(err).Str("payload", payload).Msg("ignoring unparseable push message")
		return
	}
	select {
	case s.events <- ev:
	default:
		// Slow consumer; each event is only a "something changed" nudge,
		// so dropping one loses nothing.
	}
}
