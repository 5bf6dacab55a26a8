package push

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// wsSubscription delivers push envelopes over a WebSocket connection for
// backends that expose the channel as ws:// instead of SSE.
type wsSubscription struct {
	conn   *websocket.Conn
	events chan Event
	log    zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func dialWebSocket(ctx context.Context, endpoint, token string, log zerolog.Logger) (Subscription, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("push channel handshake returned %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("push channel connect failed: %w", err)
	}

	s := &wsSubscription{
		conn:   conn,
		events: make(chan Event, 8),
		log:    log.With().Str("component", "push").Str("transport", "websocket").Logger(),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

func (s *wsSubscription) Events() <-chan Event { return s.events }

func (s *wsSubscription) Close() error {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *wsSubscription) read() {
	defer func() {
		close(s.events)
		close(s.done)
	}()

	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("push stream ended")
			}
			return
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}
