package provider

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventReconnectMin = time.Second
	eventReconnectMax = 30 * time.Second
)

// EventListener subscribes to the provider's notification stream over
// WebSocket and forwards decoded events to a handler. Losing the stream is
// never fatal: the orchestrator's polling path covers completion detection,
// so the listener just reconnects with backoff.
type EventListener struct {
	wsURL   string
	handler func(Event)
	dialer  websocket.Dialer
}

func NewEventListener(wsURL string, handler func(Event)) *EventListener {
	return &EventListener{
		wsURL:   strings.TrimSpace(wsURL),
		handler: handler,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Run blocks until ctx is done, maintaining the subscription.
func (l *EventListener) Run(ctx context.Context) {
	if l.wsURL == "" || l.handler == nil {
		return
	}
	backoff := eventReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.listenOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("provider event stream: %v (reconnecting in %s)", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > eventReconnectMax {
			backoff = eventReconnectMax
		}
	}
}

func (l *EventListener) listenOnce(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		if strings.TrimSpace(evt.ContextID) == "" {
			continue
		}
		l.handler(evt)
	}
}
