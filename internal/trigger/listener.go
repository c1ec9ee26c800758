// Package trigger watches the Home Assistant websocket API and starts an
// analysis when a configured camera transitions into an active state.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	pingInterval     = 30 * time.Second
	maxBackoff       = 60 * time.Second
)

// activeStates are camera states that indicate something worth analyzing.
var activeStates = map[string]bool{
	"recording": true,
	"streaming": true,
	"motion":    true,
}

// Analyzer starts an analysis for a camera. Implementations decide how to run
// it; the listener never waits for the result.
type Analyzer interface {
	Trigger(entityID string)
}

// CameraSource returns the current camera allow-list. Read per event so live
// configuration changes take effect without reconnecting.
type CameraSource interface {
	Cameras() []string
}

// Listener maintains a websocket subscription to state_changed events.
type Listener struct {
	wsURL    string
	token    string
	cameras  CameraSource
	analyzer Analyzer
	log      zerolog.Logger
}

// NewListener builds a listener. haURL is the Home Assistant base HTTP URL;
// the websocket endpoint is derived from it.
func NewListener(haURL, token string, cameras CameraSource, analyzer Analyzer, log zerolog.Logger) (*Listener, error) {
	wsURL, err := websocketURL(haURL)
	if err != nil {
		return nil, err
	}
	return &Listener{
		wsURL:    wsURL,
		token:    token,
		cameras:  cameras,
		analyzer: analyzer,
		log:      log.With().Str("component", "trigger").Logger(),
	}, nil
}

func websocketURL(haURL string) (string, error) {
	u, err := url.Parse(haURL)
	if err != nil {
		return "", fmt.Errorf("parse ha url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported ha url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

// Run connects and processes events until the context is cancelled,
// reconnecting with exponential backoff on any failure.
func (l *Listener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := l.session(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn().Err(err).Dur("retry_in", backoff).Msg("websocket session ended")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type stateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string `json:"entity_id"`
		OldState *struct {
			State string `json:"state"`
		} `json:"old_state"`
		NewState *struct {
			State string `json:"state"`
		} `json:"new_state"`
	} `json:"data"`
}

func (l *Listener) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.wsURL, err)
	}
	defer conn.Close()

	if err := l.authenticate(conn); err != nil {
		return err
	}
	if err := l.subscribe(conn); err != nil {
		return err
	}
	l.log.Info().Str("url", l.wsURL).Msg("subscribed to state_changed")

	// Close the connection when the context is cancelled so the read loop
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go l.pingLoop(conn, done)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msg.Type != "event" {
			continue
		}

		var ev stateChangedEvent
		if err := json.Unmarshal(msg.Event, &ev); err != nil {
			l.log.Warn().Err(err).Msg("malformed event payload")
			continue
		}
		l.handleStateChange(ev)
	}
}

func (l *Listener) authenticate(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth challenge: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake message %q", hello.Type)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": l.token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var result wsMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("read auth result: %w", err)
	}
	if result.Type != "auth_ok" {
		return fmt.Errorf("authentication rejected: %s", result.Type)
	}
	return nil
}

func (l *Listener) subscribe(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(map[string]any{
		"id":         1,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var result wsMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("read subscribe result: %w", err)
	}
	if result.Type != "result" || result.Success == nil || !*result.Success {
		return fmt.Errorf("subscription rejected")
	}
	return nil
}

func (l *Listener) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (l *Listener) handleStateChange(ev stateChangedEvent) {
	if ev.EventType != "state_changed" || ev.Data.NewState == nil {
		return
	}
	if !l.watched(ev.Data.EntityID) {
		return
	}

	newState := ev.Data.NewState.State
	oldState := ""
	if ev.Data.OldState != nil {
		oldState = ev.Data.OldState.State
	}

	// Fire only on transitions into an active state.
	if !activeStates[newState] || activeStates[oldState] {
		return
	}

	l.log.Info().
		Str("entity_id", ev.Data.EntityID).
		Str("from", oldState).
		Str("to", newState).
		Msg("camera activity, triggering analysis")
	l.analyzer.Trigger(ev.Data.EntityID)
}

func (l *Listener) watched(entityID string) bool {
	for _, cam := range l.cameras.Cameras() {
		if cam == entityID {
			return true
		}
	}
	return false
}
