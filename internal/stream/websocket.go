package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = maxEventSize
)

// WebSocketSource reads snapshots from {wsBaseURL}/ws/games/{id}, one JSON
// snapshot per text message.
type WebSocketSource struct {
	dialer  *websocket.Dialer
	baseURL string
	token   string
}

func NewWebSocketSource(wsBaseURL, token string) *WebSocketSource {
	return &WebSocketSource{
		dialer:  websocket.DefaultDialer,
		baseURL: strings.TrimRight(wsBaseURL, "/"),
		token:   token,
	}
}

func (s *WebSocketSource) Name() string { return "websocket" }

func (s *WebSocketSource) Stream(ctx context.Context, gameID string, deliver func([]byte)) error {
	endpoint := fmt.Sprintf("%s/ws/games/%s", s.baseURL, url.PathEscape(gameID))

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial websocket: HTTP %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial websocket: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(ctx, conn, done)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Default().Warn("set read deadline", "error", err)
	}
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrStreamClosed
			}
			return fmt.Errorf("failed to read from websocket: %w", err)
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		deliver(message)
	}
}

// pingLoop keeps the connection alive and closes it when ctx is cancelled,
// which unblocks the reader.
func (s *WebSocketSource) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Default().Warn("Write websocket ping", "error", err)
				return
			}
		}
	}
}
