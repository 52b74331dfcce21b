package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn // Websocket connection
	send   chan []byte     // Buffered channel of outbound bytes
	id     string
	userID string // Authenticated user ID for logs, empty for anonymous viewers
}

func newClient(conn *websocket.Conn, hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		id:     uuid.New().String(),
		userID: userID,
	}
}

func (c *Client) disconnect() {
	// the hub closes the send channel
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
}

// readPump pumps events from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer c.disconnect()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Warn("Failed to set read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Websocket unexpected close", "client_id", c.id, "error", err)
			}
			return
		}
		if err = c.processEvents(message); err != nil {
			c.hub.logger.Warn("Failed to process websocket message", "client_id", c.id, "error", err)
			c.sendError("", err.Error())
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("Failed to write websocket message", "client_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket", "error", err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	client := newClient(conn, h, userID)

	select {
	case h.register <- client:
	case <-h.done:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}

func (c *Client) processEvents(rawMessage []byte) error {
	var baseMessage base
	if err := json.Unmarshal(rawMessage, &baseMessage); err != nil {
		return err
	}

	if baseMessage.Action == "" {
		return errors.New("message has no action")
	}

	switch baseMessage.Action {

	case actionBuyIn:
		var change playerChange
		if err := json.Unmarshal(rawMessage, &change); err != nil {
			return err
		}
		handleBuyIn(c, change)
		return nil

	case actionCashOut:
		var change playerChange
		if err := json.Unmarshal(rawMessage, &change); err != nil {
			return err
		}
		handleCashOut(c, change)
		return nil

	case actionCompleteGame:
		handleCompleteGame(c)
		return nil

	case actionGetGame:
		handleGetGame(c)
		return nil

	default:
		return errors.New("unexpected message action")
	}
}
