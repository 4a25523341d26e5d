package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/qchat/qchat/globals"
	"github.com/qchat/qchat/types"
)

const (
	maxMessageSize  = 4096
	pongWait        = time.Minute
	pingPeriod      = (pongWait * 9) / 10
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is a middleman between one websocket connection and the hub. The
// connection id is the handle under which the hub binds the connection to a
// user identity.
type Client struct {
	hub *Hub

	conn   *websocket.Conn
	connId string

	// Buffered channel of outbound frames, written only by the hub loop.
	send chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		connId: uuid.NewString(),
		send:   make(chan []byte, sendChannelSize),
	}
}

// ReadLoop pumps messages from the websocket connection into the hub.
//
// The application runs ReadLoop in a per-connection goroutine; all reads on
// the connection happen here, so there is at most one reader.
func (c *Client) ReadLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				globals.AppLogger.Warn("websocket closed unexpectedly", "conn", c.connId, "error", err)
			}
			return
		}
		msg := &types.WebsocketMessage{}
		if err := json.Unmarshal(raw, msg); err != nil {
			globals.AppLogger.Warn("could not unmarshal ws message", "conn", c.connId, "error", err)
			continue
		}
		c.hub.inbound <- inboundEvent{client: c, msg: msg}
	}
}

// WriteLoop pumps frames from the hub to the websocket connection and keeps
// the connection alive with pings. At most one writer per connection.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel on unregister.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
