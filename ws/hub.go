// Package ws contains the session coordinator: it binds inbound connection
// events to store operations and fans the resulting deltas out to the
// affected connections.
package ws

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"

	"github.com/qchat/qchat/globals"
	"github.com/qchat/qchat/store"
	"github.com/qchat/qchat/types"
)

type inboundEvent struct {
	client *Client
	msg    *types.WebsocketMessage
}

// Hub serves all live connections and is the only writer to the store. All
// inbound events are processed to completion one at a time on the Run loop,
// so no handler ever observes a torn intermediate state and member-list
// broadcasts always reflect the store state after the triggering mutation.
type Hub struct {
	store *store.Store

	// Registered clients, and the connection id side table. Touched only by
	// the Run goroutine.
	clients map[*Client]struct{}
	byConn  map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent

	logger hclog.Logger
}

func NewHub(st *store.Store) *Hub {
	return &Hub{
		store:      st,
		clients:    make(map[*Client]struct{}),
		byConn:     make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		logger:     globals.AppLogger.Named("hub"),
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and hands it to
// the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade error", "error", err)
		return
	}
	c := NewClient(h, conn)
	h.register <- c
	go c.WriteLoop()
	go c.ReadLoop()
}

// Run is the hub event loop. Connection registration, disconnects and all
// chat events are serialized here.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case ev := <-h.inbound:
			h.dispatch(ev.client, ev.msg)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.clients[c] = struct{}{}
	h.byConn[c.connId] = c
	h.logger.Debug("client connected", "conn", c.connId)
}

// removeClient reconciles a terminated connection into the store and discards
// the client. Unregistering an unknown client is a no-op.
func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	delete(h.byConn, c.connId)
	h.handleDisconnect(c)
	close(c.send)
}

func (h *Hub) dispatch(c *Client, msg *types.WebsocketMessage) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panic", "event", msg.Event, "conn", c.connId, "panic", r)
			h.sendError(c, "internal server error")
		}
	}()

	switch msg.Event {
	case types.EventJoinRoom:
		var req types.JoinRoomRequest
		if !h.decode(c, msg.Data, &req) {
			return
		}
		h.handleJoinRoom(c, req)

	case types.EventSendMessage:
		var req types.SendMessageRequest
		if !h.decode(c, msg.Data, &req) {
			return
		}
		h.handleSendMessage(c, req)

	case types.EventLeaveRoom:
		h.handleLeaveRoom(c)

	case types.EventStartTyping:
		var req types.TypingRequest
		if !h.decode(c, msg.Data, &req) {
			return
		}
		h.handleTyping(c, req, true)

	case types.EventStopTyping:
		var req types.TypingRequest
		if !h.decode(c, msg.Data, &req) {
			return
		}
		h.handleTyping(c, req, false)

	case types.EventGetRooms:
		h.handleGetRooms(c)

	default:
		h.logger.Debug("ignoring unknown event", "event", msg.Event, "conn", c.connId)
	}
}

// decode coerces the raw payload into the typed shape for the event tag.
// Unknown shapes are rejected here, before they reach handler logic.
func (h *Hub) decode(c *Client, raw json.RawMessage, out interface{}) bool {
	payload := make(map[string]interface{})
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.sendError(c, "malformed event payload")
			return false
		}
	}
	if err := mapstructure.WeakDecode(payload, out); err != nil {
		h.sendError(c, "malformed event payload")
		return false
	}
	return true
}

func (h *Hub) handleJoinRoom(c *Client, req types.JoinRoomRequest) {
	// Reuse the identity already bound to this connection, if any.
	user, ok := h.store.GetUserByConn(c.connId)
	if !ok {
		var err error
		user, err = h.store.CreateUser(req.Username, c.connId)
		if err != nil {
			h.sendOpError(c, err, "Failed to join room")
			return
		}
	}

	room, ok := h.store.GetRoomByName(req.RoomName)
	if !ok {
		var err error
		room, err = h.store.CreateRoom(req.RoomName)
		if err != nil {
			h.sendOpError(c, err, "Failed to join room")
			return
		}
	}

	if err := h.store.JoinRoom(user.Id, room.Id); err != nil {
		h.sendOpError(c, err, "Failed to join room")
		return
	}

	room, _ = h.store.GetRoom(room.Id)
	user, _ = h.store.GetUser(user.Id)
	h.send(c, types.EventRoomJoined, types.RoomJoined{Room: room, User: user})
	h.broadcastRoom(room.Id, c, types.EventUserJoined, user)
	h.broadcastRoom(room.Id, nil, types.EventRoomUsers, room.Users)
	h.logger.Info("user joined room", "user", user.Username, "room", room.Name)
}

func (h *Hub) handleSendMessage(c *Client, req types.SendMessageRequest) {
	user, ok := h.store.GetUserByConn(c.connId)
	if !ok || user.CurrentRoom != req.Room {
		h.sendOpError(c, &store.AuthorizationError{Reason: "You are not in this room"}, "Failed to send message")
		return
	}

	// A sent message implies typing ended; the typing_stop must be observed
	// before the message broadcast.
	h.store.RemoveTyping(user.Id, req.Room)
	h.broadcastRoom(req.Room, c, types.EventTypingStop, types.TypingNotice{Username: user.Username, UserId: user.Id})

	msg, err := h.store.AddMessage(req.Content, user.Id, req.Room)
	if err != nil {
		h.sendOpError(c, err, "Failed to send message")
		return
	}
	h.broadcastRoom(req.Room, nil, types.EventMessageReceived, msg)
	h.logger.Debug("message sent", "user", user.Username, "room", req.Room)
}

func (h *Hub) handleLeaveRoom(c *Client) {
	user, ok := h.store.GetUserByConn(c.connId)
	if !ok || user.CurrentRoom == "" {
		return
	}
	roomId := user.CurrentRoom

	h.store.RemoveTyping(user.Id, roomId)
	h.store.LeaveRoom(user.Id, roomId)
	if left, ok := h.store.GetUser(user.Id); ok {
		user = left
	}

	// No notification if the room was just emptied out of existence.
	if room, ok := h.store.GetRoom(roomId); ok {
		h.broadcastRoom(roomId, nil, types.EventUserLeft, user)
		h.broadcastRoom(roomId, nil, types.EventRoomUsers, room.Users)
	}
	h.logger.Info("user left room", "user", user.Username, "room", roomId)
}

func (h *Hub) handleTyping(c *Client, req types.TypingRequest, start bool) {
	user, ok := h.store.GetUserByConn(c.connId)
	if !ok || user.CurrentRoom != req.Room {
		return
	}
	event := types.EventTypingStart
	if start {
		h.store.AddTyping(user.Id, req.Room)
	} else {
		h.store.RemoveTyping(user.Id, req.Room)
		event = types.EventTypingStop
	}
	h.broadcastRoom(req.Room, c, event, types.TypingNotice{Username: user.Username, UserId: user.Id})
}

func (h *Hub) handleGetRooms(c *Client) {
	h.send(c, types.EventRoomList, h.store.AllRooms())
}

func (h *Hub) handleDisconnect(c *Client) {
	user, ok := h.store.GetUserByConn(c.connId)
	if !ok {
		// A connection that never joined has nothing to reconcile.
		return
	}
	roomId := user.CurrentRoom
	h.store.RemoveUser(user.Id)

	if roomId != "" {
		if room, ok := h.store.GetRoom(roomId); ok {
			h.broadcastRoom(roomId, nil, types.EventUserLeft, user)
			h.broadcastRoom(roomId, nil, types.EventRoomUsers, room.Users)
		}
	}
	h.logger.Info("user disconnected", "user", user.Username)
}

// send delivers one event to a single client. Fan-out is best-effort: a full
// send buffer drops the frame for that client instead of blocking the loop.
func (h *Hub) send(c *Client, event string, payload interface{}) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		h.logger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.push(c, event, frame)
}

// broadcastRoom delivers one event to every member of the room, optionally
// excluding the originating connection.
func (h *Hub) broadcastRoom(roomId string, exclude *Client, event string, payload interface{}) {
	room, ok := h.store.GetRoom(roomId)
	if !ok {
		return
	}
	frame, err := marshalFrame(event, payload)
	if err != nil {
		h.logger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	for _, u := range room.Users {
		c, ok := h.byConn[u.ConnId]
		if !ok || c == exclude {
			continue
		}
		h.push(c, event, frame)
	}
}

func (h *Hub) push(c *Client, event string, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("send buffer full, dropping frame", "event", event, "conn", c.connId)
	}
}

func (h *Hub) sendError(c *Client, message string) {
	h.send(c, types.EventError, types.ErrorMessage{Message: message})
}

// sendOpError converts a store error into an error event for the originating
// connection. Unclassified errors are reported with the generic fallback.
func (h *Hub) sendOpError(c *Client, err error, fallback string) {
	var (
		validation *store.ValidationError
		notFound   *store.NotFoundError
		authz      *store.AuthorizationError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &notFound), errors.As(err, &authz):
		h.sendError(c, err.Error())
	default:
		h.logger.Error("unexpected handler error", "conn", c.connId, "error", err)
		h.sendError(c, fallback)
	}
}

func marshalFrame(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.WebsocketMessage{Event: event, Data: data})
}
