package types

import "encoding/json"

// Inbound event names (client to server).
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventLeaveRoom   = "leave_room"
	EventStartTyping = "start_typing"
	EventStopTyping  = "stop_typing"
	EventGetRooms    = "get_rooms"
)

// Outbound event names (server to client).
const (
	EventRoomJoined      = "room_joined"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventRoomUsers       = "room_users"
	EventMessageReceived = "message_received"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventRoomList        = "room_list"
	EventError           = "error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket
// connection, in both directions. Data holds the per-event payload.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// The different payloads transferred from the client to here.

type JoinRoomRequest struct {
	RoomName string `json:"roomName" mapstructure:"roomName"`
	Username string `json:"username" mapstructure:"username"`
}

type SendMessageRequest struct {
	Content string `json:"content" mapstructure:"content"`
	Room    string `json:"room" mapstructure:"room"`
}

// TypingRequest is shared by start_typing and stop_typing.
type TypingRequest struct {
	Room string `json:"room" mapstructure:"room"`
}

// The different payloads sent back to clients.

// RoomJoined confirms a join to the originating connection only and carries
// the full current room state.
type RoomJoined struct {
	Room *Room `json:"room"`
	User *User `json:"user"`
}

// TypingNotice goes to everyone in the room except the signaling user.
type TypingNotice struct {
	Username string `json:"username"`
	UserId   string `json:"userId"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
