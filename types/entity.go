package types

import "time"

// User is one connected participant. ConnId identifies the websocket
// connection the user is currently bound to; it never leaves the server.
type User struct {
	Id          string    `json:"id"`
	Username    string    `json:"username"`
	CurrentRoom string    `json:"currentRoom,omitempty"`
	ConnId      string    `json:"-"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Room is a named chat channel. Users and Messages are kept in join
// resp. send order.
type Room struct {
	Id           string     `json:"id"`
	Name         string     `json:"name"`
	Users        []*User    `json:"users"`
	Messages     []*Message `json:"messages"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivity"`
}

// Message is one chat utterance. Username is captured at send time and stays
// as-is even if the sender is gone by the time the message is read.
type Message struct {
	Id        string    `json:"id"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	UserId    string    `json:"userId"`
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomStats is the per-room part of the stats aggregate.
type RoomStats struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	UserCount    int       `json:"userCount"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

type Stats struct {
	TotalRooms    int         `json:"totalRooms"`
	TotalUsers    int         `json:"totalUsers"`
	TotalMessages int         `json:"totalMessages"`
	Rooms         []RoomStats `json:"rooms"`
}
