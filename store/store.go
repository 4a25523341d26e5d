// Package store owns the authoritative in-memory chat state: users, rooms,
// messages and per-room typing sets. It enforces all entity invariants and
// performs no I/O. Every operation validates before it mutates, and each call
// is atomic under the store lock.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/qchat/qchat/types"
)

const (
	minNameLen     = 2
	maxUsernameLen = 20
	maxRoomNameLen = 30
	maxMessageLen  = 500

	// DefaultMessageHistorySize bounds the per-room message retention.
	DefaultMessageHistorySize = 500
)

// Store is exclusively mutated by the hub's event loop. The lock exists for
// the read-only REST handlers, which query concurrently with the writer and
// must never observe a partially applied mutation.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*types.User
	rooms    map[string]*types.Room
	messages map[string]*types.Message
	typing   map[string]map[string]struct{} // room id -> set of user ids

	historySize int
}

func New() *Store {
	return NewWithHistorySize(DefaultMessageHistorySize)
}

// NewWithHistorySize creates a store keeping at most historySize messages per
// room; older messages are dropped as new ones arrive. A non-positive size
// falls back to the default.
func NewWithHistorySize(historySize int) *Store {
	if historySize <= 0 {
		historySize = DefaultMessageHistorySize
	}
	return &Store{
		users:       make(map[string]*types.User),
		rooms:       make(map[string]*types.Room),
		messages:    make(map[string]*types.Message),
		typing:      make(map[string]map[string]struct{}),
		historySize: historySize,
	}
}

// CreateUser sanitizes and validates the username and binds the new user to
// the given connection id. Usernames are unique case-insensitively.
func (s *Store) CreateUser(username, connId string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := Sanitize(username)
	if utf8.RuneCountInString(name) < minNameLen {
		return nil, &ValidationError{Reason: "Username must be at least 2 characters long"}
	}
	if utf8.RuneCountInString(name) > maxUsernameLen {
		return nil, &ValidationError{Reason: "Username must be less than 20 characters"}
	}
	lower := strings.ToLower(name)
	for _, u := range s.users {
		if strings.ToLower(u.Username) == lower {
			return nil, &ValidationError{Reason: "Username is already taken"}
		}
	}

	user := &types.User{
		Id:       uuid.NewString(),
		Username: name,
		ConnId:   connId,
		JoinedAt: time.Now(),
	}
	s.users[user.Id] = user
	return snapshotUser(user), nil
}

// CreateRoom sanitizes and validates the room name. Room names are unique
// case-insensitively.
func (s *Store) CreateRoom(roomName string) (*types.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := Sanitize(roomName)
	if utf8.RuneCountInString(name) < minNameLen {
		return nil, &ValidationError{Reason: "Room name must be at least 2 characters long"}
	}
	if utf8.RuneCountInString(name) > maxRoomNameLen {
		return nil, &ValidationError{Reason: "Room name must be less than 30 characters"}
	}
	lower := strings.ToLower(name)
	for _, r := range s.rooms {
		if strings.ToLower(r.Name) == lower {
			return nil, &ValidationError{Reason: "Room already exists"}
		}
	}

	now := time.Now()
	room := &types.Room{
		Id:           uuid.NewString(),
		Name:         name,
		Users:        make([]*types.User, 0),
		Messages:     make([]*types.Message, 0),
		CreatedAt:    now,
		LastActivity: now,
	}
	s.rooms[room.Id] = room
	return snapshotRoom(room), nil
}

// JoinRoom appends the user to the room's member list. A user currently in a
// different room leaves it first; joining the current room again is a no-op
// apart from the activity bump, so repeated joins never duplicate membership.
func (s *Store) JoinRoom(userId, roomId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.users[userId]
	room := s.rooms[roomId]
	if user == nil || room == nil {
		return &NotFoundError{Reason: "User or room not found"}
	}
	if user.CurrentRoom == roomId {
		room.LastActivity = time.Now()
		return nil
	}
	if user.CurrentRoom != "" {
		s.leaveRoomLocked(userId, user.CurrentRoom)
	}
	user.CurrentRoom = roomId
	room.Users = append(room.Users, user)
	room.LastActivity = time.Now()
	return nil
}

// LeaveRoom removes the user from the room. It is a no-op, not an error, if
// the user or room is unknown. An emptied room is deleted together with all
// of its messages.
func (s *Store) LeaveRoom(userId, roomId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveRoomLocked(userId, roomId)
}

func (s *Store) leaveRoomLocked(userId, roomId string) {
	user := s.users[userId]
	room := s.rooms[roomId]
	if user == nil || room == nil {
		return
	}

	members := room.Users[:0]
	for _, u := range room.Users {
		if u.Id != userId {
			members = append(members, u)
		}
	}
	room.Users = members
	user.CurrentRoom = ""
	s.removeTypingLocked(userId, roomId)

	if len(room.Users) == 0 {
		for _, msg := range room.Messages {
			delete(s.messages, msg.Id)
		}
		delete(s.rooms, roomId)
		delete(s.typing, roomId)
		return
	}
	room.LastActivity = time.Now()
}

// AddMessage validates and appends a message to the room. The caller is
// responsible for checking that the user is a member of the room.
func (s *Store) AddMessage(content, userId, roomId string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.users[userId]
	room := s.rooms[roomId]
	if user == nil || room == nil {
		return nil, &NotFoundError{Reason: "User or room not found"}
	}

	body := Sanitize(content)
	if body == "" {
		return nil, &ValidationError{Reason: "Message cannot be empty"}
	}
	if utf8.RuneCountInString(body) > maxMessageLen {
		return nil, &ValidationError{Reason: "Message must be less than 500 characters"}
	}

	msg := &types.Message{
		Id:        uuid.NewString(),
		Content:   body,
		Username:  user.Username,
		UserId:    user.Id,
		Room:      roomId,
		Timestamp: time.Now(),
	}
	s.messages[msg.Id] = msg
	room.Messages = append(room.Messages, msg)
	for len(room.Messages) > s.historySize {
		delete(s.messages, room.Messages[0].Id)
		room.Messages = room.Messages[1:]
	}
	room.LastActivity = time.Now()
	return msg, nil
}

// RoomMessages returns the most recent limit messages of the room in send
// order. A non-positive limit returns the full retained history, an unknown
// room id an empty slice.
func (s *Store) RoomMessages(roomId string, limit int) []*types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room := s.rooms[roomId]
	if room == nil {
		return []*types.Message{}
	}
	n := len(room.Messages)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*types.Message, limit)
	copy(out, room.Messages[n-limit:])
	return out
}

// AddTyping marks the user as typing in the room. It is idempotent and a
// no-op unless the user is currently a member of the room, so the typing set
// can never contain a non-member.
func (s *Store) AddTyping(userId, roomId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.users[userId]
	if user == nil || user.CurrentRoom != roomId {
		return
	}
	set := s.typing[roomId]
	if set == nil {
		set = make(map[string]struct{})
		s.typing[roomId] = set
	}
	set[userId] = struct{}{}
}

// RemoveTyping clears the user's typing entry for the room. Idempotent.
func (s *Store) RemoveTyping(userId, roomId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeTypingLocked(userId, roomId)
}

func (s *Store) removeTypingLocked(userId, roomId string) {
	set := s.typing[roomId]
	if set == nil {
		return
	}
	delete(set, userId)
	if len(set) == 0 {
		delete(s.typing, roomId)
	}
}

// TypingUsers returns the ids of the users currently typing in the room, in
// no particular order.
func (s *Store) TypingUsers(roomId string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.typing[roomId]))
	for userId := range s.typing[roomId] {
		out = append(out, userId)
	}
	return out
}

// RemoveUser deletes the user record entirely, leaving its current room
// first if it still holds a membership.
func (s *Store) RemoveUser(userId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.users[userId]
	if user == nil {
		return
	}
	if user.CurrentRoom != "" {
		s.leaveRoomLocked(userId, user.CurrentRoom)
	}
	delete(s.users, userId)
}

func (s *Store) GetUser(userId string) (*types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user := s.users[userId]
	if user == nil {
		return nil, false
	}
	return snapshotUser(user), true
}

// GetUserByConn resolves the identity currently bound to a connection id.
func (s *Store) GetUserByConn(connId string) (*types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.ConnId == connId {
			return snapshotUser(user), true
		}
	}
	return nil, false
}

func (s *Store) GetUserByName(username string) (*types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(username)
	for _, user := range s.users {
		if strings.ToLower(user.Username) == lower {
			return snapshotUser(user), true
		}
	}
	return nil, false
}

func (s *Store) GetRoom(roomId string) (*types.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room := s.rooms[roomId]
	if room == nil {
		return nil, false
	}
	return snapshotRoom(room), true
}

func (s *Store) GetRoomByName(roomName string) (*types.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(roomName)
	for _, room := range s.rooms {
		if strings.ToLower(room.Name) == lower {
			return snapshotRoom(room), true
		}
	}
	return nil, false
}

// AllUsers returns all connected users sorted by username.
func (s *Store) AllUsers() []*types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, snapshotUser(user))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// AllRooms returns all live rooms sorted by name.
func (s *Store) AllRooms() []*types.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, snapshotRoom(room))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns a read-only aggregate over the whole store.
func (s *Store) Stats() types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]types.RoomStats, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, types.RoomStats{
			Id:           room.Id,
			Name:         room.Name,
			UserCount:    len(room.Users),
			MessageCount: len(room.Messages),
			CreatedAt:    room.CreatedAt,
			LastActivity: room.LastActivity,
		})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return types.Stats{
		TotalRooms:    len(s.rooms),
		TotalUsers:    len(s.users),
		TotalMessages: len(s.messages),
		Rooms:         rooms,
	}
}

// The getters hand out copies, never pointers into the store, so REST reads
// can marshal them while the event loop keeps mutating.

func snapshotUser(u *types.User) *types.User {
	c := *u
	return &c
}

func snapshotRoom(r *types.Room) *types.Room {
	c := *r
	c.Users = make([]*types.User, len(r.Users))
	for i, u := range r.Users {
		c.Users[i] = snapshotUser(u)
	}
	c.Messages = make([]*types.Message, len(r.Messages))
	copy(c.Messages, r.Messages)
	return &c
}
