package ws

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qchat/qchat/store"
	"github.com/qchat/qchat/types"
)

// The tests drive the hub the way Run does, one event at a time, but without
// websocket connections: clients get a buffered send channel and no conn.

func newTestHub() *Hub {
	return NewHub(store.New())
}

var testConnSeq int

func newTestClient(h *Hub) *Client {
	testConnSeq++
	c := &Client{
		hub:    h,
		connId: fmt.Sprintf("test-conn-%d", testConnSeq),
		send:   make(chan []byte, sendChannelSize),
	}
	h.addClient(c)
	return c
}

// frames drains and decodes everything queued on the client's send channel.
func frames(t *testing.T, c *Client) []types.WebsocketMessage {
	t.Helper()
	out := make([]types.WebsocketMessage, 0)
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var msg types.WebsocketMessage
			require.NoError(t, json.Unmarshal(raw, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func eventNames(msgs []types.WebsocketMessage) []string {
	names := make([]string, len(msgs))
	for i, m := range msgs {
		names[i] = m.Event
	}
	return names
}

func joinRoom(h *Hub, c *Client, roomName, username string) {
	data, _ := json.Marshal(types.JoinRoomRequest{RoomName: roomName, Username: username})
	h.dispatch(c, &types.WebsocketMessage{Event: types.EventJoinRoom, Data: data})
}

func sendMessage(h *Hub, c *Client, roomId, content string) {
	data, _ := json.Marshal(types.SendMessageRequest{Content: content, Room: roomId})
	h.dispatch(c, &types.WebsocketMessage{Event: types.EventSendMessage, Data: data})
}

func typing(h *Hub, c *Client, event, roomId string) {
	data, _ := json.Marshal(types.TypingRequest{Room: roomId})
	h.dispatch(c, &types.WebsocketMessage{Event: event, Data: data})
}

func TestJoinRoomCreatesRoomAndUser(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	joinRoom(h, c, "general", "bob")

	got := frames(t, c)
	require.Equal(t, []string{types.EventRoomJoined, types.EventRoomUsers}, eventNames(got))

	var joined types.RoomJoined
	require.NoError(t, json.Unmarshal(got[0].Data, &joined))
	assert.Equal(t, "general", joined.Room.Name)
	assert.Equal(t, "bob", joined.User.Username)
	assert.Len(t, joined.Room.Users, 1)
	assert.Empty(t, joined.Room.Messages)
	assert.Equal(t, joined.Room.Id, joined.User.CurrentRoom)
}

func TestJoinRoomNotifiesExistingMembers(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)
	carol := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	frames(t, bob)

	joinRoom(h, carol, "general", "carol")

	bobGot := frames(t, bob)
	require.Equal(t, []string{types.EventUserJoined, types.EventRoomUsers}, eventNames(bobGot))
	var joinedUser types.User
	require.NoError(t, json.Unmarshal(bobGot[0].Data, &joinedUser))
	assert.Equal(t, "carol", joinedUser.Username)

	var members []types.User
	require.NoError(t, json.Unmarshal(bobGot[1].Data, &members))
	assert.Len(t, members, 2)

	carolGot := frames(t, carol)
	require.Equal(t, []string{types.EventRoomJoined, types.EventRoomUsers}, eventNames(carolGot))
}

func TestJoinRoomValidationError(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	joinRoom(h, c, "general", "x")

	got := frames(t, c)
	require.Equal(t, []string{types.EventError}, eventNames(got))
	var errMsg types.ErrorMessage
	require.NoError(t, json.Unmarshal(got[0].Data, &errMsg))
	assert.Equal(t, "Username must be at least 2 characters long", errMsg.Message)
}

func TestJoinRoomDuplicateUsername(t *testing.T) {
	h := newTestHub()
	first := newTestClient(h)
	second := newTestClient(h)

	joinRoom(h, first, "general", "Alice")
	frames(t, first)

	joinRoom(h, second, "other", "alice")

	got := frames(t, second)
	require.Equal(t, []string{types.EventError}, eventNames(got))
	var errMsg types.ErrorMessage
	require.NoError(t, json.Unmarshal(got[0].Data, &errMsg))
	assert.Equal(t, "Username is already taken", errMsg.Message)
}

func TestJoinRoomReusesIdentity(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	joinRoom(h, c, "first", "bob")
	frames(t, c)
	joinRoom(h, c, "second", "bob")

	got := frames(t, c)
	require.Equal(t, []string{types.EventRoomJoined, types.EventRoomUsers}, eventNames(got))

	user, ok := h.store.GetUserByName("bob")
	require.True(t, ok)
	room, ok := h.store.GetRoomByName("second")
	require.True(t, ok)
	assert.Equal(t, room.Id, user.CurrentRoom)
	// the emptied first room is gone
	_, ok = h.store.GetRoomByName("first")
	assert.False(t, ok)
}

func TestSendMessageBroadcastsToRoom(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)
	carol := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	joinRoom(h, carol, "general", "carol")
	room, ok := h.store.GetRoomByName("general")
	require.True(t, ok)
	frames(t, bob)
	frames(t, carol)

	sendMessage(h, bob, room.Id, "hi")

	bobGot := frames(t, bob)
	require.Equal(t, []string{types.EventMessageReceived}, eventNames(bobGot))
	var msg types.Message
	require.NoError(t, json.Unmarshal(bobGot[0].Data, &msg))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "bob", msg.Username)

	// a sent message always implies a typing_stop for the rest of the room
	carolGot := frames(t, carol)
	require.Equal(t, []string{types.EventTypingStop, types.EventMessageReceived}, eventNames(carolGot))
}

func TestTypingStopPrecedesMessage(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)
	carol := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	joinRoom(h, carol, "general", "carol")
	room, _ := h.store.GetRoomByName("general")
	frames(t, bob)
	frames(t, carol)

	typing(h, bob, types.EventStartTyping, room.Id)
	sendMessage(h, bob, room.Id, "hi")

	carolGot := frames(t, carol)
	require.Equal(t,
		[]string{types.EventTypingStart, types.EventTypingStop, types.EventMessageReceived},
		eventNames(carolGot))
	assert.Empty(t, h.store.TypingUsers(room.Id))

	// the typing signals never go back to the originator
	bobGot := frames(t, bob)
	require.Equal(t, []string{types.EventMessageReceived}, eventNames(bobGot))
}

func TestSendMessageNotInRoom(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)
	stranger := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	room, _ := h.store.GetRoomByName("general")
	frames(t, bob)

	sendMessage(h, stranger, room.Id, "hi")

	got := frames(t, stranger)
	require.Equal(t, []string{types.EventError}, eventNames(got))
	var errMsg types.ErrorMessage
	require.NoError(t, json.Unmarshal(got[0].Data, &errMsg))
	assert.Equal(t, "You are not in this room", errMsg.Message)

	// no mutation took place
	assert.Empty(t, h.store.RoomMessages(room.Id, 0))
	assert.Empty(t, frames(t, bob))
}

func TestTypingIgnoredOutsideRoom(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)
	stranger := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	room, _ := h.store.GetRoomByName("general")
	frames(t, bob)

	typing(h, stranger, types.EventStartTyping, room.Id)

	assert.Empty(t, h.store.TypingUsers(room.Id))
	assert.Empty(t, frames(t, stranger))
	assert.Empty(t, frames(t, bob))
}

func TestLeaveRoomNotifiesRemaining(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)
	carol := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	joinRoom(h, carol, "general", "carol")
	room, _ := h.store.GetRoomByName("general")
	frames(t, bob)
	frames(t, carol)

	h.dispatch(carol, &types.WebsocketMessage{Event: types.EventLeaveRoom})

	bobGot := frames(t, bob)
	require.Equal(t, []string{types.EventUserLeft, types.EventRoomUsers}, eventNames(bobGot))
	var left types.User
	require.NoError(t, json.Unmarshal(bobGot[0].Data, &left))
	assert.Equal(t, "carol", left.Username)
	var members []types.User
	require.NoError(t, json.Unmarshal(bobGot[1].Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].Username)

	// the departing user gets no room notifications
	assert.Empty(t, frames(t, carol))

	got, ok := h.store.GetRoom(room.Id)
	require.True(t, ok)
	assert.Len(t, got.Users, 1)
}

func TestLastLeaveDeletesRoomSilently(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	room, _ := h.store.GetRoomByName("general")
	frames(t, bob)

	h.dispatch(bob, &types.WebsocketMessage{Event: types.EventLeaveRoom})

	assert.Empty(t, frames(t, bob))
	_, ok := h.store.GetRoom(room.Id)
	assert.False(t, ok)
}

func TestDisconnectReconcilesState(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)
	carol := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	joinRoom(h, carol, "general", "carol")
	room, _ := h.store.GetRoomByName("general")
	typing(h, carol, types.EventStartTyping, room.Id)
	frames(t, bob)
	frames(t, carol)

	carolUser, ok := h.store.GetUserByConn(carol.connId)
	require.True(t, ok)

	h.removeClient(carol)

	bobGot := frames(t, bob)
	require.Equal(t, []string{types.EventUserLeft, types.EventRoomUsers}, eventNames(bobGot))
	var members []types.User
	require.NoError(t, json.Unmarshal(bobGot[1].Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].Username)

	_, ok = h.store.GetUser(carolUser.Id)
	assert.False(t, ok)
	_, ok = h.store.GetUserByConn(carol.connId)
	assert.False(t, ok)
	assert.Empty(t, h.store.TypingUsers(room.Id))

	// idempotent: a second unregister of the same client is a no-op
	h.removeClient(carol)
}

func TestDisconnectAnonymousConnection(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	h.removeClient(c)

	assert.Equal(t, 0, h.store.Stats().TotalUsers)
}

func TestGetRooms(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)
	anon := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	frames(t, bob)

	h.dispatch(anon, &types.WebsocketMessage{Event: types.EventGetRooms})

	got := frames(t, anon)
	require.Equal(t, []string{types.EventRoomList}, eventNames(got))
	var rooms []types.Room
	require.NoError(t, json.Unmarshal(got[0].Data, &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Name)

	// a pure read, nothing goes to other connections
	assert.Empty(t, frames(t, bob))
}

func TestUnknownEventIgnored(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	h.dispatch(c, &types.WebsocketMessage{Event: "no_such_event"})

	assert.Empty(t, frames(t, c))
}

func TestMalformedPayloadRejected(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	h.dispatch(c, &types.WebsocketMessage{Event: types.EventSendMessage, Data: json.RawMessage(`"not an object"`)})

	got := frames(t, c)
	require.Equal(t, []string{types.EventError}, eventNames(got))
	var errMsg types.ErrorMessage
	require.NoError(t, json.Unmarshal(got[0].Data, &errMsg))
	assert.Equal(t, "malformed event payload", errMsg.Message)
}

// Full walkthrough: join, second join, message, disconnect.
func TestRoomLifecycleScenario(t *testing.T) {
	h := newTestHub()
	bob := newTestClient(h)
	carol := newTestClient(h)

	joinRoom(h, bob, "general", "bob")
	bobGot := frames(t, bob)
	require.Equal(t, []string{types.EventRoomJoined, types.EventRoomUsers}, eventNames(bobGot))
	var joined types.RoomJoined
	require.NoError(t, json.Unmarshal(bobGot[0].Data, &joined))
	assert.Len(t, joined.Room.Users, 1)
	assert.Empty(t, joined.Room.Messages)

	joinRoom(h, carol, "general", "carol")
	require.Equal(t, []string{types.EventUserJoined, types.EventRoomUsers}, eventNames(frames(t, bob)))
	require.Equal(t, []string{types.EventRoomJoined, types.EventRoomUsers}, eventNames(frames(t, carol)))

	sendMessage(h, bob, joined.Room.Id, "hi")
	var msg types.Message
	bobGot = frames(t, bob)
	require.Equal(t, []string{types.EventMessageReceived}, eventNames(bobGot))
	require.NoError(t, json.Unmarshal(bobGot[0].Data, &msg))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "bob", msg.Username)
	require.Equal(t, []string{types.EventTypingStop, types.EventMessageReceived}, eventNames(frames(t, carol)))

	h.removeClient(carol)
	bobGot = frames(t, bob)
	require.Equal(t, []string{types.EventUserLeft, types.EventRoomUsers}, eventNames(bobGot))

	room, ok := h.store.GetRoom(joined.Room.Id)
	require.True(t, ok)
	assert.Len(t, room.Users, 1)
	assert.Len(t, room.Messages, 1)
}
