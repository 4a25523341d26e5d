// Package api exposes the read-only query surface over the store: aggregate
// stats, room summaries, recent messages and the user list. All handlers are
// pure reads, interleaving with the hub's writes is safe because every store
// operation is atomic.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/qchat/qchat/globals"
	"github.com/qchat/qchat/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

type handlers struct {
	store   *store.Store
	started time.Time
}

// Register mounts the query endpoints under /api on the given router and
// installs the JSON 404 handler for unmatched routes.
func Register(router *mux.Router, st *store.Store) {
	h := &handlers{store: st, started: time.Now()}

	r := router.PathPrefix("/api").Subrouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/", h.status).Methods(http.MethodGet)
	r.HandleFunc("", h.status).Methods(http.MethodGet)
	r.HandleFunc("/rooms", h.roomStats).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}", h.roomDetails).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}/messages", h.roomMessages).Methods(http.MethodGet)
	r.HandleFunc("/users", h.users).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(notFound)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Server is healthy",
		Data: map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(h.started).Seconds(),
		},
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "QChat Server is running",
		Data: map[string]interface{}{
			"name":      "QChat Server",
			"version":   "1.0.0",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"status":    "online",
		},
	})
}

func (h *handlers) roomStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.store.Stats()})
}

type userSummary struct {
	Id       string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

type roomDetails struct {
	Id           string        `json:"id"`
	Name         string        `json:"name"`
	UserCount    int           `json:"userCount"`
	MessageCount int           `json:"messageCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastActivity time.Time     `json:"lastActivity"`
	Users        []userSummary `json:"users"`
}

func (h *handlers) roomDetails(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]
	room, ok := h.store.GetRoom(roomId)
	if !ok {
		writeJSON(w, http.StatusNotFound, Response{Success: false, Error: "Room not found"})
		return
	}

	users := make([]userSummary, 0, len(room.Users))
	for _, u := range room.Users {
		users = append(users, userSummary{Id: u.Id, Username: u.Username, JoinedAt: u.JoinedAt})
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: roomDetails{
		Id:           room.Id,
		Name:         room.Name,
		UserCount:    len(room.Users),
		MessageCount: len(room.Messages),
		CreatedAt:    room.CreatedAt,
		LastActivity: room.LastActivity,
		Users:        users,
	}})
}

func (h *handlers) roomMessages(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]
	room, ok := h.store.GetRoom(roomId)
	if !ok {
		writeJSON(w, http.StatusNotFound, Response{Success: false, Error: "Room not found"})
		return
	}

	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"roomId":        roomId,
		"roomName":      room.Name,
		"messages":      h.store.RoomMessages(roomId, limit),
		"totalMessages": len(room.Messages),
	}})
}

type userEntry struct {
	Id          string    `json:"id"`
	Username    string    `json:"username"`
	CurrentRoom string    `json:"currentRoom,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

func (h *handlers) users(w http.ResponseWriter, r *http.Request) {
	all := h.store.AllUsers()
	users := make([]userEntry, 0, len(all))
	for _, u := range all {
		users = append(users, userEntry{Id: u.Id, Username: u.Username, CurrentRoom: u.CurrentRoom, JoinedAt: u.JoinedAt})
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"users":      users,
		"totalUsers": len(users),
	}})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, Response{Success: false, Error: "Endpoint not found"})
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		globals.AppLogger.Error("could not encode api response", "error", err)
	}
}
