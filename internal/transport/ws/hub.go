package ws

import (
	"sync"

	"github.com/skillbridge/chat-service/internal/domain"
	"github.com/skillbridge/chat-service/internal/metrics"
)

type Conn interface {
	Send(msg Message) error
	Close() error
}

// Hub — единственный владелец членства комнат. Соединение может состоять
// в нескольких комнатах (по одной на собеседника), поэтому кроме прямого
// индекса держим обратный conn -> rooms для снятия на disconnect.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Conn]struct{} // roomKey -> set of connections
	conns map[Conn]map[string]struct{} // conn -> set of roomKeys
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[Conn]struct{}),
		conns: make(map[Conn]map[string]struct{}),
	}
}

func (h *Hub) Join(c Conn, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[roomKey]
	if !ok {
		rs = make(map[Conn]struct{})
		h.rooms[roomKey] = rs
	}
	rs[c] = struct{}{}

	cs, ok := h.conns[c]
	if !ok {
		cs = make(map[string]struct{})
		h.conns[c] = cs
	}
	cs[roomKey] = struct{}{}
}

// RemoveAll снимает соединение со всех комнат (disconnect).
func (h *Hub) RemoveAll(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomKey := range h.conns[c] {
		if rs, ok := h.rooms[roomKey]; ok {
			delete(rs, c)
			if len(rs) == 0 {
				delete(h.rooms, roomKey)
			}
		}
	}
	delete(h.conns, c)
}

// RoomSize — текущее число соединений в комнате.
func (h *Hub) RoomSize(roomKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[roomKey])
}

func (h *Hub) Broadcast(roomKey string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rs, ok := h.rooms[roomKey]; ok {
		for c := range rs {
			_ = c.Send(msg) // best-effort
			metrics.BroadcastsDelivered.Inc()
		}
	}
}

// BroadcastMessage / BroadcastTyping — service.Broadcaster поверх hub.

func (h *Hub) BroadcastMessage(roomKey string, msg *domain.Message) {
	h.Broadcast(roomKey, Message{Type: TypeNewMessage, Payload: msg})
}

func (h *Hub) BroadcastTyping(roomKey, userID string) {
	h.Broadcast(roomKey, Message{Type: TypeUserTyping, Payload: TypingPayload{UserID: userID}})
}
