package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/skillbridge/chat-service/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// stubSvc повторяет контракт воронки: persist (здесь — назначение id) и
// broadcast в hub; ошибка — без broadcast.
type stubSvc struct {
	hub  *Hub
	fail error
}

func (s *stubSvc) Publish(_ context.Context, fromUser, toUser, body string, fileURL *string) (*domain.Message, error) {
	fromUser = strings.TrimSpace(fromUser)
	toUser = strings.TrimSpace(toUser)
	if fromUser == "" || toUser == "" {
		return nil, domain.ErrMissingParticipant
	}
	if s.fail != nil {
		return nil, s.fail
	}
	msg := &domain.Message{
		ID:        uuid.NewString(),
		FromUser:  fromUser,
		ToUser:    toUser,
		Body:      body,
		FileURL:   fileURL,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.hub.BroadcastMessage(domain.RoomKey(fromUser, toUser), msg)
	return msg, nil
}

func (s *stubSvc) Typing(userID, peerID string) {
	if userID == "" || peerID == "" {
		return
	}
	s.hub.BroadcastTyping(domain.RoomKey(userID, peerID), userID)
}

type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T, fail error) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	srv := NewServer(hub, &stubSvc{hub: hub, fail: fail})
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return ts, hub
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(Message{Type: typ, Payload: payload}); err != nil {
		t.Fatalf("emit %s: %v", typ, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func waitRoomSize(t *testing.T, hub *Hub, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.RoomSize(room) != n {
		if time.Now().After(deadline) {
			t.Fatalf("room %s never reached %d members", room, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSendMessage_BroadcastToBothAndAckToSender(t *testing.T) {
	ts, hub := newTestServer(t, nil)
	room := domain.RoomKey("1", "2")

	alice := dial(t, ts)
	bob := dial(t, ts)
	emit(t, alice, TypeJoinRoom, JoinRoomPayload{UserID: "1", PeerID: "2"})
	emit(t, bob, TypeJoinRoom, JoinRoomPayload{UserID: "2", PeerID: "1"})
	waitRoomSize(t, hub, room, 2)

	corr := uuid.NewString()
	emit(t, alice, TypeSendMessage, SendMessagePayload{FromUser: "1", ToUser: "2", Body: "hi", CorrelationID: corr})

	// отправитель: newMessage + messageSaved, порядок не гарантирован
	var sawBroadcast, sawAck bool
	for i := 0; i < 2; i++ {
		env := readEnvelope(t, alice)
		switch env.Type {
		case TypeNewMessage:
			var msg domain.Message
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				t.Fatal(err)
			}
			if msg.ID == "" || msg.Body != "hi" || msg.FromUser != "1" || msg.ToUser != "2" {
				t.Fatalf("bad broadcast record: %+v", msg)
			}
			if msg.CreatedAt.IsZero() {
				t.Fatal("broadcast must carry server createdAt")
			}
			sawBroadcast = true
		case TypeMessageSaved:
			var ack MessageSavedPayload
			if err := json.Unmarshal(env.Payload, &ack); err != nil {
				t.Fatal(err)
			}
			if ack.CorrelationID != corr || ack.Message == nil || ack.Message.ID == "" {
				t.Fatalf("bad ack: %+v", ack)
			}
			sawAck = true
		default:
			t.Fatalf("unexpected event %s", env.Type)
		}
	}
	if !sawBroadcast || !sawAck {
		t.Fatal("sender must observe both the broadcast and the ack")
	}

	// получатель: ровно broadcast, без ACK
	env := readEnvelope(t, bob)
	if env.Type != TypeNewMessage {
		t.Fatalf("peer expected newMessage, got %s", env.Type)
	}
}

func TestSendMessage_StoreFailureYieldsMessageFailed(t *testing.T) {
	ts, hub := newTestServer(t, errors.New("db down"))
	room := domain.RoomKey("1", "2")

	alice := dial(t, ts)
	bob := dial(t, ts)
	emit(t, alice, TypeJoinRoom, JoinRoomPayload{UserID: "1", PeerID: "2"})
	emit(t, bob, TypeJoinRoom, JoinRoomPayload{UserID: "2", PeerID: "1"})
	waitRoomSize(t, hub, room, 2)

	corr := uuid.NewString()
	emit(t, alice, TypeSendMessage, SendMessagePayload{FromUser: "1", ToUser: "2", Body: "hi", CorrelationID: corr})

	env := readEnvelope(t, alice)
	if env.Type != TypeMessageFailed {
		t.Fatalf("expected messageFailed, got %s", env.Type)
	}
	var fail MessageFailedPayload
	if err := json.Unmarshal(env.Payload, &fail); err != nil {
		t.Fatal(err)
	}
	if fail.CorrelationID != corr || fail.Error == "" {
		t.Fatalf("bad failure payload: %+v", fail)
	}

	// у получателя тишина
	_ = bob.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env2 wsEnvelope
	if err := bob.ReadJSON(&env2); err == nil {
		t.Fatalf("peer must not receive anything on failed persist, got %s", env2.Type)
	}
}

func TestJoinRoom_MissingIDsIsNoOp(t *testing.T) {
	ts, hub := newTestServer(t, nil)

	alice := dial(t, ts)
	emit(t, alice, TypeJoinRoom, JoinRoomPayload{UserID: "1"})

	// соединение живо и join не произошёл
	time.Sleep(50 * time.Millisecond)
	if hub.RoomSize(domain.RoomKey("1", "")) != 0 {
		t.Fatal("join without peerId must be ignored")
	}
	emit(t, alice, TypeJoinRoom, JoinRoomPayload{UserID: "1", PeerID: "2"})
	waitRoomSize(t, hub, domain.RoomKey("1", "2"), 1)
}

func TestUserTyping_RelayedToRoom(t *testing.T) {
	ts, hub := newTestServer(t, nil)
	room := domain.RoomKey("1", "2")

	alice := dial(t, ts)
	bob := dial(t, ts)
	emit(t, alice, TypeJoinRoom, JoinRoomPayload{UserID: "1", PeerID: "2"})
	emit(t, bob, TypeJoinRoom, JoinRoomPayload{UserID: "2", PeerID: "1"})
	waitRoomSize(t, hub, room, 2)

	emit(t, alice, TypeUserTyping, TypingPayload{UserID: "1", PeerID: "2"})

	env := readEnvelope(t, bob)
	if env.Type != TypeUserTyping {
		t.Fatalf("expected userTyping, got %s", env.Type)
	}
	var p TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "1" {
		t.Fatalf("typing event must carry userId, got %+v", p)
	}
	if p.PeerID != "" {
		t.Fatal("outbound typing payload carries only userId")
	}
}

func TestDisconnect_RemovesMembership(t *testing.T) {
	ts, hub := newTestServer(t, nil)
	room := domain.RoomKey("1", "2")

	alice := dial(t, ts)
	emit(t, alice, TypeJoinRoom, JoinRoomPayload{UserID: "1", PeerID: "2"})
	waitRoomSize(t, hub, room, 1)

	_ = alice.Close()
	waitRoomSize(t, hub, room, 0)
}
