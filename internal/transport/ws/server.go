package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/skillbridge/chat-service/internal/domain"
	"github.com/skillbridge/chat-service/internal/metrics"

	"github.com/gorilla/websocket"
)

type ChatSvc interface {
	Publish(ctx context.Context, fromUser, toUser, body string, fileURL *string) (*domain.Message, error)
	Typing(userID, peerID string)
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	chatSvc  ChatSvc

	pingEvery time.Duration
}

func NewServer(hub *Hub, chat ChatSvc) *Server {
	return &Server{
		hub:     hub,
		chatSvc: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /ws
// Комнаты назначаются событием joinRoom, не URL-ом: одно соединение
// обслуживает все открытые переписки клиента.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn)
	metrics.WSConnections.Inc()

	go s.writeLoop(r.Context(), c)
	s.readLoop(r.Context(), c)

	s.hub.RemoveAll(c)
	metrics.WSConnections.Dec()

	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "err", err)
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case TypeJoinRoom:
			var p JoinRoomPayload
			if decode(msg.Payload, &p) != nil {
				continue
			}
			// клиентская ошибка: не падаем, логируем и игнорируем
			if p.UserID == "" || p.PeerID == "" {
				slog.Debug("ws join ignored: missing ids", "userId", p.UserID, "peerId", p.PeerID)
				continue
			}
			s.hub.Join(c, domain.RoomKey(p.UserID, p.PeerID))

		case TypeSendMessage:
			var p SendMessagePayload
			if decode(msg.Payload, &p) != nil {
				continue
			}
			s.handleSend(ctx, c, p)

		case TypeUserTyping:
			var p TypingPayload
			if decode(msg.Payload, &p) == nil {
				s.chatSvc.Typing(p.UserID, p.PeerID)
			}

		case TypeNewMessage:
			// легаси-дорассылка файловых сообщений с клиента;
			// сервер теперь рассылает сам при создании

		default:
			// ignore
		}
	}
}

// handleSend — persist+notify+broadcast через общую воронку, затем ACK
// только отправившему соединению. Нет request/response контракта, поэтому
// ошибка сохранения уходит как messageFailed, broadcast не происходит.
func (s *Server) handleSend(ctx context.Context, c *wsConn, p SendMessagePayload) {
	msg, err := s.chatSvc.Publish(ctx, p.FromUser, p.ToUser, p.Body, nil)
	if err != nil {
		slog.Warn("ws send failed", "fromUser", p.FromUser, "toUser", p.ToUser, "err", err)
		_ = c.Send(Message{
			Type:    TypeMessageFailed,
			Payload: MessageFailedPayload{CorrelationID: p.CorrelationID, Error: publicError(err)},
		})
		return
	}

	_ = c.Send(Message{
		Type:    TypeMessageSaved,
		Payload: MessageSavedPayload{CorrelationID: p.CorrelationID, Message: msg},
	})
}

func publicError(err error) string {
	if errors.Is(err, domain.ErrMissingParticipant) {
		return domain.ErrMissingParticipant.Error()
	}
	return "message not saved"
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// --- helpers ---

func decode(payload interface{}, dst interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}

type wsConn struct {
	conn   *websocket.Conn
	sendMu chan struct{}
	closed chan struct{}
}

func newWsConn(c *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   c,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	return c.conn.Close()
}
