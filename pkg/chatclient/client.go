// Package chatclient — клиентская сессия мессенджера: соединение с
// переподключением, локальное состояние переписок, дедупликация входящих.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skillbridge/chat-service/internal/domain"
	"github.com/skillbridge/chat-service/internal/transport/ws"

	"github.com/gorilla/websocket"
)

var (
	ErrEmptyMessage    = errors.New("empty message")
	ErrMissingUser     = errors.New("missing user id")
	ErrNotConnected    = errors.New("not connected")
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
)

type Options struct {
	BaseURL string // http(s)://host — API, /uploads и /ws
	UserID  string

	// регистрация push-токена живёт в profile-service;
	// пусто — тот же BaseURL
	ProfileURL string

	ReconnectAttempts int           // default 5
	ReconnectDelay    time.Duration // default 1s
}

type Client struct {
	opts    Options
	httpc   *http.Client
	uploadc *http.Client

	// OnError получает ошибки вне вызовов (разрыв, неудачный reconnect,
	// messageFailed без известной переписки)
	OnError func(error)

	mu     sync.Mutex
	conn   *websocket.Conn
	convs  map[string]*Conversation // roomKey -> conversation
	closed bool
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.UserID) == "" {
		return nil, ErrMissingUser
	}
	if opts.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.ProfileURL == "" {
		opts.ProfileURL = opts.BaseURL
	}
	opts.ProfileURL = strings.TrimRight(opts.ProfileURL, "/")
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}

	return &Client{
		opts:    opts,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		uploadc: &http.Client{Timeout: 30 * time.Second},
		convs:   make(map[string]*Conversation),
	}, nil
}

func (c *Client) wsURL() string {
	return "ws" + strings.TrimPrefix(c.opts.BaseURL, "http") + "/ws"
}

// Connect устанавливает соединение и запускает приём. Комнаты открытых
// переписок переподтверждаются (join не персистентен на сервере).
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL(), err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	c.rejoinAll()

	go c.readPump()
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) emit(msg ws.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *Client) rejoinAll() {
	c.mu.Lock()
	convs := make([]*Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		convs = append(convs, conv)
	}
	c.mu.Unlock()

	for _, conv := range convs {
		_ = c.emit(ws.Message{
			Type:    ws.TypeJoinRoom,
			Payload: ws.JoinRoomPayload{UserID: c.opts.UserID, PeerID: conv.peerID},
		})
	}
}

// Conversation открывает (или возвращает) переписку с собеседником
// и входит в её комнату.
func (c *Client) Conversation(peerID string) *Conversation {
	roomKey := domain.RoomKey(c.opts.UserID, peerID)

	c.mu.Lock()
	conv, ok := c.convs[roomKey]
	if !ok {
		conv = newConversation(c, peerID, roomKey)
		c.convs[roomKey] = conv
	}
	c.mu.Unlock()

	if !ok {
		_ = c.emit(ws.Message{
			Type:    ws.TypeJoinRoom,
			Payload: ws.JoinRoomPayload{UserID: c.opts.UserID, PeerID: peerID},
		})
	}
	return conv
}

func (c *Client) conversationByRoom(roomKey string) *Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convs[roomKey]
}

func (c *Client) readPump() {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if c.reconnect() {
				continue
			}
			c.fireError(ErrReconnectFailed)
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// reconnect — ограниченное число попыток с фиксированной паузой;
// после успеха комнаты нужно входить заново.
func (c *Client) reconnect() bool {
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		if c.isClosed() {
			return false
		}
		time.Sleep(c.opts.ReconnectDelay)

		conn, _, err := websocket.DefaultDialer.Dial(c.wsURL(), nil)
		if err != nil {
			slog.Debug("chatclient: reconnect failed", "attempt", attempt, "err", err)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.rejoinAll()
		return true
	}
	return false
}

type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Client) dispatch(env wsEnvelope) {
	switch env.Type {
	case ws.TypeNewMessage:
		var msg domain.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return
		}
		if conv := c.conversationByRoom(domain.RoomKey(msg.FromUser, msg.ToUser)); conv != nil {
			conv.OnIncoming(msg)
		}

	case ws.TypeMessageSaved:
		var p ws.MessageSavedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Message == nil {
			return
		}
		roomKey := domain.RoomKey(p.Message.FromUser, p.Message.ToUser)
		if conv := c.conversationByRoom(roomKey); conv != nil {
			conv.confirm(p.CorrelationID, *p.Message)
		}

	case ws.TypeMessageFailed:
		var p ws.MessageFailedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		err := fmt.Errorf("send failed: %s", p.Error)
		if conv := c.pendingOwner(p.CorrelationID); conv != nil {
			conv.fail(p.CorrelationID, err)
		} else {
			c.fireError(err)
		}

	case ws.TypeUserTyping:
		var p ws.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if p.UserID == c.opts.UserID {
			return
		}
		if conv := c.conversationByRoom(domain.RoomKey(c.opts.UserID, p.UserID)); conv != nil {
			conv.peerTyping()
		}
	}
}

func (c *Client) pendingOwner(correlationID string) *Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range c.convs {
		if conv.hasPending(correlationID) {
			return conv
		}
	}
	return nil
}

func (c *Client) fireError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// --- HTTP contract ---

func (c *Client) fetchHistory(ctx context.Context, peerID, after string) ([]domain.Message, string, error) {
	u := fmt.Sprintf("%s/api/messages?userA=%s&userB=%s", c.opts.BaseURL, c.opts.UserID, peerID)
	if after != "" {
		u += "&after=" + after
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("history: status %d", resp.StatusCode)
	}

	var out struct {
		Items      []domain.Message `json:"items"`
		NextCursor string           `json:"nextCursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", err
	}
	return out.Items, out.NextCursor, nil
}

func (c *Client) uploadFile(ctx context.Context, peerID, filename string, r io.Reader) (*domain.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	_ = mw.WriteField("fromUser", c.opts.UserID)
	_ = mw.WriteField("toUser", peerID)
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/api/messages/file", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.uploadc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload: status %d: %s", resp.StatusCode, body)
	}

	var msg domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RegisterPushToken сохраняет токен устройства в profile-service.
func (c *Client) RegisterPushToken(ctx context.Context, token string) error {
	body, err := json.Marshal(map[string]string{
		"userId": c.opts.UserID,
		"token":  token,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.ProfileURL+"/api/profile/pushtoken", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("register push token: status %d", resp.StatusCode)
	}
	return nil
}
