package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skillbridge/chat-service/internal/domain"
)

func testConversation(t *testing.T, baseURL string) *Conversation {
	t.Helper()
	c, err := New(Options{BaseURL: baseURL, UserID: "u1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return newConversation(c, "u2", domain.RoomKey("u1", "u2"))
}

func msgAt(id, from, body string, at time.Time) domain.Message {
	return domain.Message{ID: id, FromUser: from, ToUser: "u2", Body: body, CreatedAt: at}
}

func TestOnIncoming_DuplicateIDDropped(t *testing.T) {
	cv := testConversation(t, "http://localhost")
	now := time.Now()

	cv.OnIncoming(msgAt("m1", "u2", "привет", now))
	cv.OnIncoming(msgAt("m1", "u2", "привет", now))

	if got := len(cv.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1", got)
	}
}

func TestOnIncoming_EchoWindowDropsSameContent(t *testing.T) {
	cv := testConversation(t, "http://localhost")
	now := time.Now()

	cv.OnIncoming(msgAt("m1", "u1", "ping", now))
	// другой id, тот же автор и текст, внутри окна — эхо
	cv.OnIncoming(msgAt("m2", "u1", "ping", now.Add(500*time.Millisecond)))

	if got := len(cv.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1 (echo dropped)", got)
	}

	// за пределами окна тот же текст — уже новое сообщение
	cv.OnIncoming(msgAt("m3", "u1", "ping", now.Add(3*time.Second)))
	if got := len(cv.Messages()); got != 2 {
		t.Fatalf("messages = %d, want 2", got)
	}
}

func TestOnIncoming_OlderDistinctMessageKept(t *testing.T) {
	cv := testConversation(t, "http://localhost")
	now := time.Now()

	cv.OnIncoming(msgAt("m1", "u1", "ok", now))
	// запоздавшая рассылка: тот же автор и текст, но createdAt сильно
	// старше уже принятой записи — это отдельное сообщение, не эхо
	cv.OnIncoming(msgAt("m0", "u1", "ok", now.Add(-time.Minute)))

	msgs := cv.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2 (older distinct message kept)", len(msgs))
	}
	if msgs[0].ID != "m0" || msgs[1].ID != "m1" {
		t.Fatalf("order wrong: %+v", msgs)
	}
}

func TestOnIncoming_FileEchoUsesWiderWindow(t *testing.T) {
	cv := testConversation(t, "http://localhost")
	now := time.Now()
	url := "/uploads/1.pdf"

	first := msgAt("f1", "u1", "File uploaded", now)
	first.FileURL = &url
	cv.OnIncoming(first)

	// 4s позже: текстовое окно уже прошло, файловое ещё нет
	echo := msgAt("f2", "u1", "File uploaded", now.Add(4*time.Second))
	echo.FileURL = &url
	cv.OnIncoming(echo)

	if got := len(cv.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1 (file echo dropped)", got)
	}
}

func TestOnIncoming_AssignsTempID(t *testing.T) {
	cv := testConversation(t, "http://localhost")

	cv.OnIncoming(domain.Message{FromUser: "u2", ToUser: "u1", Body: "x", CreatedAt: time.Now()})

	msgs := cv.Messages()
	if len(msgs) != 1 || msgs[0].ID == "" {
		t.Fatalf("expected one message with assigned id, got %+v", msgs)
	}
}

func TestOnIncoming_KeepsChronologicalOrder(t *testing.T) {
	cv := testConversation(t, "http://localhost")
	now := time.Now()

	cv.OnIncoming(msgAt("b", "u2", "second", now.Add(time.Minute)))
	cv.OnIncoming(msgAt("a", "u2", "first", now))

	msgs := cv.Messages()
	if len(msgs) != 2 || msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Fatalf("order wrong: %+v", msgs)
	}
}

func TestLoadHistory_PaginatesAndMergesWithLive(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	page1 := []domain.Message{
		msgAt("h1", "u2", "старое", now.Add(-2*time.Hour)),
		msgAt("h2", "u1", "ответ", now.Add(-time.Hour)),
	}
	page2 := []domain.Message{
		msgAt("h3", "u2", "свежее", now.Add(-time.Minute)),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := map[string]any{}
		if r.URL.Query().Get("after") == "" {
			resp["items"] = page1
			resp["nextCursor"] = "c1"
		} else {
			resp["items"] = page2
			resp["nextCursor"] = ""
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cv := testConversation(t, srv.URL)

	// live-сообщение пришло раньше истории и в ней же присутствует
	cv.OnIncoming(msgAt("h3", "u2", "свежее", now.Add(-time.Minute)))

	if err := cv.LoadHistory(context.Background()); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}

	msgs := cv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("not chronological at %d: %+v", i, msgs)
		}
	}
	ids := map[string]int{}
	for _, m := range msgs {
		ids[m.ID]++
	}
	for id, n := range ids {
		if n != 1 {
			t.Fatalf("id %s seen %d times", id, n)
		}
	}
}

func TestSend_EmptyTextRejected(t *testing.T) {
	cv := testConversation(t, "http://localhost")
	if err := cv.Send("   "); err != ErrEmptyMessage {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestSend_NotConnectedClearsPending(t *testing.T) {
	cv := testConversation(t, "http://localhost")
	if err := cv.Send("hello"); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	cv.mu.Lock()
	n := len(cv.pending)
	cv.mu.Unlock()
	if n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestPeerTyping_IndicatorClearsAfterPause(t *testing.T) {
	old := typingIndicatorTTL
	typingIndicatorTTL = 30 * time.Millisecond
	defer func() { typingIndicatorTTL = old }()

	cv := testConversation(t, "http://localhost")

	events := make(chan bool, 8)
	cv.OnTyping = func(active bool) { events <- active }

	cv.peerTyping()
	if v := <-events; !v {
		t.Fatal("expected typing=true first")
	}

	// повторный сигнал перезаводит таймер
	time.Sleep(15 * time.Millisecond)
	cv.peerTyping()
	if v := <-events; !v {
		t.Fatal("expected typing=true on repeat")
	}

	select {
	case v := <-events:
		if v {
			t.Fatal("expected typing=false after pause")
		}
	case <-time.After(time.Second):
		t.Fatal("typing indicator never cleared")
	}
}
