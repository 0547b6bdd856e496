package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skillbridge/chat-service/pkg/errs"
)

// Profile — та часть профиля, которая нужна мессенджеру.
// Профили живут в profile-service, здесь только read-only клиент.
type Profile struct {
	UserID        string `json:"userId"`
	ExpoPushToken string `json:"expoPushToken"`
}

type Finder interface {
	// FindByUser возвращает (nil, nil), если профиля нет —
	// отсутствие профиля не ошибка для пути отправки.
	FindByUser(ctx context.Context, userID string) (*Profile, error)
}

// Noop — для стендов без profile-service: пушей просто не будет.
type Noop struct{}

func (Noop) FindByUser(context.Context, string) (*Profile, error) { return nil, nil }

type Client struct {
	baseURL string
	httpc   *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) FindByUser(ctx context.Context, userID string) (*Profile, error) {
	u := c.baseURL + "/api/profile/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: profile-service: %v", errs.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: profile-service: status %d", errs.ErrUpstream, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: profile-service: decode: %v", errs.ErrUpstream, err)
	}
	return &p, nil
}
