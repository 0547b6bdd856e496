package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notification — payload пуша; data уходит получателю как есть.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notifier — диспетчер пушей. Вызовы всегда best-effort:
// ошибка логируется вызывающей стороной и не валит отправку.
type Notifier interface {
	Push(ctx context.Context, token string, n Notification) error
}

const defaultExpoURL = "https://exp.host"

// ExpoClient шлёт пуши через Expo push gateway.
type ExpoClient struct {
	baseURL string
	httpc   *http.Client
}

func NewExpoClient(baseURL string) *ExpoClient {
	if baseURL == "" {
		baseURL = defaultExpoURL
	}
	return &ExpoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// IsExpoToken — грубая проверка формата токена устройства.
func IsExpoToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") && strings.HasSuffix(token, "]")
}

type expoMessage struct {
	To    string            `json:"to"`
	Sound string            `json:"sound"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type expoResponse struct {
	Data []expoTicket `json:"data"`
}

func (c *ExpoClient) Push(ctx context.Context, token string, n Notification) error {
	if !IsExpoToken(token) {
		return fmt.Errorf("invalid expo push token %q", token)
	}

	body, err := json.Marshal([]expoMessage{{
		To:    token,
		Sound: "default",
		Title: n.Title,
		Body:  n.Body,
		Data:  n.Data,
	}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/--/api/v2/push/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("expo push: status %d: %s", resp.StatusCode, respBody)
	}

	var out expoResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("expo push: decode response: %w", err)
	}
	for _, t := range out.Data {
		if t.Status != "ok" {
			return fmt.Errorf("expo push: ticket %s: %s", t.Status, t.Message)
		}
	}
	return nil
}
