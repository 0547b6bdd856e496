package http

import "github.com/skillbridge/chat-service/internal/domain"

type SendMessageRequest struct {
	FromUser string `json:"fromUser"`
	ToUser   string `json:"toUser"`
	Body     string `json:"body"`
}

type MarkReadRequest struct {
	FromUser string `json:"fromUser"`
	ToUser   string `json:"toUser"`
}

type ConversationResponse struct {
	Items      []domain.Message `json:"items"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
