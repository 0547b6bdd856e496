package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/skillbridge/chat-service/internal/domain"
	"github.com/skillbridge/chat-service/internal/store"
	"github.com/skillbridge/chat-service/pkg/errs"
	"github.com/skillbridge/chat-service/pkg/httputil"

	"github.com/google/uuid"
)

// ChatSvc — общая воронка создания сообщений; та же, что у ws-транспорта.
type ChatSvc interface {
	Publish(ctx context.Context, fromUser, toUser, body string, fileURL *string) (*domain.Message, error)
	History(ctx context.Context, userA, userB, after string, limit int) ([]domain.Message, string, error)
	MarkRead(ctx context.Context, fromUser, toUser string) error
}

const filePlaceholderBody = "File uploaded"

// допустимые расширения вложений; фильтрация по контенту — забота
// файлового сервиса, здесь только грубая отсечка
var allowedExt = map[string]struct{}{
	".jpeg": {}, ".jpg": {}, ".png": {}, ".pdf": {},
	".doc": {}, ".docx": {}, ".zip": {},
}

type Handler struct {
	chatSvc    ChatSvc
	uploadsDir string
	maxUpload  int64
}

func NewHandler(chat ChatSvc, uploadsDir string, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		chatSvc:    chat,
		uploadsDir: uploadsDir,
		maxUpload:  maxUploadBytes,
	}
}

// GET /api/messages?userA=&userB=&after=&limit=
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userA := r.URL.Query().Get("userA")
	userB := r.URL.Query().Get("userB")
	after := r.URL.Query().Get("after")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	items, next, err := h.chatSvc.History(r.Context(), userA, userB, after, limit)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingParticipant):
			httputil.JSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, store.ErrInvalidCursor):
			httputil.JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_cursor"})
		default:
			slog.Error("handler.GetConversation:", slog.Any("err", err))
			httputil.JSON(w, errs.ToHTTP(err), ErrorResponse{Error: "internal error"})
		}
		return
	}
	if items == nil {
		items = []domain.Message{}
	}

	httputil.JSON(w, http.StatusOK, ConversationResponse{Items: items, NextCursor: next})
}

// POST /api/messages — не-realtime путь; воронка всё равно рассылает
// broadcast, так что подключённые участники увидят сообщение сразу.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	msg, err := h.chatSvc.Publish(r.Context(), req.FromUser, req.ToUser, req.Body, nil)
	if err != nil {
		h.writePublishError(w, "handler.SendMessage", err)
		return
	}

	httputil.JSON(w, http.StatusOK, msg)
}

// POST /api/messages/file (multipart: file, fromUser, toUser)
func (h *Handler) SendFileMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		httputil.JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid multipart payload"})
		return
	}

	// участников проверяем до записи на диск, иначе отклонённый запрос
	// оставляет файл-сироту в каталоге загрузок
	fromUser := strings.TrimSpace(r.FormValue("fromUser"))
	toUser := strings.TrimSpace(r.FormValue("toUser"))
	if fromUser == "" || toUser == "" {
		httputil.JSON(w, http.StatusBadRequest, ErrorResponse{Error: domain.ErrMissingParticipant.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.JSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing file"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedExt[ext]; !ok {
		httputil.JSON(w, http.StatusBadRequest, ErrorResponse{Error: "only images, PDF, Word, and ZIP files are allowed"})
		return
	}

	// uuid в имени: одинаковые расширения в одну миллисекунду не
	// перетирают друг друга
	name := fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), uuid.NewString(), ext)
	dst := filepath.Join(h.uploadsDir, name)
	if err := saveUpload(file, dst); err != nil {
		slog.Error("handler.SendFileMessage.save:", slog.Any("err", err))
		httputil.JSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to store file"})
		return
	}

	fileURL := "/uploads/" + name
	msg, err := h.chatSvc.Publish(r.Context(), fromUser, toUser, filePlaceholderBody, &fileURL)
	if err != nil {
		_ = os.Remove(dst)
		h.writePublishError(w, "handler.SendFileMessage", err)
		return
	}

	httputil.JSON(w, http.StatusOK, msg)
}

// POST /api/messages/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	if err := h.chatSvc.MarkRead(r.Context(), req.FromUser, req.ToUser); err != nil {
		h.writePublishError(w, "handler.MarkRead", err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writePublishError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrMissingParticipant) {
		httputil.JSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	slog.Error(op+":", slog.Any("err", err))
	httputil.JSON(w, errs.ToHTTP(err), ErrorResponse{Error: "internal error"})
}

func saveUpload(src io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
