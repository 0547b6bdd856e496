package http

import (
	"net/http"
	"time"

	"github.com/skillbridge/chat-service/internal/metrics"
	"github.com/skillbridge/chat-service/internal/store"
	"github.com/skillbridge/chat-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WSHandler interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
}

func NewRouter(h *Handler, wsServer WSHandler, st store.MessageStore, uploadsDir string, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", httputil.HeaderRequestID},
	}))

	// WS endpoint — вне метрик/логирования: их обёртки ResponseWriter
	// ломают hijack при upgrade
	r.Get("/ws", wsServer.HandleWS)

	r.Group(func(pr chi.Router) {
		pr.Use(metrics.Middleware)
		pr.Use(httputil.MiddlewareLogging)
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/api/messages", func(rm chi.Router) {
			rm.Get("/", h.GetConversation)
			rm.Post("/", h.SendMessage)
			rm.Post("/file", h.SendFileMessage)
			rm.Post("/read", h.MarkRead)
		})
	})

	// отдача вложений как есть
	fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadsDir)))
	r.Get("/uploads/*", fs.ServeHTTP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
