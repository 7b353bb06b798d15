package httpapi

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lockbreak/internal/hub"
	"github.com/DoyleJ11/lockbreak/internal/transport"
	"github.com/DoyleJ11/lockbreak/internal/ws"
)

type Options struct {
	// OriginPatterns loosens the websocket origin check, e.g. "localhost:*".
	OriginPatterns []string
	Logger         *zap.Logger
}

func SetupRoutes(h *hub.Hub, srv *transport.Server, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/session", SessionView(h, log.Named("http")))
	r.Get("/sessions", ListSessions(h))
	r.Get("/ws", ws.Handler(srv, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns}, log))
	return r
}
