package ws

import (
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lockbreak/internal/hub"
	"github.com/DoyleJ11/lockbreak/internal/transport"
)

// Handler upgrades the request and runs the websocket as one more message
// channel. Frames are the same newline-terminated JSON the TCP listener
// speaks; text messages are concatenated into a single stream.
func Handler(srv *transport.Server, opts *websocket.AcceptOptions, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			code = hub.DefaultCode
		}

		c, err := websocket.Accept(w, r, opts)
		if err != nil {
			log.Info("accept", zap.Error(err))
			return
		}
		c.SetReadLimit(transport.MaxFrameSize)

		ctx := r.Context()
		conn := websocket.NetConn(ctx, c, websocket.MessageText)
		if err := srv.ServeConn(ctx, conn, code); err != nil {
			log.Info("connection ended", zap.String("code", code), zap.Error(err))
		}
	}
}
