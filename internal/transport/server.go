package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/lockbreak/internal/hub"
	"github.com/DoyleJ11/lockbreak/internal/session"
)

type Options struct {
	// MsgRate limits inbound messages per second on one connection. Lock
	// requests over the limit fail without effect; other frames over it are
	// dropped. Zero or less means unlimited.
	MsgRate      float64
	Burst        int
	OutboxSize   int
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Server attaches byte-stream connections to sessions held by a hub.
type Server struct {
	hub  *hub.Hub
	opts Options
	log  *zap.Logger
	wg   sync.WaitGroup
}

func NewServer(h *hub.Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Server{hub: h, opts: opts, log: opts.Logger.Named("transport")}
}

// ListenAndServe accepts TCP connections on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// Serve accepts on ln and joins every connection to the default session. It
// returns nil once ctx ends, after all connection handlers have finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("accept", zap.Error(err))
				continue
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ServeConn(ctx, conn, hub.DefaultCode); err != nil {
				s.log.Info("connection ended", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
		}()
	}
}

// ServeConn runs one connection against the session named code until the peer
// leaves, the session stops or ctx ends. conn is always closed on return.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, code string) error {
	defer conn.Close()

	sess, err := s.hub.Ensure(ctx, code)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	log := s.log.With(zap.String("conn", id), zap.String("code", code), zap.String("remote", conn.RemoteAddr().String()))
	ch := NewChannel(conn, log)
	if s.opts.WriteTimeout > 0 {
		ch.SetWriteTimeout(s.opts.WriteTimeout)
	}

	out := make(chan []byte, s.opts.OutboxSize)
	if err := sess.Post(ctx, session.Connect{ConnID: id, Outbox: out}); err != nil {
		return err
	}
	log.Info("connected")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ch, out, sess.Done(), log)
	}()

	err = s.readLoop(ctx, ch, sess, id, log)

	// the session closes out once it has processed the departure
	if perr := sess.Post(context.WithoutCancel(ctx), session.Disconnect{ConnID: id}); perr != nil {
		log.Debug("disconnect", zap.Error(perr))
	}
	conn.Close()
	<-writerDone
	log.Info("disconnected")

	if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, session.ErrSessionClosed) {
		return nil
	}
	return err
}

func (s *Server) readLoop(ctx context.Context, ch *Channel, sess *session.Session, id string, log *zap.Logger) error {
	limit := rate.Inf
	if s.opts.MsgRate > 0 {
		limit = rate.Limit(s.opts.MsgRate)
	}
	limiter := rate.NewLimiter(limit, s.opts.Burst)

	for {
		m, err := ch.ReadMessage()
		if err != nil {
			return err
		}
		throttled := !limiter.Allow()
		if throttled {
			log.Debug("rate limited", zap.String("type", string(m.Kind())))
		}
		if err := sess.Post(ctx, session.Inbound{ConnID: id, Msg: m, Throttled: throttled}); err != nil {
			return err
		}
	}
}

// writeLoop drains out onto the wire until the session closes out or stops.
// A failed write closes the connection so the reader notices.
func (s *Server) writeLoop(ch *Channel, out <-chan []byte, done <-chan struct{}, log *zap.Logger) {
	defer ch.Close()
	for {
		select {
		case frame, ok := <-out:
			if !ok {
				return
			}
			if err := ch.WriteFrame(frame); err != nil {
				log.Info("write failed", zap.Error(err))
				return
			}
		case <-done:
			for {
				select {
				case frame, ok := <-out:
					if !ok || ch.WriteFrame(frame) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
