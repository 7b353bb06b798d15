package hub

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lockbreak/internal/engine"
	"github.com/DoyleJ11/lockbreak/internal/session"
	"github.com/DoyleJ11/lockbreak/internal/store"
)

// DefaultCode names the session plain TCP connections join.
const DefaultCode = "default"

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type GetSession struct {
	Code  string
	Reply chan *session.Session
}

// EnsureSession returns the live session for Code, creating a fresh one when
// there is none or the previous one has stopped.
type EnsureSession struct {
	Code  string
	Reply chan *session.Session
}

// RemoveSession drops Code only while it still maps to Session.
type RemoveSession struct {
	Code    string
	Session *session.Session
}

type ListSessions struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ListSessions) isHubMsg()  {}
func (ShutdownHub) isHubMsg()   {}

// Config describes every session the hub creates.
type Config struct {
	Rows           int
	Cols           int
	Countdown      time.Duration
	Duration       time.Duration
	SpeedTolerance float64
	// Seed drives grid generation; zero seeds from the clock.
	Seed     int64
	Phrases  engine.PhraseSource
	Recorder store.Recorder
	Logger   *zap.Logger
	Now      func() time.Time
}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	cfg      Config
	rng      *rand.Rand
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewHub(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		log:      cfg.Logger.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub and its sessions have been told to stop.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) post(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) request(ctx context.Context, m HubMsg, reply chan *session.Session) (*session.Session, error) {
	if err := h.post(ctx, m); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ensure returns a live session for code, creating it if needed.
func (h *Hub) Ensure(ctx context.Context, code string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	s, err := h.request(ctx, EnsureSession{Code: code, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("session %q could not be created", code)
	}
	return s, nil
}

// Get returns the session for code, or nil when there is none.
func (h *Hub) Get(ctx context.Context, code string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	return h.request(ctx, GetSession{Code: code, Reply: reply}, reply)
}

func (h *Hub) Codes(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.post(ctx, ListSessions{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case codes := <-reply:
		return codes, nil
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops every session and the hub itself.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
	<-h.done
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetSession:
				msg.Reply <- h.live(msg.Code) // May be nil

			case EnsureSession:
				if s := h.live(msg.Code); s != nil {
					msg.Reply <- s
					break
				}
				msg.Reply <- h.create(msg.Code)

			case RemoveSession:
				if h.sessions[msg.Code] == msg.Session {
					delete(h.sessions, msg.Code)
					h.log.Info("session removed", zap.String("code", msg.Code))
				}

			case ListSessions:
				codes := make([]string, 0, len(h.sessions))
				for code := range h.sessions {
					codes = append(codes, code)
				}
				msg.Reply <- codes

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live returns the session for code unless it has already stopped.
func (h *Hub) live(code string) *session.Session {
	s := h.sessions[code]
	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		delete(h.sessions, code)
		return nil
	default:
		return s
	}
}

func (h *Hub) create(code string) *session.Session {
	grid, err := engine.Generate(h.cfg.Rows, h.cfg.Cols, h.rng, h.cfg.Phrases)
	if err != nil {
		h.log.Error("generate grid", zap.String("code", code), zap.Error(err))
		return nil
	}
	s := session.New(h.ctx, grid, session.Options{
		Code:           code,
		Countdown:      h.cfg.Countdown,
		Duration:       h.cfg.Duration,
		SpeedTolerance: h.cfg.SpeedTolerance,
		Recorder:       h.cfg.Recorder,
		Logger:         h.cfg.Logger,
		Now:            h.cfg.Now,
		OnClosed:       h.forget,
	})
	h.sessions[code] = s
	h.log.Info("session created",
		zap.String("code", code),
		zap.Int("rows", grid.Rows()),
		zap.Int("cols", grid.Cols()))
	return s
}

// forget runs on the stopping session's goroutine, so it must not wait on the hub.
func (h *Hub) forget(s *session.Session) {
	go func() {
		select {
		case h.inbox <- RemoveSession{Code: s.Code(), Session: s}:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) shutdown() {
	for code, s := range h.sessions {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := s.Post(ctx, session.Shutdown{}); err != nil && !errors.Is(err, session.ErrSessionClosed) {
			h.log.Warn("session shutdown", zap.String("code", code), zap.Error(err))
		}
		cancel()
	}
	clear(h.sessions)
	h.cancel()
}
