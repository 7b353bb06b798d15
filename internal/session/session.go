package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lockbreak/internal/engine"
	"github.com/DoyleJ11/lockbreak/internal/protocol"
	"github.com/DoyleJ11/lockbreak/internal/store"
)

var ErrSessionClosed = errors.New("session closed")

type Msg interface{ isSessionMsg() }

// Connect registers a transport endpoint. Frames for it are written to Outbox,
// which the session closes when the endpoint leaves or the session stops.
type Connect struct {
	ConnID string
	Outbox chan []byte
}

func (Connect) isSessionMsg() {}

type Disconnect struct{ ConnID string }

func (Disconnect) isSessionMsg() {}

// Inbound carries one decoded message received on a connection. A throttled
// message is answered but never acted on.
type Inbound struct {
	ConnID    string
	Msg       protocol.Message
	Throttled bool
}

func (Inbound) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type matchTimer struct{ gen int }

func (matchTimer) isSessionMsg() {}

// View is a race-free copy of the session's state.
type View struct {
	Code     string                   `json:"code"`
	Phase    engine.Phase             `json:"phase"`
	Host     string                   `json:"host_id"`
	Started  bool                     `json:"game_started"`
	NumConns int                      `json:"connections"`
	Players  map[string]engine.Player `json:"players"`
	Grid     engine.GridSnapshot      `json:"grid"`
	TimeLeft time.Duration            `json:"time_left_ns"`
	Dropped  int                      `json:"dropped_frames"`
}

type Options struct {
	Code      string
	Countdown time.Duration
	Duration  time.Duration
	// SpeedTolerance scales the fastest speed the server-side elapsed time
	// allows; reported speeds above it are clamped. Zero disables the check.
	SpeedTolerance float64
	Recorder       store.Recorder
	Logger         *zap.Logger
	Now            func() time.Time
	// OnClosed runs on the session goroutine after it stops.
	OnClosed func(*Session)
}

type conn struct {
	id     string
	outbox chan []byte
	player string
}

// Session is the authority for one match. A single goroutine owns the grid,
// the roster and the connection set; every message is handled to completion
// before the next one starts.
type Session struct {
	inbox chan Msg
	opts  Options
	log   *zap.Logger

	grid      *engine.Grid
	roster    *engine.Roster
	conns     map[string]*conn
	host      string
	phase     engine.Phase
	sched     engine.Schedule
	claimedAt map[int]time.Time

	timer    *time.Timer
	timerGen int
	dropped  int
	recorded bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, grid *engine.Grid, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Recorder == nil {
		opts.Recorder = store.Nop{}
	}

	s := &Session{
		inbox:     make(chan Msg, 256),
		opts:      opts,
		log:       opts.Logger.Named("session").With(zap.String("code", opts.Code)),
		grid:      grid,
		roster:    engine.NewRoster(),
		conns:     make(map[string]*conn),
		phase:     engine.PhaseLobby,
		claimedAt: make(map[int]time.Time),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go s.loop()
	return s
}

func (s *Session) Code() string { return s.opts.Code }

// Inbox exposes the raw message channel for tests and adapters.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the session goroutine has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Post delivers m unless the session has stopped or ctx ends first.
func (s *Session) Post(ctx context.Context, m Msg) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the session.
func (s *Session) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.Post(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, ErrSessionClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Connect:
				s.conns[msg.ConnID] = &conn{id: msg.ConnID, outbox: msg.Outbox}
				s.log.Debug("connected", zap.String("conn", msg.ConnID))

			case Disconnect:
				s.disconnect(msg.ConnID)

			case Inbound:
				s.dispatch(msg.ConnID, msg.Msg, msg.Throttled)

			case matchTimer:
				if msg.gen == s.timerGen {
					s.refreshPhase()
				}

			case GetState:
				s.refreshPhase()
				msg.Reply <- s.view()

			case Shutdown:
				s.shutdown()
				return
			}

			if s.abandoned() {
				s.log.Info("all players left a started match")
				s.shutdown()
				return
			}
		}
	}
}

// abandoned reports a match that started and has nobody left to play it.
func (s *Session) abandoned() bool {
	return s.phase.Started() && len(s.conns) == 0
}

func (s *Session) shutdown() {
	if s.timer != nil {
		s.timer.Stop()
	}
	for id, c := range s.conns {
		close(c.outbox)
		delete(s.conns, id)
	}
	s.cancel()
	if s.opts.OnClosed != nil {
		s.opts.OnClosed(s)
	}
}

func (s *Session) view() View {
	return View{
		Code:     s.opts.Code,
		Phase:    s.phase,
		Host:     s.host,
		Started:  s.phase.Started(),
		NumConns: len(s.conns),
		Players:  s.roster.Snapshot(),
		Grid:     s.grid.Snapshot(),
		TimeLeft: s.sched.TimeLeft(s.opts.Now()),
		Dropped:  s.dropped,
	}
}

func (s *Session) disconnect(connID string) {
	c := s.conns[connID]
	if c == nil {
		return
	}
	delete(s.conns, connID)
	close(c.outbox)
	if c.player == "" {
		return
	}

	s.roster.Remove(c.player)
	released := s.grid.ReleaseAll(c.player)
	for _, id := range released {
		delete(s.claimedAt, id)
	}
	if s.host == c.player {
		s.host = s.roster.First()
	}
	s.log.Info("player left",
		zap.String("player", c.player),
		zap.String("host", s.host),
		zap.Ints("released", released))

	s.broadcastLobby()
	if len(released) > 0 {
		s.broadcastGrid()
	}
}

// refreshPhase moves the phase forward to what the schedule and grid imply.
func (s *Session) refreshPhase() {
	want := s.sched.PhaseAt(s.opts.Now(), s.grid.Remaining())
	for s.phase.Before(want) {
		next, _ := s.phase.Next()
		s.setPhase(next)
	}
}

func (s *Session) setPhase(to engine.Phase) {
	next, err := engine.Advance(s.phase, to)
	if err != nil {
		s.log.Error("phase change refused", zap.Error(err))
		return
	}
	s.log.Info("phase", zap.String("from", string(s.phase)), zap.String("to", string(next)))
	s.phase = next
	if next == engine.PhaseEnded {
		s.finish()
	}
}

func (s *Session) armTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.opts.Countdown+s.opts.Duration, func() {
		select {
		case s.inbox <- matchTimer{gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) finish() {
	if s.timer != nil {
		s.timer.Stop()
	}
	players := s.roster.Snapshot()
	for _, st := range engine.Standings(players) {
		s.log.Info("final score",
			zap.String("player", st.ID),
			zap.Int("score", st.Score),
			zap.Int("locks_broken", st.LocksBroken))
	}
	s.broadcastLobby()

	if s.recorded {
		return
	}
	s.recorded = true
	remaining := s.grid.Remaining()
	res := store.MatchResult{
		ID:          newMatchID(),
		Code:        s.opts.Code,
		StartedAt:   s.sched.StartedAt,
		EndedAt:     s.opts.Now(),
		LocksTotal:  s.grid.Size(),
		LocksBroken: s.grid.Size() - remaining,
		Players:     store.ResultsFrom(players),
	}
	rec, log := s.opts.Recorder, s.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.RecordMatch(ctx, res); err != nil {
			log.Warn("record match", zap.Error(err))
		}
	}()
}
