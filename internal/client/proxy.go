package client

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lockbreak/internal/engine"
	"github.com/DoyleJ11/lockbreak/internal/protocol"
	"github.com/DoyleJ11/lockbreak/internal/transport"
)

var (
	ErrBacklog = errors.New("send queue full")
	ErrClosed  = errors.New("connection closed")
)

type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	// AttemptLimit unclaims a lock the player has held this long without
	// submitting. Zero disables it.
	AttemptLimit time.Duration
	QueueSize    int
}

// Attempt is the lock this player is currently typing against.
type Attempt struct {
	LockID    int
	Started   time.Time
	Confirmed bool
}

// Proxy is the client half of a session. Network reads and writes run on
// their own goroutines; everything else is meant for one interactive
// goroutine that calls Update once per tick and never blocks on the network.
type Proxy struct {
	ch    *transport.Channel
	inbox *Inbox
	out   chan protocol.Message
	log   *zap.Logger
	opts  Options

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	id      string
	grid    *engine.Grid
	players map[string]engine.Player
	host    string
	started bool
	sched   engine.Schedule
	attempt *Attempt
}

// Dial connects to the authority at addr. ctx bounds the dial only; the
// proxy runs until Close or a network failure.
func Dial(ctx context.Context, addr string, opts Options) (*Proxy, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(context.WithoutCancel(ctx), conn, opts), nil
}

// New runs a proxy over an established connection until parent ends or
// Close is called. The proxy owns conn.
func New(parent context.Context, conn net.Conn, opts Options) *Proxy {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	log := opts.Logger.Named("client")

	p := &Proxy{
		ch:      transport.NewChannel(conn, log),
		inbox:   NewInbox(),
		out:     make(chan protocol.Message, opts.QueueSize),
		log:     log,
		opts:    opts,
		group:   g,
		ctx:     gctx,
		cancel:  cancel,
		players: make(map[string]engine.Player),
	}
	g.Go(p.readLoop)
	g.Go(p.writeLoop)
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	return p
}

func (p *Proxy) readLoop() error {
	for {
		m, err := p.ch.ReadMessage()
		if err != nil {
			return err
		}
		p.inbox.Push(m)
	}
}

func (p *Proxy) writeLoop() error {
	for {
		select {
		case m := <-p.out:
			if err := p.ch.WriteMessage(m); err != nil {
				return err
			}
		case <-p.ctx.Done():
			return nil
		}
	}
}

// Done is closed when the connection has failed or the proxy was closed.
func (p *Proxy) Done() <-chan struct{} { return p.ctx.Done() }

// Close stops the proxy and reports the first network failure, if any.
func (p *Proxy) Close() error {
	p.cancel()
	err := p.group.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (p *Proxy) Inbox() *Inbox { return p.inbox }

// send queues m without waiting for the network.
func (p *Proxy) send(m protocol.Message) error {
	select {
	case <-p.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case p.out <- m:
		return nil
	default:
		return ErrBacklog
	}
}

// Join requests an identity; the authority may answer with a suffixed one.
func (p *Proxy) Join(name, glyph string) error {
	if p.id == "" {
		p.id = name
	}
	return p.send(&protocol.Join{Header: protocol.Header{UserID: name}, Icon: glyph})
}

func (p *Proxy) Start() error {
	return p.send(&protocol.StartRequest{Header: p.header()})
}

// Claim requests a lock and starts timing the attempt right away.
func (p *Proxy) Claim(lockID int) error {
	if err := p.send(&protocol.ClaimRequest{Header: p.header(), LockID: lockID}); err != nil {
		return err
	}
	if p.attempt == nil || p.attempt.LockID != lockID {
		p.attempt = &Attempt{LockID: lockID, Started: p.opts.Now()}
	}
	return nil
}

func (p *Proxy) Unclaim(lockID int) error {
	if p.attempt != nil && p.attempt.LockID == lockID {
		p.attempt = nil
	}
	return p.send(&protocol.UnclaimRequest{Header: p.header(), LockID: lockID})
}

// Break submits typed against lockID, measuring speed from the start of the
// attempt. It returns the speed it reported.
func (p *Proxy) Break(lockID int, typed string) (float64, error) {
	var wpm float64
	if p.attempt != nil && p.attempt.LockID == lockID {
		wpm = engine.WPM(utf8.RuneCountInString(typed), p.opts.Now().Sub(p.attempt.Started))
		p.attempt = nil
	}
	return wpm, p.SendBreak(lockID, typed, wpm)
}

// SendBreak submits typed with an explicit speed.
func (p *Proxy) SendBreak(lockID int, typed string, wpm float64) error {
	return p.send(&protocol.BreakRequest{
		Header: p.header(),
		LockID: lockID,
		Text:   engine.NormalizeText(typed),
		WPM:    wpm,
	})
}

func (p *Proxy) header() protocol.Header { return protocol.Header{UserID: p.id} }

// Update applies every pending message to the local replica, enforces the
// attempt limit and returns the phase at now along with what was applied.
func (p *Proxy) Update() (engine.Phase, []protocol.Message) {
	now := p.opts.Now()
	msgs := p.inbox.Drain()
	for _, m := range msgs {
		p.apply(m, now)
	}
	if a := p.attempt; a != nil && p.opts.AttemptLimit > 0 && now.Sub(a.Started) > p.opts.AttemptLimit {
		p.log.Debug("attempt expired", zap.Int("lock", a.LockID))
		if err := p.Unclaim(a.LockID); err != nil {
			p.log.Warn("unclaim", zap.Int("lock", a.LockID), zap.Error(err))
		}
	}
	return p.Phase(now), msgs
}

func (p *Proxy) apply(m protocol.Message, now time.Time) {
	switch msg := m.(type) {
	case *protocol.JoinAck:
		p.id = msg.UserID

	case *protocol.LobbyUpdate:
		p.players = msg.Players
		p.host = msg.HostID
		if msg.GameStarted {
			p.started = true
		}

	case *protocol.StartGame:
		p.started = true
		p.sched = engine.Schedule{
			StartedAt: now,
			Countdown: time.Duration(msg.CountdownSeconds) * time.Second,
			Duration:  time.Duration(msg.GameTime) * time.Second,
		}

	case *protocol.ClaimResult:
		p.replace(msg.Lock)
		if a := p.attempt; a != nil && msg.Lock != nil && a.LockID == msg.Lock.ID {
			if msg.Success {
				a.Confirmed = true
			} else {
				p.attempt = nil
			}
		}

	case *protocol.BreakResult:
		p.replace(msg.Lock)

	case *protocol.UnclaimResult:
		p.replace(msg.Lock)

	case *protocol.GridUpdate:
		g, err := engine.FromSnapshot(msg.Grid)
		if err != nil {
			p.log.Warn("grid update", zap.Error(err))
			break
		}
		p.grid = g
		p.players = msg.Players
		p.checkAttempt()

	case *protocol.Error:
		p.log.Warn("authority reported an error", zap.String("error", msg.Message))

	case *protocol.Join, *protocol.StartRequest, *protocol.ClaimRequest,
		*protocol.BreakRequest, *protocol.UnclaimRequest:
		p.log.Debug("ignored client message from server", zap.String("type", string(m.Kind())))
	}
}

// checkAttempt drops the current attempt once the authority shows the lock
// broken, or shows a confirmed claim held by someone else.
func (p *Proxy) checkAttempt() {
	a := p.attempt
	if a == nil || p.grid == nil {
		return
	}
	l, err := p.grid.Lock(a.LockID)
	if err != nil || l.Broken || (a.Confirmed && l.ClaimedBy != p.id) {
		p.attempt = nil
	}
}

func (p *Proxy) replace(l *engine.Lock) {
	if l == nil || p.grid == nil {
		return
	}
	if err := p.grid.Replace(*l); err != nil {
		p.log.Warn("lock update", zap.Int("lock", l.ID), zap.Error(err))
	}
}

// Phase derives the match phase from the last start announcement, the
// replica's remaining count and now.
func (p *Proxy) Phase(now time.Time) engine.Phase {
	if !p.started {
		return engine.PhaseLobby
	}
	if p.sched.StartedAt.IsZero() {
		return engine.PhaseCountdown
	}
	remaining := 1
	if p.grid != nil {
		remaining = p.grid.Remaining()
	}
	return p.sched.PhaseAt(now, remaining)
}

func (p *Proxy) ID() string                { return p.id }
func (p *Proxy) Host() string              { return p.host }
func (p *Proxy) IsHost() bool              { return p.id != "" && p.id == p.host }
func (p *Proxy) Started() bool             { return p.started }
func (p *Proxy) Schedule() engine.Schedule { return p.sched }

// Grid returns the replica, or false before the first grid_update.
func (p *Proxy) Grid() (engine.GridSnapshot, bool) {
	if p.grid == nil {
		return engine.GridSnapshot{}, false
	}
	return p.grid.Snapshot(), true
}

func (p *Proxy) Players() map[string]engine.Player {
	out := make(map[string]engine.Player, len(p.players))
	for id, pl := range p.players {
		out[id] = pl
	}
	return out
}

func (p *Proxy) Attempt() (Attempt, bool) {
	if p.attempt == nil {
		return Attempt{}, false
	}
	return *p.attempt, true
}
