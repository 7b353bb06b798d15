package session

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lockbreak/internal/engine"
	"github.com/DoyleJ11/lockbreak/internal/protocol"
)

// accepted lists, per phase, the client messages the session will act on.
// Anything else is dropped at dispatch.
var accepted = map[engine.Phase]map[protocol.Type]bool{
	engine.PhaseLobby: {
		protocol.TypeJoin:         true,
		protocol.TypeStartRequest: true,
	},
	engine.PhaseCountdown: {
		protocol.TypeJoin: true,
	},
	engine.PhaseActive: {
		protocol.TypeJoin:           true,
		protocol.TypeClaimRequest:   true,
		protocol.TypeBreakRequest:   true,
		protocol.TypeUnclaimRequest: true,
	},
	engine.PhaseEnded: {
		protocol.TypeJoin: true,
	},
}

func newMatchID() string { return uuid.NewString() }

func (s *Session) dispatch(connID string, m protocol.Message, throttled bool) {
	c := s.conns[connID]
	if c == nil {
		return
	}
	s.refreshPhase()

	log := s.log.With(zap.String("conn", c.id), zap.String("type", string(m.Kind())))
	if c.player == "" && m.Kind() != protocol.TypeJoin {
		log.Debug("dropped message before join")
		return
	}
	if !accepted[s.phase][m.Kind()] {
		log.Debug("dropped out-of-phase message", zap.String("phase", string(s.phase)))
		return
	}
	if throttled {
		s.refuse(c, m, log)
		return
	}

	switch msg := m.(type) {
	case *protocol.Join:
		s.handleJoin(c, msg)
	case *protocol.StartRequest:
		s.handleStart(c)
	case *protocol.ClaimRequest:
		s.handleClaim(c, msg)
	case *protocol.BreakRequest:
		s.handleBreak(c, msg)
	case *protocol.UnclaimRequest:
		s.handleUnclaim(c, msg)
	case *protocol.JoinAck, *protocol.LobbyUpdate, *protocol.StartGame, *protocol.ClaimResult,
		*protocol.BreakResult, *protocol.UnclaimResult, *protocol.GridUpdate, *protocol.Error:
		// server-to-client messages are never accepted from a peer
		log.Debug("dropped server message from client")
	}
}

func (s *Session) handleJoin(c *conn, m *protocol.Join) {
	if c.player != "" {
		s.send(c, &protocol.JoinAck{Header: protocol.Header{UserID: c.player}})
		return
	}
	c.player = s.roster.Add(m.UserID, m.Icon)
	if s.host == "" {
		s.host = c.player
	}
	s.log.Info("player joined",
		zap.String("conn", c.id),
		zap.String("requested", m.UserID),
		zap.String("player", c.player),
		zap.String("host", s.host))

	s.send(c, &protocol.JoinAck{Header: protocol.Header{UserID: c.player}})
	s.broadcastLobby()
	if s.phase.Started() {
		s.send(c, s.startMessage())
	}
	s.send(c, s.gridMessage())
}

func (s *Session) handleStart(c *conn) {
	if c.player != s.host {
		s.log.Debug("start request from non-host", zap.String("player", c.player))
		return
	}
	s.sched = engine.Schedule{
		StartedAt: s.opts.Now(),
		Countdown: s.opts.Countdown,
		Duration:  s.opts.Duration,
	}
	s.setPhase(engine.PhaseCountdown)
	s.armTimer()
	s.broadcast(s.startMessage())
	s.broadcastLobby()
}

func (s *Session) handleClaim(c *conn, m *protocol.ClaimRequest) {
	ok, err := s.grid.Claim(m.LockID, c.player)
	if err != nil {
		s.reject(c, m.LockID, err)
		return
	}
	if _, held := s.claimedAt[m.LockID]; ok && !held {
		s.claimedAt[m.LockID] = s.opts.Now()
	}
	lock, _ := s.grid.Lock(m.LockID)
	s.log.Debug("claim", zap.String("player", c.player), zap.Int("lock", m.LockID), zap.Bool("success", ok))

	s.send(c, &protocol.ClaimResult{Success: ok, Lock: &lock})
	s.broadcastGrid()
}

func (s *Session) handleUnclaim(c *conn, m *protocol.UnclaimRequest) {
	ok, err := s.grid.Unclaim(m.LockID, c.player)
	if err != nil {
		s.reject(c, m.LockID, err)
		return
	}
	if ok {
		delete(s.claimedAt, m.LockID)
	}
	lock, _ := s.grid.Lock(m.LockID)
	s.log.Debug("unclaim", zap.String("player", c.player), zap.Int("lock", m.LockID), zap.Bool("success", ok))

	s.send(c, &protocol.UnclaimResult{Success: ok, Lock: &lock})
	s.broadcastGrid()
}

func (s *Session) handleBreak(c *conn, m *protocol.BreakRequest) {
	before, err := s.grid.Lock(m.LockID)
	if err != nil {
		s.reject(c, m.LockID, err)
		return
	}
	speed := s.plausibleSpeed(before, m.WPM)
	ok, points, _ := s.grid.Break(m.LockID, m.Text, speed, c.player)
	if before.ClaimedBy == c.player {
		delete(s.claimedAt, m.LockID)
	}
	if ok {
		s.roster.RecordBreak(c.player, points)
	}
	lock, _ := s.grid.Lock(m.LockID)
	s.log.Debug("break",
		zap.String("player", c.player),
		zap.Int("lock", m.LockID),
		zap.Float64("wpm", m.WPM),
		zap.Bool("success", ok),
		zap.Int("points", points))

	s.send(c, &protocol.BreakResult{Success: ok, Points: points, Lock: &lock})
	s.broadcastGrid()
	s.refreshPhase()
}

// refuse answers a throttled lock request with a failed result and the lock
// as it stands. Other throttled messages are dropped.
func (s *Session) refuse(c *conn, m protocol.Message, log *zap.Logger) {
	var id int
	switch msg := m.(type) {
	case *protocol.ClaimRequest:
		id = msg.LockID
	case *protocol.UnclaimRequest:
		id = msg.LockID
	case *protocol.BreakRequest:
		id = msg.LockID
	default:
		log.Debug("dropped throttled message")
		return
	}
	lock, err := s.grid.Lock(id)
	if err != nil {
		s.reject(c, id, err)
		return
	}
	log.Debug("refused throttled request", zap.Int("lock", id))

	switch m.(type) {
	case *protocol.ClaimRequest:
		s.send(c, &protocol.ClaimResult{Success: false, Lock: &lock})
	case *protocol.UnclaimRequest:
		s.send(c, &protocol.UnclaimResult{Success: false, Lock: &lock})
	case *protocol.BreakRequest:
		s.send(c, &protocol.BreakResult{Success: false, Lock: &lock})
	}
}

// plausibleSpeed caps a reported speed at what the time between the claim
// being granted and the break arriving allows.
func (s *Session) plausibleSpeed(l engine.Lock, reported float64) float64 {
	if s.opts.SpeedTolerance <= 0 {
		return reported
	}
	at, ok := s.claimedAt[l.ID]
	if !ok {
		return reported
	}
	elapsed := s.opts.Now().Sub(at)
	if elapsed <= 0 {
		return reported
	}
	ceiling := engine.WPM(utf8.RuneCountInString(engine.NormalizeText(l.Target)), elapsed) * s.opts.SpeedTolerance
	if reported > ceiling {
		s.log.Info("clamped reported speed",
			zap.Int("lock", l.ID),
			zap.Float64("reported", reported),
			zap.Float64("ceiling", ceiling),
			zap.Duration("elapsed", elapsed))
		return ceiling
	}
	return reported
}

// reject answers a request naming a lock outside the grid. That means the
// peer and the authority disagree about the grid, so it is logged loudly.
func (s *Session) reject(c *conn, lockID int, err error) {
	s.log.Error("lock id out of range",
		zap.String("conn", c.id),
		zap.String("player", c.player),
		zap.Int("lock", lockID),
		zap.Error(err))
	id := lockID
	s.send(c, &protocol.Error{Message: err.Error(), LockID: &id})
}

func (s *Session) startMessage() *protocol.StartGame {
	now := s.opts.Now()
	countdown := s.sched.ActiveAt().Sub(now)
	if countdown < 0 {
		countdown = 0
	}
	return &protocol.StartGame{
		CountdownSeconds: ceilSeconds(countdown),
		GameTime:         ceilSeconds(s.sched.TimeLeft(now)),
	}
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func (s *Session) gridMessage() *protocol.GridUpdate {
	return &protocol.GridUpdate{Grid: s.grid.Snapshot(), Players: s.roster.Snapshot()}
}

func (s *Session) broadcastLobby() {
	s.broadcast(&protocol.LobbyUpdate{
		Players:     s.roster.Snapshot(),
		HostID:      s.host,
		GameStarted: s.phase.Started(),
		Phase:       s.phase,
	})
}

func (s *Session) broadcastGrid() {
	s.broadcast(s.gridMessage())
}

func (s *Session) send(c *conn, m protocol.Message) {
	frame, err := protocol.Marshal(m)
	if err != nil {
		s.log.Error("encode", zap.Error(err))
		return
	}
	s.deliver(c, frame)
}

// broadcast encodes m once and queues it for every connection. A full outbox
// loses this frame only; the connection is pruned by its own reader.
func (s *Session) broadcast(m protocol.Message) {
	frame, err := protocol.Marshal(m)
	if err != nil {
		s.log.Error("encode", zap.Error(err))
		return
	}
	for _, c := range s.conns {
		s.deliver(c, frame)
	}
}

func (s *Session) deliver(c *conn, frame []byte) {
	select {
	case c.outbox <- frame:
	default:
		s.dropped++
		s.log.Warn("outbox full, frame dropped", zap.String("conn", c.id), zap.String("player", c.player))
	}
}
