package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/lockbreak/internal/engine"
	"github.com/DoyleJ11/lockbreak/internal/hub"
	"github.com/DoyleJ11/lockbreak/internal/protocol"
	"github.com/DoyleJ11/lockbreak/internal/transport"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestInbox_NextPreservesOrder(t *testing.T) {
	q := NewInbox()
	first := &protocol.ClaimResult{Success: true}
	grid := &protocol.GridUpdate{}
	second := &protocol.ClaimResult{Success: false}
	lobby := &protocol.LobbyUpdate{}
	for _, m := range []protocol.Message{first, grid, second, lobby} {
		q.Push(m)
	}

	m, ok := q.Next(protocol.TypeGridUpdate)
	require.True(t, ok)
	assert.Same(t, grid, m)

	_, ok = q.Next(protocol.TypeBreakResult)
	assert.False(t, ok)
	assert.Equal(t, 3, q.Len())

	m, ok = q.Next(protocol.TypeClaimResult)
	require.True(t, ok)
	assert.Same(t, first, m)

	rest := q.Drain()
	require.Len(t, rest, 2)
	assert.Same(t, second, rest[0])
	assert.Same(t, lobby, rest[1])
	assert.Zero(t, q.Len())

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestInbox_ReadySignals(t *testing.T) {
	q := NewInbox()
	q.Push(&protocol.JoinAck{})
	q.Push(&protocol.JoinAck{})
	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal")
	}
	m, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, protocol.TypeJoinAck, m.Kind())
}

// authority plays the server side of a pipe.
type authority struct {
	t    *testing.T
	conn net.Conn
	ch   *transport.Channel
}

func newPipeProxy(t *testing.T, opts Options) (*Proxy, *authority, *fakeClock) {
	t.Helper()
	a, b := net.Pipe()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)}
	opts.Now = clock.Now
	opts.Logger = zaptest.NewLogger(t)
	p := New(context.Background(), a, opts)
	t.Cleanup(func() {
		b.Close()
		p.Close()
	})
	return p, &authority{t: t, conn: b, ch: transport.NewChannel(b, zaptest.NewLogger(t))}, clock
}

func (a *authority) send(msgs ...protocol.Message) {
	a.t.Helper()
	for _, m := range msgs {
		require.NoError(a.t, a.ch.WriteMessage(m))
	}
}

func (a *authority) recv() protocol.Message {
	a.t.Helper()
	require.NoError(a.t, a.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	m, err := a.ch.ReadMessage()
	require.NoError(a.t, err)
	return m
}

// settle waits until n messages are pending, then applies them.
func settle(t *testing.T, p *Proxy, n int) (engine.Phase, []protocol.Message) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Inbox().Len() >= n }, 2*time.Second, 5*time.Millisecond)
	return p.Update()
}

func testSnapshot(t *testing.T) engine.GridSnapshot {
	t.Helper()
	g, err := engine.NewGrid(2, 2, []engine.Lock{
		{Difficulty: engine.Easy, Target: "It's late.", RequiredWPM: 40, Reward: 6},
		{Difficulty: engine.Medium, Target: "The sea was calm.", RequiredWPM: 60, Reward: 7},
		{Difficulty: engine.Hard, Target: "Rain fell through the night.", RequiredWPM: 80, Reward: 9},
		{Difficulty: engine.Easy, Target: "Go on.", RequiredWPM: 40, Reward: 4},
	})
	require.NoError(t, err)
	return g.Snapshot()
}

func TestProxy_JoinAndLobby(t *testing.T) {
	p, srv, _ := newPipeProxy(t, Options{})

	require.NoError(t, p.Join("A", "@"))
	join, ok := srv.recv().(*protocol.Join)
	require.True(t, ok)
	assert.Equal(t, "A", join.UserID)
	assert.Equal(t, "@", join.Icon)

	players := map[string]engine.Player{"B": {Order: 1}, "A-2": {Glyph: "@", Order: 2}}
	srv.send(
		&protocol.JoinAck{Header: protocol.Header{UserID: "A-2"}},
		&protocol.LobbyUpdate{Players: players, HostID: "B"},
		&protocol.GridUpdate{Grid: testSnapshot(t), Players: players},
	)
	phase, applied := settle(t, p, 3)

	assert.Equal(t, engine.PhaseLobby, phase)
	assert.Len(t, applied, 3)
	assert.Equal(t, "A-2", p.ID())
	assert.Equal(t, "B", p.Host())
	assert.False(t, p.IsHost())
	grid, ok := p.Grid()
	require.True(t, ok)
	assert.Equal(t, 4, grid.Remaining)
	assert.Len(t, p.Players(), 2)

	// requests now carry the assigned identity
	require.NoError(t, p.Start())
	start := srv.recv()
	assert.Equal(t, protocol.TypeStartRequest, start.Kind())
}

func TestProxy_PhasesFollowLocalClock(t *testing.T) {
	p, srv, clock := newPipeProxy(t, Options{})
	srv.send(&protocol.GridUpdate{Grid: testSnapshot(t), Players: map[string]engine.Player{}})
	settle(t, p, 1)

	srv.send(&protocol.StartGame{CountdownSeconds: 3, GameTime: 60})
	phase, _ := settle(t, p, 1)
	assert.Equal(t, engine.PhaseCountdown, phase)
	assert.True(t, p.Started())

	clock.Advance(3 * time.Second)
	assert.Equal(t, engine.PhaseActive, p.Phase(clock.Now()))

	clock.Advance(time.Minute)
	assert.Equal(t, engine.PhaseEnded, p.Phase(clock.Now()))
}

func TestProxy_ClearedGridEnds(t *testing.T) {
	p, srv, clock := newPipeProxy(t, Options{})
	snap := testSnapshot(t)
	srv.send(&protocol.StartGame{GameTime: 60}, &protocol.GridUpdate{Grid: snap, Players: map[string]engine.Player{}})
	settle(t, p, 2)
	assert.Equal(t, engine.PhaseActive, p.Phase(clock.Now()))

	for i := range snap.Locks {
		snap.Locks[i].Broken = true
		snap.Locks[i].BrokenBy = "B"
		snap.Locks[i].Reward = 0
	}
	snap.Remaining = 0
	srv.send(&protocol.GridUpdate{Grid: snap, Players: map[string]engine.Player{}})
	phase, _ := settle(t, p, 1)
	assert.Equal(t, engine.PhaseEnded, phase)
}

func TestProxy_ClaimAndBreak(t *testing.T) {
	p, srv, clock := newPipeProxy(t, Options{})
	srv.send(&protocol.JoinAck{Header: protocol.Header{UserID: "A"}}, &protocol.GridUpdate{Grid: testSnapshot(t), Players: map[string]engine.Player{}})
	settle(t, p, 2)

	require.NoError(t, p.Claim(0))
	claim := srv.recv().(*protocol.ClaimRequest)
	assert.Equal(t, 0, claim.LockID)
	assert.Equal(t, "A", claim.UserID)

	lock := testSnapshot(t).Locks[0]
	lock.ClaimedBy = "A"
	srv.send(&protocol.ClaimResult{Success: true, Lock: &lock})
	settle(t, p, 1)
	at, ok := p.Attempt()
	require.True(t, ok)
	assert.True(t, at.Confirmed)

	clock.Advance(6 * time.Second)
	wpm, err := p.Break(0, "It’s late.")
	require.NoError(t, err)
	assert.Equal(t, 20.0, wpm)

	brk := srv.recv().(*protocol.BreakRequest)
	assert.Equal(t, "It's late.", brk.Text, "text is normalized before sending")
	assert.Equal(t, 20.0, brk.WPM)
	_, ok = p.Attempt()
	assert.False(t, ok)

	broken := testSnapshot(t).Locks[0]
	broken.Broken, broken.BrokenBy, broken.Reward = true, "A", 0
	srv.send(&protocol.BreakResult{Success: true, Points: 6, Lock: &broken})
	settle(t, p, 1)
	grid, _ := p.Grid()
	assert.True(t, grid.Locks[0].Broken)
	assert.Equal(t, 3, grid.Remaining)
}

func TestProxy_LostClaimEndsAttempt(t *testing.T) {
	p, srv, _ := newPipeProxy(t, Options{})
	srv.send(&protocol.JoinAck{Header: protocol.Header{UserID: "A"}}, &protocol.GridUpdate{Grid: testSnapshot(t), Players: map[string]engine.Player{}})
	settle(t, p, 2)

	// a grid_update sent before the claim was processed must not cancel it
	require.NoError(t, p.Claim(1))
	srv.recv()
	srv.send(&protocol.GridUpdate{Grid: testSnapshot(t), Players: map[string]engine.Player{}})
	settle(t, p, 1)
	_, ok := p.Attempt()
	assert.True(t, ok)

	lock := testSnapshot(t).Locks[1]
	lock.ClaimedBy = "B"
	srv.send(&protocol.ClaimResult{Success: false, Lock: &lock})
	settle(t, p, 1)
	_, ok = p.Attempt()
	assert.False(t, ok)
	grid, _ := p.Grid()
	assert.Equal(t, "B", grid.Locks[1].ClaimedBy)
}

func TestProxy_AttemptLimitUnclaims(t *testing.T) {
	p, srv, clock := newPipeProxy(t, Options{AttemptLimit: 30 * time.Second})
	srv.send(&protocol.JoinAck{Header: protocol.Header{UserID: "A"}})
	settle(t, p, 1)

	require.NoError(t, p.Claim(2))
	srv.recv()
	clock.Advance(31 * time.Second)
	p.Update()

	un, ok := srv.recv().(*protocol.UnclaimRequest)
	require.True(t, ok)
	assert.Equal(t, 2, un.LockID)
	_, held := p.Attempt()
	assert.False(t, held)
}

func TestProxy_DoneOnServerClose(t *testing.T) {
	p, srv, _ := newPipeProxy(t, Options{})
	srv.conn.Close()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("proxy did not notice the closed connection")
	}
	assert.NoError(t, p.Close())
	assert.ErrorIs(t, p.Start(), ErrClosed)
}

// startAuthority serves a 2x2 hub on a loopback port until the test ends.
func startAuthority(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := zaptest.NewLogger(t)
	h := hub.NewHub(ctx, hub.Config{Rows: 2, Cols: 2, Duration: time.Minute, Seed: 3, Logger: log})
	srv := transport.NewServer(h, transport.Options{Logger: log})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ctx, ln)
	return ln.Addr().String()
}

func TestProxy_DialTimeoutDoesNotEndSession(t *testing.T) {
	addr := startAuthority(t)

	dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	p, err := Dial(dctx, addr, Options{Logger: zaptest.NewLogger(t)})
	cancel()
	require.NoError(t, err)
	defer p.Close()

	select {
	case <-p.Done():
		t.Fatal("proxy stopped with the dial context")
	default:
	}
	require.NoError(t, p.Join("A", "@"))
	require.Eventually(t, func() bool {
		p.Update()
		_, ok := p.Grid()
		return ok && p.ID() == "A" && p.IsHost()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProxy_AgainstServer(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	addr := startAuthority(t)

	a, err := Dial(ctx, addr, Options{Logger: log})
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(ctx, addr, Options{Logger: log})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Join("A", ""))
	require.Eventually(t, func() bool { a.Update(); _, ok := a.Grid(); return ok && a.IsHost() }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.Join("B", ""))
	require.Eventually(t, func() bool { b.Update(); _, ok := b.Grid(); return ok }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Start())
	require.Eventually(t, func() bool {
		phase, _ := b.Update()
		return phase == engine.PhaseActive
	}, 2*time.Second, 5*time.Millisecond)

	grid, _ := b.Grid()
	require.NoError(t, b.Claim(1))
	require.Eventually(t, func() bool {
		b.Update()
		at, ok := b.Attempt()
		return ok && at.Confirmed
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.SendBreak(1, grid.Locks[1].Target, 500))

	require.Eventually(t, func() bool {
		a.Update()
		g, _ := a.Grid()
		return g.Locks[1].Broken
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, grid.Locks[1].Reward, a.Players()["B"].Score)
}
