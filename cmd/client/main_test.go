package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/lockbreak/internal/hub"
	"github.com/DoyleJ11/lockbreak/internal/transport"
)

// lockedBuffer lets the test read what run has printed so far.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(b.buf.String(), s)
}

func startAuthority(t *testing.T) (host, port string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := zaptest.NewLogger(t)
	h := hub.NewHub(ctx, hub.Config{Rows: 2, Cols: 2, Duration: time.Minute, Seed: 5, Logger: log})
	srv := transport.NewServer(h, transport.Options{Logger: log})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ctx, ln)

	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port
}

func TestRun_JoinStartQuit(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	host, port := startAuthority(t)

	in, typing := io.Pipe()
	t.Cleanup(func() { typing.Close() })
	out := &lockedBuffer{}

	errc := make(chan error, 1)
	go func() {
		errc <- run(context.Background(), []string{"-name", "ana", "-host", host, "-port", port}, in, out)
	}()

	waitFor := func(s string) {
		t.Helper()
		require.Eventually(t, func() bool { return out.Contains(s) }, 3*time.Second, 10*time.Millisecond, "waiting for %q", s)
	}

	waitFor("joined as ana")
	waitFor("host ana")

	_, err := io.WriteString(typing, "start\n")
	require.NoError(t, err)
	waitFor("go!")
	waitFor("LOCK")

	_, err = io.WriteString(typing, "quit\n")
	require.NoError(t, err)
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after quit")
	}
	require.False(t, out.Contains("connection lost"))
}

func TestRun_EndOfInputQuits(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	host, port := startAuthority(t)
	out := &lockedBuffer{}

	err := run(context.Background(), []string{"-name", "bo", "-host", host, "-port", port}, strings.NewReader(""), out)
	require.NoError(t, err)
	require.True(t, out.Contains("commands:"))
}
