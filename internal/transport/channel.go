package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lockbreak/internal/protocol"
)

// MaxFrameSize bounds one newline-terminated frame, delimiter included.
const MaxFrameSize = 64 << 10

var ErrFrameTooLarge = errors.New("frame too large")

// Channel frames protocol messages over a reliable ordered byte stream. Reads
// and writes are independent: one goroutine may read while others write.
type Channel struct {
	conn net.Conn
	r    *bufio.Reader
	log  *zap.Logger

	wmu          sync.Mutex
	writeTimeout time.Duration
}

func NewChannel(conn net.Conn, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, MaxFrameSize),
		log:          log,
		writeTimeout: 5 * time.Second,
	}
}

// SetWriteTimeout bounds each frame write; zero disables the deadline.
func (c *Channel) SetWriteTimeout(d time.Duration) { c.writeTimeout = d }

// ReadFrame returns the next delimited frame without its delimiter. A frame
// longer than MaxFrameSize is consumed and reported as ErrFrameTooLarge; the
// channel stays usable. A trailing partial frame at EOF is dropped.
func (c *Channel) ReadFrame() ([]byte, error) {
	line, err := c.r.ReadSlice(protocol.Delimiter)
	switch {
	case err == nil:
		return bytes.Clone(line[:len(line)-1]), nil
	case errors.Is(err, bufio.ErrBufferFull):
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = c.r.ReadSlice(protocol.Delimiter)
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrFrameTooLarge
	default:
		if len(line) > 0 && errors.Is(err, io.EOF) {
			c.log.Debug("dropped partial frame at EOF", zap.Int("bytes", len(line)))
		}
		return nil, err
	}
}

// ReadMessage returns the next well-formed message. Oversized, undecodable or
// incomplete frames are skipped; only stream errors end the read.
func (c *Channel) ReadMessage() (protocol.Message, error) {
	for {
		frame, err := c.ReadFrame()
		if errors.Is(err, ErrFrameTooLarge) {
			c.log.Debug("dropped oversized frame")
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		m, err := protocol.Unmarshal(frame)
		if err != nil {
			c.log.Debug("dropped malformed frame", zap.Error(err))
			continue
		}
		return m, nil
	}
}

// WriteFrame writes one already-delimited frame.
func (c *Channel) WriteFrame(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("write %d bytes: %w", len(frame), ErrFrameTooLarge)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(frame)
	return err
}

// WriteMessage encodes and writes m. m must not be shared with other writers.
func (c *Channel) WriteMessage(m protocol.Message) error {
	frame, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	return c.WriteFrame(frame)
}

func (c *Channel) Close() error { return c.conn.Close() }

func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
