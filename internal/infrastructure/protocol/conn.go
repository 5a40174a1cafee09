package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	apperrors "vidswarm/pkg/errors"
	"vidswarm/pkg/utils"
)

// Conn is the server side of one accepted connection.
type Conn struct {
	raw          net.Conn
	id           string
	br           *bufio.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration
	openedAt     time.Time
	draining     atomic.Bool

	mu      sync.Mutex
	closed  bool
	onClose []func()
}

func newConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		id:           utils.GenerateID("conn"),
		br:           bufio.NewReader(raw),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		openedAt:     time.Now(),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// RemoteHost is the remote IP without the port.
func (c *Conn) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.RemoteAddr())
	if err != nil {
		return c.RemoteAddr()
	}
	return host
}

// RemotePort is the remote's source port, or 0 for a non-TCP connection.
func (c *Conn) RemotePort() int {
	if addr, ok := c.raw.RemoteAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (c *Conn) OpenedAt() time.Time {
	return c.openedAt
}

// Send writes one response frame under the write timeout. A response too large
// for one frame is replaced by an INTERNAL_ERROR frame and the error is returned
// so the caller drops the connection.
func (c *Conn) Send(m Message) error {
	frame, err := Encode(m)
	if errors.Is(err, ErrFrameTooLarge) {
		msg := fmt.Sprintf("%s response exceeds %d bytes", m.Kind(), MaxFrameSize)
		if frame, err = Encode(&ErrorResponse{Code: string(apperrors.ErrCodeInternal), Message: msg}); err != nil {
			return err
		}
		if err := c.write(frame); err != nil {
			return err
		}
		return apperrors.WrapError(ErrFrameTooLarge, apperrors.ErrCodeInternal, msg, http.StatusInternalServerError)
	}
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Conn) write(frame []byte) error {
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.raw.Write(frame)
	return err
}

// SendBody copies exactly size bytes from r, extending the write deadline per chunk
// so a stalled reader is dropped without bounding the whole transfer.
func (c *Conn) SendBody(ctx context.Context, r io.Reader, size int64, buf []byte) (int64, error) {
	var written int64
	for written < size {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		chunk := buf
		if remaining := size - written; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, rerr := io.ReadFull(r, chunk)
		if n > 0 {
			if c.writeTimeout > 0 {
				_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			wn, werr := c.raw.Write(chunk[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if rerr != nil {
			return written, fmt.Errorf("source ended after %d of %d bytes: %w", written, size, rerr)
		}
	}
	return written, nil
}

// OnClose registers fn to run once when the connection closes.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		go fn()
		return
	}
	c.onClose = append(c.onClose, fn)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	err := c.raw.Close()
	for _, fn := range hooks {
		fn()
	}
	return err
}

func (c *Conn) readRequest() (Message, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	if c.draining.Load() {
		return nil, net.ErrClosed
	}
	return ReadMessage(c.br)
}

// interrupt unblocks a pending read so an idle connection notices shutdown.
// It must store draining before moving the deadline; readRequest checks in the opposite order.
func (c *Conn) interrupt() {
	c.draining.Store(true)
	_ = c.raw.SetReadDeadline(time.Now())
}

// reject reports err to a client that will not be served and closes it.
func reject(raw net.Conn, err error, writeTimeout time.Duration) {
	defer raw.Close()
	if writeTimeout > 0 {
		_ = raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	_ = WriteMessage(raw, ErrorFor(err))
}

var errTooManyConnections = apperrors.NewServiceUnavailableError("too many connections")
