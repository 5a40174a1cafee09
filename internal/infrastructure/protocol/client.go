package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	apperrors "vidswarm/pkg/errors"
)

// ClientConfig bounds every blocking operation of a Client.
type ClientConfig struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Client sends requests over one connection, one at a time.
type Client struct {
	conn net.Conn
	br   *bufio.Reader
	cfg  ClientConfig
	mu   sync.Mutex
}

// Dial connects to addr. The returned error is classified for the caller.
func Dial(ctx context.Context, addr string, cfg ClientConfig) (*Client, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ClassifyNetError("dial "+addr, err)
	}
	return NewClient(conn, cfg), nil
}

func NewClient(conn net.Conn, cfg ClientConfig) *Client {
	return &Client{
		conn: conn,
		br:   bufio.NewReader(conn),
		cfg:  cfg,
	}
}

func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Do writes req and reads exactly one response frame.
func (c *Client) Do(ctx context.Context, req Message) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	op := req.Kind().String()

	_ = c.conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout))
	if err := WriteMessage(c.conn, req); err != nil {
		return nil, c.fail(ctx, op, err)
	}

	_ = c.conn.SetReadDeadline(deadline(ctx, c.cfg.ReadTimeout))
	resp, err := ReadMessage(c.br)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	return resp, nil
}

// ReadBody copies exactly size raw bytes that follow a VIDEO frame into w.
// Anything short of size is a transfer error.
func (c *Client) ReadBody(ctx context.Context, w io.Writer, size int64, buf []byte) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	var received int64
	for received < size {
		chunk := buf
		if remaining := size - received; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		_ = c.conn.SetReadDeadline(deadline(ctx, c.cfg.ReadTimeout))
		n, err := c.br.Read(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return received, apperrors.NewTransferError("write destination", werr)
			}
			received += int64(n)
		}
		if err != nil {
			if received < size {
				return received, c.fail(ctx, fmt.Sprintf("short read: %d of %d bytes", received, size), err)
			}
			break
		}
	}
	return received, nil
}

func (c *Client) fail(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return apperrors.NewTimeoutError(op, ctxErr)
		}
		return apperrors.NewTransferError(op+": cancelled", ctxErr)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperrors.NewTransferError(op+": connection closed", err)
	}
	return ClassifyNetError(op, err)
}

// Exchange dials addr, performs one request and closes the connection.
func Exchange(ctx context.Context, addr string, cfg ClientConfig, req Message) (Message, error) {
	c, err := Dial(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Do(ctx, req)
}

// deadline is now+timeout, or the context deadline when that comes first.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}
