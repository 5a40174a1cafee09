package protocol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"vidswarm/internal/core/domain"
	apperrors "vidswarm/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	srv    *ConnServer
	addr   string
	served chan error
}

func startServer(t *testing.T, cfg ServerConfig, handler Handler) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{
		srv:    NewConnServer(cfg, handler, zaptest.NewLogger(t).Sugar()),
		addr:   ln.Addr().String(),
		served: make(chan error, 1),
	}
	go func() { ts.served <- ts.srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ts.srv.Shutdown(ctx)
	})
	return ts
}

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, conn *Conn, req Message) error {
		switch m := req.(type) {
		case *Hello:
			return conn.Send(&HelloAck{PeerID: m.PeerID})
		case *GetVideo:
			return conn.Send(&NotFound{Message: "video " + string(m.VideoID) + " not found"})
		default:
			return conn.Send(&OK{})
		}
	})
}

func testClientConfig() ClientConfig {
	return ClientConfig{DialTimeout: time.Second, ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second}
}

func TestConnServer_PersistentConnection(t *testing.T) {
	ts := startServer(t, ServerConfig{Name: "test"}, echoHandler())

	c, err := Dial(context.Background(), ts.addr, testClientConfig())
	require.NoError(t, err)
	defer c.Close()

	for _, id := range []domain.PeerID{"a", "b", "c"} {
		resp, err := c.Do(context.Background(), &Hello{PeerID: id})
		require.NoError(t, err)
		assert.Equal(t, &HelloAck{PeerID: id}, resp)
	}
}

func TestConnServer_MalformedFrame(t *testing.T) {
	ts := startServer(t, ServerConfig{Name: "test"}, echoHandler())

	raw, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.Write([]byte{0, 0, 0, 1, 0x42})
	require.NoError(t, err)

	_ = raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := ReadMessage(raw)
	require.NoError(t, err)
	assert.IsType(t, &ProtocolError{}, resp)

	_, err = ReadMessage(raw)
	assert.Error(t, err, "server closes after a protocol error")
}

func TestConnServer_ResponseKindSentAsRequest(t *testing.T) {
	ts := startServer(t, ServerConfig{Name: "test"}, echoHandler())

	c, err := Dial(context.Background(), ts.addr, testClientConfig())
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do(context.Background(), &OK{})
	require.NoError(t, err)
	assert.IsType(t, &ProtocolError{}, resp)
}

func TestConnServer_AdmitRejects(t *testing.T) {
	ts := startServer(t, ServerConfig{
		Name:  "test",
		Admit: func(net.Addr) error { return apperrors.NewRateLimitError() },
	}, echoHandler())

	raw, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer raw.Close()

	_ = raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := ReadMessage(raw)
	require.NoError(t, err)
	require.IsType(t, &ErrorResponse{}, resp)
	assert.ErrorIs(t, ResponseError(resp), apperrors.NewRateLimitError())
}

func TestConnServer_MaxConnections(t *testing.T) {
	ts := startServer(t, ServerConfig{Name: "test", MaxConnections: 1}, echoHandler())

	first, err := Dial(context.Background(), ts.addr, testClientConfig())
	require.NoError(t, err)
	defer first.Close()
	_, err = first.Do(context.Background(), &Hello{PeerID: "a"})
	require.NoError(t, err)

	raw, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer raw.Close()

	_ = raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := ReadMessage(raw)
	require.NoError(t, err)
	assert.ErrorIs(t, ResponseError(resp), apperrors.ErrServiceUnavailable)
}

func TestConnServer_ReadTimeoutDropsIdleConnection(t *testing.T) {
	ts := startServer(t, ServerConfig{Name: "test", ReadTimeout: 50 * time.Millisecond}, echoHandler())

	raw, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer raw.Close()

	_ = raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = ReadMessage(raw)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnServer_OnCloseRunsWhenClientLeaves(t *testing.T) {
	closed := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, conn *Conn, req Message) error {
		conn.OnClose(func() { close(closed) })
		return conn.Send(&OK{})
	})
	ts := startServer(t, ServerConfig{Name: "test"}, handler)

	c, err := Dial(context.Background(), ts.addr, testClientConfig())
	require.NoError(t, err)
	_, err = c.Do(context.Background(), &Hello{PeerID: "a"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close hook did not run")
	}
}

func TestConnServer_Shutdown(t *testing.T) {
	ts := startServer(t, ServerConfig{Name: "test"}, echoHandler())

	c, err := Dial(context.Background(), ts.addr, testClientConfig())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Do(context.Background(), &Hello{PeerID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, ts.srv.ActiveConnections())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))

	select {
	case err := <-ts.served:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, 0, ts.srv.ActiveConnections())

	_, err = Dial(context.Background(), ts.addr, testClientConfig())
	assert.Error(t, err)
}

func TestConnServer_ReopenServesAgain(t *testing.T) {
	ts := startServer(t, ServerConfig{Name: "test"}, echoHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))
	assert.ErrorIs(t, <-ts.served, ErrServerClosed)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedErr := ts.srv.Serve(ln)
	assert.ErrorIs(t, closedErr, ErrServerClosed, "serving without Reopen must refuse")

	ts.srv.Reopen()
	ln, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- ts.srv.Serve(ln) }()

	resp, err := Exchange(context.Background(), ln.Addr().String(), testClientConfig(), &Hello{PeerID: "b"})
	require.NoError(t, err)
	assert.Equal(t, &HelloAck{PeerID: "b"}, resp)

	require.NoError(t, ts.srv.Shutdown(ctx))
	assert.ErrorIs(t, <-served, ErrServerClosed)
}

func videoHandler(body []byte, declared int64) Handler {
	return HandlerFunc(func(ctx context.Context, conn *Conn, req Message) error {
		if err := conn.Send(&Video{Size: declared}); err != nil {
			return err
		}
		_, err := conn.SendBody(ctx, bytes.NewReader(body), declared, make([]byte, 16))
		return err
	})
}

func TestClient_ReadBody(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 100)
	ts := startServer(t, ServerConfig{Name: "test"}, videoHandler(body, int64(len(body))))

	c, err := Dial(context.Background(), ts.addr, testClientConfig())
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do(context.Background(), &GetVideo{VideoID: "v1"})
	require.NoError(t, err)
	video, ok := resp.(*Video)
	require.True(t, ok)

	var out bytes.Buffer
	n, err := c.ReadBody(context.Background(), &out, video.Size, make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)
	assert.Equal(t, body, out.Bytes())
}

func TestClient_ReadBodyShortReadIsTransferError(t *testing.T) {
	ts := startServer(t, ServerConfig{Name: "test"}, videoHandler(make([]byte, 40), 100))

	c, err := Dial(context.Background(), ts.addr, testClientConfig())
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do(context.Background(), &GetVideo{VideoID: "v1"})
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := c.ReadBody(context.Background(), &out, resp.(*Video).Size, make([]byte, 16))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransfer)
	assert.Equal(t, int64(40), n)
}

func TestClient_ContextDeadline(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, conn *Conn, req Message) error {
		time.Sleep(300 * time.Millisecond)
		return conn.Send(&OK{})
	})
	ts := startServer(t, ServerConfig{Name: "test"}, handler)

	c, err := Dial(context.Background(), ts.addr, testClientConfig())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Do(ctx, &ListPeers{})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestExchange_NotFoundResponse(t *testing.T) {
	ts := startServer(t, ServerConfig{Name: "test"}, echoHandler())

	resp, err := Exchange(context.Background(), ts.addr, testClientConfig(), &GetVideo{VideoID: "nope"})
	require.NoError(t, err)
	assert.ErrorIs(t, ResponseError(resp), apperrors.ErrNotFound)
}

func TestClassifyNetError(t *testing.T) {
	assert.Nil(t, ClassifyNetError("op", nil))
	assert.ErrorIs(t, ClassifyNetError("op", os.ErrDeadlineExceeded), apperrors.ErrTimeout)
	assert.ErrorIs(t, ClassifyNetError("op", io.ErrUnexpectedEOF), apperrors.ErrTransfer)
	assert.ErrorIs(t, ClassifyNetError("op", ErrUnknownKind), apperrors.ErrProtocol)
	assert.ErrorIs(t, ClassifyNetError("op", errors.New("boom")), apperrors.ErrTransfer)

	notFound := apperrors.NewNotFoundError("video")
	assert.Same(t, notFound, ClassifyNetError("op", notFound))
}

func TestErrorFor(t *testing.T) {
	assert.IsType(t, &NotFound{}, ErrorFor(apperrors.NewNotFoundError("video")))
	assert.IsType(t, &ProtocolError{}, ErrorFor(apperrors.NewProtocolError("bad")))

	resp := ErrorFor(apperrors.NewInvalidInputError("bad port"))
	require.IsType(t, &ErrorResponse{}, resp)
	assert.ErrorIs(t, ResponseError(resp), apperrors.ErrInvalidInput)

	plain := ErrorFor(errors.New("boom")).(*ErrorResponse)
	assert.Equal(t, string(apperrors.ErrCodeInternal), plain.Code)
	assert.Nil(t, ResponseError(&OK{}))
}
