package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendRoundTrip(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "candor.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			require.Equal(t, "status", req.Command)
			return Response{OK: true, State: "in_call", Message: "ok"}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, "in_call", resp.State)
	require.Equal(t, "ok", resp.Message)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestSendDecodeResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "candor.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		_, _ = reader.ReadBytes('\n')
		_, _ = conn.Write([]byte("not-json\n"))
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestSendReadResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "candor.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		_ = conn.Close()
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read response")
}

func TestServeDecodeRequestErrorResponse(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "candor.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, _ Request) Response {
			return Response{OK: true}
		}))
	}()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")

	cancel()
	require.NoError(t, <-serveDone)
}

func TestProbe(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "candor.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Command == "status" {
				return Response{OK: true, State: "setup"}
			}
			return Response{OK: false, Error: "bad"}
		}))
	}()

	alive, probeErr := Probe(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, probeErr)
	require.True(t, alive)

	cancel()
	require.NoError(t, <-serveDone)

	alive, probeErr = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, probeErr)
	require.False(t, alive)
}

func TestCommandCarriesArgAndMapsRejection(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "candor.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Command == "retry" && req.Arg == "camera" {
				return Response{OK: true, State: "readiness_check", Message: "retry camera requested"}
			}
			return Response{OK: false, State: "in_call", Error: "cannot proceed from phase in_call"}
		}))
	}()

	resp, err := Command(context.Background(), socketPath, Request{Command: "retry", Arg: "camera"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "retry camera requested", resp.Message)

	resp, err = Command(context.Background(), socketPath, Request{Command: "proceed"}, 200*time.Millisecond)
	require.EqualError(t, err, "cannot proceed from phase in_call")
	require.Equal(t, "in_call", resp.State)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestCommandWithoutSessionReturnsErrNoSession(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "candor.sock")

	_, err := Command(context.Background(), socketPath, Request{Command: "status"}, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestResponseErr(t *testing.T) {
	require.NoError(t, Response{OK: true}.Err())
	require.EqualError(t, Response{}.Err(), "command rejected")
	require.EqualError(t, Response{Error: "session is finished"}.Err(), "session is finished")
}

func TestServeNormalizesCommandAndRejectsEmpty(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "candor.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan Request, 1)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			seen <- req
			return Response{OK: true}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{Command: "  Retry ", Arg: " mic "}, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, Request{Command: "retry", Arg: "mic"}, <-seen)

	resp, err = Send(context.Background(), socketPath, Request{Command: "   "}, 200*time.Millisecond)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Equal(t, "empty command", resp.Error)
	require.Empty(t, seen)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestServeRecoversHandlerPanic(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "candor.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Command == "mute" {
				panic("track gone")
			}
			return Response{OK: true, State: "in_call"}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{Command: "mute"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Equal(t, "mute: internal error: track gone", resp.Error)

	resp, err = Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "in_call", resp.State)

	cancel()
	require.NoError(t, <-serveDone)
}
