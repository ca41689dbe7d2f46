package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// requestTimeout bounds how long a client may take to send its request line.
const requestTimeout = 2 * time.Second

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve accepts unix-socket clients until context cancellation or listener close.
// Each connection carries exactly one newline-delimited request.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			serveConn(ctx, c, handler)
		}(conn)
	}
}

// serveConn answers one request line. Commands are trimmed and lower-cased
// before they reach the handler; a handler panic becomes an error response
// so a bad command cannot take the session down.
func serveConn(ctx context.Context, c net.Conn, handler Handler) {
	defer c.Close()

	_ = c.SetReadDeadline(time.Now().Add(requestTimeout))
	line, err := bufio.NewReader(c).ReadBytes('\n')
	if err != nil {
		reply(c, Response{Error: fmt.Sprintf("read request: %v", err)})
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		reply(c, Response{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	req.Command = strings.ToLower(strings.TrimSpace(req.Command))
	req.Arg = strings.TrimSpace(req.Arg)
	if req.Command == "" {
		reply(c, Response{Error: "empty command"})
		return
	}

	_ = c.SetReadDeadline(time.Time{})
	reply(c, handle(ctx, handler, req))
}

func handle(ctx context.Context, handler Handler, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = Response{Error: fmt.Sprintf("%s: internal error: %v", req.Command, r)}
		}
	}()
	return handler.Handle(ctx, req)
}

func reply(c net.Conn, resp Response) {
	_ = c.SetWriteDeadline(time.Now().Add(requestTimeout))
	_ = json.NewEncoder(c).Encode(resp)
}
