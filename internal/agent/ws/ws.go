// Package ws connects to a voice agent over a JSON websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbright/candor/internal/agent"
	"github.com/rbright/candor/internal/agent/wire"
)

const (
	defaultConnectTimeout = 15 * time.Second
	closeGrace            = 2 * time.Second
)

// Transport is an agent.Transport over one websocket per call.
type Transport struct {
	url    string
	header http.Header
	logger *slog.Logger

	events chan agent.Event

	mu   sync.Mutex
	call *call
}

// New builds a websocket transport for url. header is sent on the upgrade request.
func New(url string, header http.Header, logger *slog.Logger) *Transport {
	return &Transport{
		url:    url,
		header: header,
		logger: logger,
		events: make(chan agent.Event, 256),
	}
}

func (t *Transport) Events() <-chan agent.Event { return t.events }

// Start dials the agent, sends the start frame and begins streaming audio.
func (t *Transport) Start(ctx context.Context, opts agent.Options, audio <-chan []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.call != nil && !t.call.closed.Load() {
		return errors.New("voice call already connected")
	}

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, t.url, t.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial voice agent %s (status %d): %w", t.url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial voice agent %s: %w", t.url, err)
	}

	c := &call{
		conn:   conn,
		events: t.events,
		logger: t.logger,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	if err := c.send(wire.Start(opts.Assistant())); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send start frame: %w", err)
	}

	t.call = c
	go c.readLoop()
	if audio != nil {
		go c.pumpAudio(audio)
	}
	return nil
}

// Stop sends a stop frame and closes the connection.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	c := t.call
	t.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.close(ctx)
}

type call struct {
	conn   *websocket.Conn
	events chan<- agent.Event
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	ended     atomic.Bool

	stop chan struct{}
	done chan struct{}
}

func (c *call) send(frame wire.Frame) error {
	if c.closed.Load() {
		return errors.New("voice call is closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *call) pumpAudio(audio <-chan []byte) {
	for {
		select {
		case <-c.stop:
			return
		case chunk, ok := <-audio:
			if !ok {
				return
			}
			if err := c.send(wire.Audio(chunk)); err != nil {
				return
			}
		}
	}
}

func (c *call) readLoop() {
	defer close(c.done)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case c.closed.Load():
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.emitEnd("connection closed")
			default:
				c.emit(agent.ErrorEvent(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			frame, err := wire.Decode(data)
			if err != nil {
				c.warn("drop malformed agent frame", err)
				continue
			}
			ev, err := agent.EventFromFrame(frame)
			if err != nil {
				c.warn("drop undecodable agent frame", err)
				continue
			}
			if ev.Type == wire.TypeCallEnd {
				c.ended.Store(true)
			}
			c.emit(ev)
		case websocket.BinaryMessage:
			c.emit(agent.Event{Type: wire.TypeAudio, Audio: append([]byte(nil), data...)})
		}
	}
}

func (c *call) emitEnd(reason string) {
	if c.ended.Swap(true) {
		return
	}
	c.emit(agent.Event{Type: wire.TypeCallEnd, Reason: reason})
}

func (c *call) emit(ev agent.Event) {
	select {
	case c.events <- ev:
	case <-c.stop:
	}
}

func (c *call) close(ctx context.Context) error {
	var sendErr error
	c.closeOnce.Do(func() {
		select {
		case <-c.done:
		default:
			sendErr = c.send(wire.Stop("client"))
		}
		c.closed.Store(true)
		close(c.stop)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if sendErr != nil {
		return fmt.Errorf("send stop frame: %w", sendErr)
	}
	return nil
}

func (c *call) warn(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, "error", err.Error())
	}
}
