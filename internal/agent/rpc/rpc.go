// Package rpc connects to a voice agent over a bidirectional gRPC stream.
package rpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/candor/internal/agent"
	"github.com/rbright/candor/internal/agent/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultDialTimeout = 3 * time.Second
	closeGrace         = 2 * time.Second
)

// Config controls how the transport reaches the agent.
type Config struct {
	// Target is a grpc:// or grpcs:// URL, or a bare gRPC target.
	Target      string
	TLS         bool
	DialTimeout time.Duration
	DialOptions []grpc.DialOption
}

// Transport is an agent.Transport over one Converse stream per call.
type Transport struct {
	cfg    Config
	logger *slog.Logger
	events chan agent.Event

	mu   sync.Mutex
	call *call
}

// New builds a gRPC transport.
func New(cfg Config, logger *slog.Logger) *Transport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Transport{cfg: cfg, logger: logger, events: make(chan agent.Event, 256)}
}

func (t *Transport) Events() <-chan agent.Event { return t.events }

// Target strips a grpc:// or grpcs:// scheme and reports whether TLS is implied.
func Target(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "grpcs://"):
		return strings.TrimSuffix(strings.TrimPrefix(raw, "grpcs://"), "/"), true
	case strings.HasPrefix(raw, "grpc://"):
		return strings.TrimSuffix(strings.TrimPrefix(raw, "grpc://"), "/"), false
	default:
		return raw, false
	}
}

// Dial opens a ready client connection to target.
func Dial(ctx context.Context, cfg Config) (*grpc.ClientConn, error) {
	target, secure := Target(cfg.Target)
	if target == "" {
		return nil, errors.New("voice agent endpoint is empty")
	}
	creds := insecure.NewCredentials()
	if secure || cfg.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, cfg.DialOptions...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial voice agent grpc %q: %w", target, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for voice agent grpc readiness: %w", err)
	}
	return conn, nil
}

// Start dials the agent, opens the Converse stream and sends the start frame.
func (t *Transport) Start(ctx context.Context, opts agent.Options, audio <-chan []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.call != nil && !t.call.closed.Load() {
		return errors.New("voice call already connected")
	}

	conn, err := Dial(ctx, t.cfg)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := conn.NewStream(streamCtx, &converseDesc, ConverseRoute)
	if err != nil {
		cancel()
		_ = conn.Close()
		return fmt.Errorf("open converse stream: %w", err)
	}

	c := &call{
		conn:   conn,
		stream: stream,
		cancel: cancel,
		events: t.events,
		logger: t.logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := c.send(wire.Start(opts.Assistant())); err != nil {
		cancel()
		_ = conn.Close()
		return fmt.Errorf("send start frame: %w", err)
	}

	t.call = c
	go c.recvLoop()
	if audio != nil {
		go c.pumpAudio(audio)
	}
	return nil
}

// Stop sends a stop frame, half-closes the stream and tears the connection down.
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
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	events chan<- agent.Event
	logger *slog.Logger

	sendMu    sync.Mutex
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
	msg, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.SendMsg(msg)
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

func (c *call) recvLoop() {
	defer close(c.done)

	for {
		msg := &structpb.Struct{}
		err := c.stream.RecvMsg(msg)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.emitEnd("connection closed")
			case c.closed.Load() || status.Code(err) == codes.Canceled:
			default:
				c.emit(agent.ErrorEvent(err))
			}
			return
		}

		frame, err := DecodeFrame(msg)
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
	}
}

func (c *call) emitEnd(reason string) {
	if c.ended.Swap(true) || c.closed.Load() {
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

		c.sendMu.Lock()
		_ = c.stream.CloseSend()
		c.sendMu.Unlock()

		timer := time.NewTimer(closeGrace)
		defer timer.Stop()
		select {
		case <-c.done:
		case <-timer.C:
		case <-ctx.Done():
		}
		c.cancel()
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
