// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	wserrors "github.com/absmach/wsbridge/pkg/errors"
	"github.com/absmach/wsbridge/pkg/pool"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultConnectTimeout bounds the outbound TCP connect.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultBufferThreshold is the outbound buffered-byte count above
	// which the TCP-to-WebSocket direction pauses reading.
	DefaultBufferThreshold = 64 * 1024

	readBufferSize    = 32 * 1024
	closeWriteTimeout = time.Second
)

// Session teardown causes, as reported through Events.Disconnected.
const (
	CauseTCPClosed      = "tcp_closed"
	CauseTCPError       = "tcp_error"
	CauseConnectTimeout = "connect_timeout"
	CauseConnectError   = "connect_error"
	CauseClientClosed   = "client_closed"
	CauseWSError        = "ws_error"
	CauseShutdown       = "shutdown"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// DialFunc opens the outbound TCP leg. Tests substitute it to observe or
// suppress connection attempts.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config holds per-session configuration.
type Config struct {
	Host            string
	Port            uint16
	ConnectTimeout  time.Duration // defaults to DefaultConnectTimeout
	BufferThreshold int           // defaults to DefaultBufferThreshold
	Dial            DialFunc      // defaults to a net.Dialer
	Logger          *slog.Logger
	Events          Events
}

// Bridge relays bytes between one WebSocket connection and one TCP
// connection. Create it with New and drive it with Run; all teardown is
// idempotent and contained within the session.
type Bridge struct {
	id     string
	target string
	cfg    Config
	ws     *websocket.Conn
	logger *slog.Logger
	events Events

	mu      sync.Mutex // guards state, tcp, pending, cancel
	state   State
	tcp     net.Conn
	pending queue
	cancel  context.CancelFunc

	wmu sync.Mutex // serializes TCP writes so flush precedes direct writes

	wsToTCP *flow
	tcpToWS *flow

	wsOut     chan []byte
	closeOnce sync.Once
	done      chan struct{}
	started   time.Time
}

// New creates a Bridge for an upgraded WebSocket connection. The TCP leg
// is not dialed until Run.
func New(ws *websocket.Conn, cfg Config) *Bridge {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.BufferThreshold <= 0 {
		cfg.BufferThreshold = DefaultBufferThreshold
	}
	if cfg.Dial == nil {
		dialer := &net.Dialer{}
		cfg.Dial = dialer.DialContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents{}
	}

	id := uuid.New().String()
	target := net.JoinHostPort(cfg.Host, strconv.FormatUint(uint64(cfg.Port), 10))

	return &Bridge{
		id:      id,
		target:  target,
		cfg:     cfg,
		ws:      ws,
		logger:  cfg.Logger.With(slog.String("session", id), slog.String("host", cfg.Host), slog.Uint64("port", uint64(cfg.Port))),
		events:  cfg.Events,
		state:   StateConnecting,
		wsToTCP: newFlow(cfg.BufferThreshold),
		tcpToWS: newFlow(cfg.BufferThreshold),
		wsOut:   make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// ID returns the session identifier.
func (b *Bridge) ID() string {
	return b.id
}

// Target returns the host:port the session relays to.
func (b *Bridge) Target() string {
	return b.target
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FlowState returns the flow-control flag of one relay direction.
func (b *Bridge) FlowState(d Direction) FlowState {
	if d == TCPToWS {
		return b.tcpToWS.state()
	}
	return b.wsToTCP.state()
}

// Done is closed when the session has fully torn down.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Run dials the TCP leg and relays until the session closes. It blocks
// until teardown is complete. Cancelling ctx force-closes the session.
func (b *Bridge) Run(ctx context.Context) {
	b.started = time.Now()
	b.events.Started(b.id, b.target)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	// Read the WebSocket immediately so messages racing the connect are
	// queued instead of dropped.
	go b.wsReadLoop()

	dialCtx, dialCancel := context.WithTimeout(runCtx, b.cfg.ConnectTimeout)
	conn, err := b.cfg.Dial(dialCtx, "tcp", b.target)
	dialCancel()
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			b.logger.Info("tcp connect timed out")
			b.closeWith(websocket.CloseInternalServerErr, "connect timeout", CauseConnectTimeout,
				wserrors.New("connect", b.id, b.target, wserrors.ErrConnectTimeout))
		case errors.Is(err, context.Canceled):
			b.closeWith(websocket.CloseNormalClosure, "", CauseClientClosed, nil)
		default:
			b.logger.Info("tcp connect failed", slog.String("error", err.Error()))
			b.closeWith(websocket.CloseInternalServerErr, err.Error(), CauseConnectError,
				wserrors.New("connect", b.id, b.target, err))
		}
		<-b.done
		return
	}

	if !b.becomeConnected(conn) {
		// Session closed while dialing.
		conn.Close()
		<-b.done
		return
	}

	b.logger.Debug("session connected")
	b.events.Connected(b.id, b.target)

	go func() {
		select {
		case <-runCtx.Done():
			b.closeWith(websocket.CloseGoingAway, "server shutting down", CauseShutdown, nil)
		case <-b.done:
		}
	}()

	go b.wsWriteLoop()
	b.tcpReadLoop(conn)
	<-b.done
}

// Shutdown force-closes the session. Used during process drain.
func (b *Bridge) Shutdown() {
	b.closeWith(websocket.CloseGoingAway, "server shutting down", CauseShutdown, nil)
}

// becomeConnected installs the TCP leg and flushes the pending queue.
// The drain and the switch to StateConnected happen under one critical
// section, so a message racing the connect is either flushed with the
// queue or written directly after it, never both.
func (b *Bridge) becomeConnected(conn net.Conn) bool {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	b.mu.Lock()
	if b.state != StateConnecting {
		b.mu.Unlock()
		return false
	}
	b.tcp = conn
	chunks := b.pending.drain()
	b.state = StateConnected
	b.mu.Unlock()

	for _, chunk := range chunks {
		if _, err := conn.Write(chunk); err != nil {
			b.closeWith(websocket.CloseInternalServerErr, err.Error(), CauseTCPError,
				wserrors.New("flush", b.id, b.target, err))
			return false
		}
		b.events.Relayed(WSToTCP, len(chunk))
	}
	return true
}

// wsReadLoop receives WebSocket messages and either queues them (while
// connecting) or writes them to the TCP leg.
func (b *Bridge) wsReadLoop() {
	for {
		_, data, err := b.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.closeWith(websocket.CloseNormalClosure, "", CauseClientClosed, nil)
			} else {
				b.closeWith(websocket.CloseNormalClosure, "", CauseWSError,
					wserrors.New("ws read", b.id, b.target, err))
			}
			return
		}

		b.mu.Lock()
		switch b.state {
		case StateConnecting:
			b.pending.push(data)
			b.mu.Unlock()
		case StateConnected:
			conn := b.tcp
			b.mu.Unlock()
			if !b.writeTCP(conn, data) {
				return
			}
		default:
			b.mu.Unlock()
			return
		}
	}
}

// writeTCP forwards one WebSocket message to the TCP leg. The direction is
// marked paused for the duration of the write: a full socket buffer blocks
// the write, which in turn stops further WebSocket receives until the
// kernel accepts the data.
func (b *Bridge) writeTCP(conn net.Conn, data []byte) bool {
	b.wmu.Lock()
	b.wsToTCP.setPaused(true)
	_, err := conn.Write(data)
	b.wsToTCP.setPaused(false)
	b.wmu.Unlock()
	if err != nil {
		b.closeWith(websocket.CloseInternalServerErr, err.Error(), CauseTCPError,
			wserrors.New("relay", b.id, b.target, err))
		return false
	}
	b.events.Relayed(WSToTCP, len(data))
	return true
}

// tcpReadLoop reads the TCP leg and hands chunks to the WebSocket writer.
// It pauses whenever the outbound buffered-byte count exceeds the
// threshold and resumes once the writer has drained below it.
func (b *Bridge) tcpReadLoop(conn net.Conn) {
	buf := pool.Get(readBufferSize)
	defer pool.Put(buf)

	for {
		b.tcpToWS.wait()
		select {
		case <-b.done:
			return
		default:
		}

		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			b.tcpToWS.produced(n)
			select {
			case b.wsOut <- chunk:
			case <-b.done:
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				b.closeWith(websocket.CloseNormalClosure, "", CauseTCPClosed, nil)
			case errors.Is(err, net.ErrClosed):
				// Torn down elsewhere; nothing left to report.
			default:
				b.closeWith(websocket.CloseInternalServerErr, err.Error(), CauseTCPError,
					wserrors.New("relay", b.id, b.target, err))
			}
			return
		}
	}
}

// wsWriteLoop delivers TCP chunks to the WebSocket and credits the
// flow controller as each write completes.
func (b *Bridge) wsWriteLoop() {
	for {
		select {
		case chunk := <-b.wsOut:
			if err := b.ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				b.closeWith(websocket.CloseNormalClosure, "", CauseWSError,
					wserrors.New("ws write", b.id, b.target, err))
				return
			}
			b.tcpToWS.consumed(len(chunk))
			b.events.Relayed(TCPToWS, len(chunk))
		case <-b.done:
			return
		}
	}
}

// closeWith tears the session down: cancel the connect timer, close the
// TCP leg, close the WebSocket with the given code, release the pending
// queue and unblock all waiters. Safe to call from any goroutine and from
// multiple triggers; only the first caller performs the teardown.
func (b *Bridge) closeWith(code int, reason, cause string, err error) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.state = StateClosing
		conn := b.tcp
		b.tcp = nil
		b.pending.reset()
		cancel := b.cancel
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close()
		}

		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(closeWriteTimeout)
		if werr := b.ws.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil {
			b.logger.Debug("close frame not delivered", slog.String("error", werr.Error()))
		}
		b.ws.Close()

		b.wsToTCP.release()
		b.tcpToWS.release()
		close(b.done)

		b.mu.Lock()
		b.state = StateClosed
		b.mu.Unlock()

		if err != nil {
			b.logger.Info("session closed", slog.String("cause", cause), slog.String("error", err.Error()))
		} else {
			b.logger.Debug("session closed", slog.String("cause", cause))
		}
		b.events.Disconnected(b.id, b.target, cause, time.Since(b.started))
	})
}
