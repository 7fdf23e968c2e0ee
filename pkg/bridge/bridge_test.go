// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startBridge upgrades one client connection against a test server and
// hands it to a Bridge running cfg.
func startBridge(t *testing.T, cfg Config) (*websocket.Conn, *Bridge) {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	bridges := make(chan *Bridge, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		b := New(ws, cfg)
		bridges <- b
		b.Run(context.Background())
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client, <-bridges
}

// startEchoStub runs a TCP server that echoes everything back.
func startEchoStub(t *testing.T) (string, uint16) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("stub listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()

	return hostPort(t, ln.Addr())
}

// recordingStub collects everything written to its TCP connection.
type recordingStub struct {
	mu     sync.Mutex
	data   []byte
	closed chan struct{}
}

func startRecordingStub(t *testing.T) (*recordingStub, string, uint16) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("stub listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	stub := &recordingStub{closed: make(chan struct{})}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				stub.mu.Lock()
				stub.data = append(stub.data, buf[:n]...)
				stub.mu.Unlock()
			}
			if err != nil {
				close(stub.closed)
				return
			}
		}
	}()

	host, port := hostPort(t, ln.Addr())
	return stub, host, port
}

func (s *recordingStub) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

func hostPort(t *testing.T, addr net.Addr) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("split %q failed: %v", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		t.Fatalf("parse port %q failed: %v", portStr, err)
	}
	return host, uint16(port)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

func TestBridgeRelaysEcho(t *testing.T) {
	host, port := startEchoStub(t)
	client, b := startBridge(t, Config{Host: host, Port: port})

	waitFor(t, "connected", func() bool { return b.State() == StateConnected })

	payload := []byte{0x01, 0x02}
	if err := client.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, got, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("echoed %v, want %v", got, payload)
	}
}

func TestBridgeFlushesPendingInOrder(t *testing.T) {
	stub, host, port := startRecordingStub(t)

	gate := make(chan struct{})
	dialer := &net.Dialer{}
	client, b := startBridge(t, Config{
		Host: host,
		Port: port,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			select {
			case <-gate:
				return dialer.DialContext(ctx, network, address)
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	msgs := [][]byte{{1}, {2, 3}, {4, 5, 6}}
	for _, msg := range msgs {
		if err := client.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	// All three messages must land in the pending queue before connect.
	waitFor(t, "messages queued", func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.state == StateConnecting && b.pending.len() == 3
	})
	if got := stub.bytes(); len(got) != 0 {
		t.Fatalf("stub saw %v before connect", got)
	}

	close(gate)

	want := []byte{1, 2, 3, 4, 5, 6}
	waitFor(t, "flush", func() bool { return bytes.Equal(stub.bytes(), want) })

	if b.State() != StateConnected {
		t.Errorf("state = %s, want connected", b.State())
	}
}

func TestBridgeConnectTimeout(t *testing.T) {
	client, b := startBridge(t, Config{
		Host:           "127.0.0.1",
		Port:           11753,
		ConnectTimeout: 50 * time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{9}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, _, err := client.ReadMessage()
	if code := closeCode(err); code != websocket.CloseInternalServerErr {
		t.Fatalf("close code = %d (%v), want 1011", code, err)
	}

	<-b.Done()
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBridgeConnectError(t *testing.T) {
	client, b := startBridge(t, Config{
		Host: "127.0.0.1",
		Port: 11753,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	})

	_, _, err := client.ReadMessage()
	if code := closeCode(err); code != websocket.CloseInternalServerErr {
		t.Fatalf("close code = %d (%v), want 1011", code, err)
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && !strings.Contains(ce.Text, "connection refused") {
		t.Errorf("close reason %q does not carry the dial error", ce.Text)
	}
	<-b.Done()
}

func TestBridgeTCPCloseClosesWebSocketNormally(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("stub listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Clean close right after accepting.
		conn.Close()
	}()

	host, port := hostPort(t, ln.Addr())
	client, b := startBridge(t, Config{Host: host, Port: port})

	_, _, err = client.ReadMessage()
	if code := closeCode(err); code != websocket.CloseNormalClosure {
		t.Fatalf("close code = %d (%v), want 1000", code, err)
	}
	<-b.Done()
}

func TestBridgeClientCloseDestroysTCP(t *testing.T) {
	stub, host, port := startRecordingStub(t)
	client, b := startBridge(t, Config{Host: host, Port: port})

	waitFor(t, "connected", func() bool { return b.State() == StateConnected })

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("close write failed: %v", err)
	}
	client.Close()

	select {
	case <-stub.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("tcp leg not torn down after client close")
	}
	<-b.Done()
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBridgeShutdownForceCloses(t *testing.T) {
	host, port := startEchoStub(t)
	client, b := startBridge(t, Config{Host: host, Port: port})

	waitFor(t, "connected", func() bool { return b.State() == StateConnected })
	b.Shutdown()

	_, _, err := client.ReadMessage()
	if code := closeCode(err); code != websocket.CloseGoingAway {
		t.Fatalf("close code = %d (%v), want 1001", code, err)
	}
	<-b.Done()
}

// A one-byte threshold forces a pause/resume cycle on nearly every chunk;
// the relayed stream must still arrive intact and in order.
func TestBridgeRelaysUnderConstantBackpressure(t *testing.T) {
	host, port := startEchoStub(t)
	client, b := startBridge(t, Config{
		Host:            host,
		Port:            port,
		BufferThreshold: 1,
	})

	waitFor(t, "connected", func() bool { return b.State() == StateConnected })

	payload := make([]byte, 64*1024)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("rand failed: %v", err)
	}
	if err := client.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var got []byte
	for len(got) < len(payload) {
		_, chunk, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read failed after %d bytes: %v", len(got), err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, payload) {
		t.Error("relayed bytes differ from sent bytes")
	}
}
