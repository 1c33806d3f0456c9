package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"

	"github.com/example/ride-chat-relay/domain/ride"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

type written struct {
	messageType int
	data        []byte
}

// fakeConn records writes and can be made to fail.
type fakeConn struct {
	mu      sync.Mutex
	writes  []written
	failAt  int
	closed  bool
	blockCh chan struct{}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && len(f.writes)+1 >= f.failAt {
		return errors.New("broken pipe")
	}
	f.writes = append(f.writes, written{messageType: messageType, data: data})
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) snapshot() ([]written, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]written(nil), f.writes...), f.closed
}

func testSession(conn wsConn, queue int) *Session {
	cfg := DefaultConfig()
	cfg.SendQueueSize = queue
	cfg.PingInterval = time.Hour
	return newSession("s1", "ride-1", ride.Identity{UserID: "u1", DisplayName: "User"}, conn, cfg, &mockLogger{})
}

func TestSession_DeliverQueueFull(t *testing.T) {
	s := testSession(&fakeConn{}, 2)

	if err := s.Deliver([]byte("1")); err != nil {
		t.Fatalf("Deliver() 1 error = %v", err)
	}
	if err := s.Deliver([]byte("2")); err != nil {
		t.Fatalf("Deliver() 2 error = %v", err)
	}
	if err := s.Deliver([]byte("3")); !errors.Is(err, ErrSendQueueFull) {
		t.Errorf("Deliver() on full queue error = %v, want ErrSendQueueFull", err)
	}
}

func TestSession_DeliverAfterClose(t *testing.T) {
	s := testSession(&fakeConn{}, 2)
	s.Close()
	s.Close()

	if !s.Closed() {
		t.Error("Closed() = false after Close")
	}
	if err := s.Deliver([]byte("x")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Deliver() after close error = %v, want ErrSessionClosed", err)
	}
}

func TestSession_WritePumpOrderAndClose(t *testing.T) {
	conn := &fakeConn{blockCh: make(chan struct{})}
	s := testSession(conn, 8)

	for _, frame := range []string{"a", "b", "c"} {
		if err := s.Deliver([]byte(frame)); err != nil {
			t.Fatalf("Deliver(%s) error = %v", frame, err)
		}
	}
	go s.writePump()
	close(conn.blockCh)

	deadline := time.Now().Add(2 * time.Second)
	for {
		writes, _ := conn.snapshot()
		if len(writes) >= 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.CloseWith(websocket.CloseGoingAway, "bye")
	s.wait()

	writes, closed := conn.snapshot()
	if len(writes) != 4 {
		t.Fatalf("writes = %d, want 4", len(writes))
	}
	for i, want := range []string{"a", "b", "c"} {
		if writes[i].messageType != websocket.TextMessage || string(writes[i].data) != want {
			t.Errorf("write %d = (%d, %q), want text %q", i, writes[i].messageType, writes[i].data, want)
		}
	}
	if writes[3].messageType != websocket.CloseMessage {
		t.Errorf("last write type = %d, want close", writes[3].messageType)
	}
	if !closed {
		t.Error("connection not closed after write pump exit")
	}
}

func TestSession_WriteFailureClosesSession(t *testing.T) {
	conn := &fakeConn{failAt: 1}
	s := testSession(conn, 8)

	go s.writePump()
	_ = s.Deliver([]byte("a"))
	s.wait()

	if !s.Closed() {
		t.Error("session should be closed after a write failure")
	}
	if _, closed := conn.snapshot(); !closed {
		t.Error("connection should be closed after a write failure")
	}
	if err := s.Deliver([]byte("b")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Deliver() after failure error = %v, want ErrSessionClosed", err)
	}
}
