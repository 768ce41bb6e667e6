package mixer

import (
	"sync"
	"testing"
	"time"
)

type statusLog struct {
	mu      sync.Mutex
	entries []bool
	sent    []string
}

func (s *statusLog) notify(connected bool, reason string) {
	s.mu.Lock()
	s.entries = append(s.entries, connected)
	s.mu.Unlock()
}

func (s *statusLog) send(addr string, args ...any) error {
	s.mu.Lock()
	s.sent = append(s.sent, addr)
	s.mu.Unlock()
	return nil
}

func (s *statusLog) lastEntry() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return false, false
	}
	return s.entries[len(s.entries)-1], true
}

func (s *statusLog) sentCount(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.sent {
		if a == addr {
			n++
		}
	}
	return n
}

func newTestValidator(log *statusLog) *Validator {
	v := NewValidator(log.send, log.notify)
	v.Timeout = 50 * time.Millisecond
	v.Keepalive = 30 * time.Millisecond
	v.StaleAfter = 200 * time.Millisecond
	return v
}

func TestValidateSendsQuery(t *testing.T) {
	log := &statusLog{}
	v := newTestValidator(log)

	v.Validate()
	if log.sentCount("/xinfo") != 1 {
		t.Fatalf("got %d status queries, want 1", log.sentCount("/xinfo"))
	}
	if v.Connected() {
		t.Error("connected before any response")
	}
}

func TestTimeoutRaisesDisconnected(t *testing.T) {
	log := &statusLog{}
	v := newTestValidator(log)

	v.Validate()
	waitFor(t, "timeout notification", func() bool {
		connected, ok := log.lastEntry()
		return ok && !connected
	})
	if v.Connected() {
		t.Error("connected after timeout")
	}
}

func TestResponseCancelsTimeout(t *testing.T) {
	log := &statusLog{}
	v := newTestValidator(log)

	v.Validate()
	v.MarkAlive()

	connected, ok := log.lastEntry()
	if !ok || !connected {
		t.Fatal("expected connected notification")
	}

	// The 50ms timeout must not fire after a response.
	time.Sleep(80 * time.Millisecond)
	connected, _ = log.lastEntry()
	if !connected {
		t.Error("timeout fired after a response arrived")
	}
}

func TestAnyMessageConnects(t *testing.T) {
	log := &statusLog{}
	v := newTestValidator(log)

	v.MarkAlive()
	if !v.Connected() {
		t.Error("not connected after inbound traffic")
	}
	if n := len(log.entries); n != 1 {
		t.Errorf("got %d notifications, want 1", n)
	}

	// Repeated traffic while connected stays quiet.
	v.MarkAlive()
	if n := len(log.entries); n != 1 {
		t.Errorf("got %d notifications after second message, want 1", n)
	}
}

func TestKeepaliveWhileConnected(t *testing.T) {
	log := &statusLog{}
	v := newTestValidator(log)

	v.Start()
	t.Cleanup(v.Stop)
	v.MarkAlive()

	waitFor(t, "keepalives", func() bool { return log.sentCount("/xremote") >= 2 })
}

func TestStaleLinkRevalidates(t *testing.T) {
	log := &statusLog{}
	v := newTestValidator(log)

	v.Start()
	t.Cleanup(v.Stop)
	v.MarkAlive()

	// No further traffic: after StaleAfter the validator must re-query.
	waitFor(t, "revalidation", func() bool { return log.sentCount("/xinfo") >= 2 })
}

func TestStopCancelsPendingTimeout(t *testing.T) {
	log := &statusLog{}
	v := newTestValidator(log)

	v.Validate()
	v.Stop()

	time.Sleep(80 * time.Millisecond)
	if _, ok := log.lastEntry(); ok {
		t.Error("timeout notification fired after Stop")
	}
}
