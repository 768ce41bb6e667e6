package mixer

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/chabad360/go-osc/osc"
)

// MockMixer emulates just enough of the console's UDP protocol for tests:
// it answers status queries, scene-name and channel-property reads, stores
// writes, and can push unsolicited messages (meter blobs, fader moves) back
// at the last client it heard from.
type MockMixer struct {
	conn *net.UDPConn

	mu       sync.Mutex
	client   *net.UDPAddr
	received []*osc.Message

	SceneNames map[int]string
	Current    int // 1-based, 0 = none
	Properties map[string]any
	Info       []any

	// Silent lists addresses the mock never answers, for partial-response
	// tests.
	Silent map[string]bool
}

func NewMockMixer() (*MockMixer, error) {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	m := &MockMixer{
		conn:       conn,
		SceneNames: make(map[int]string),
		Properties: make(map[string]any),
		Info:       []any{"192.168.1.1", "XR18-MOCK", "XR18", "1.18"},
	}
	go m.serve()
	return m, nil
}

func (m *MockMixer) Addr() string {
	return m.conn.LocalAddr().String()
}

func (m *MockMixer) Close() error {
	return m.conn.Close()
}

// Received returns a snapshot of every message the mock has seen.
func (m *MockMixer) Received() []*osc.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*osc.Message, len(m.received))
	copy(out, m.received)
	return out
}

// CountReceived returns how many received messages match the address.
func (m *MockMixer) CountReceived(addr string) int {
	n := 0
	for _, msg := range m.Received() {
		if msg.Address == addr {
			n++
		}
	}
	return n
}

// Property returns a stored property value under the mock's lock.
func (m *MockMixer) Property(addr string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Properties[addr]
}

// SetProperty stores a property value under the mock's lock.
func (m *MockMixer) SetProperty(addr string, val any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Properties[addr] = val
}

// Push sends an unsolicited message to the last seen client.
func (m *MockMixer) Push(addr string, args ...any) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return fmt.Errorf("mock: no client yet")
	}
	data, err := osc.NewMessage(addr, args...).MarshalBinary()
	if err != nil {
		return err
	}
	_, err = m.conn.WriteToUDP(data, client)
	return err
}

func (m *MockMixer) serve() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		msg, err := osc.NewMessageFromData(data)
		if err != nil {
			continue
		}
		m.mu.Lock()
		m.client = from
		m.received = append(m.received, msg)
		m.mu.Unlock()
		m.handle(from, msg)
	}
}

func (m *MockMixer) reply(to *net.UDPAddr, addr string, args ...any) {
	data, err := osc.NewMessage(addr, args...).MarshalBinary()
	if err != nil {
		return
	}
	m.conn.WriteToUDP(data, to)
}

func (m *MockMixer) handle(from *net.UDPAddr, msg *osc.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Silent[msg.Address] {
		return
	}

	switch {
	case msg.Address == "/xinfo" || msg.Address == "/info":
		m.reply(from, msg.Address, m.Info...)

	case msg.Address == "/-snap/index":
		m.reply(from, msg.Address, int32(m.Current))

	case msg.Address == "/-snap/load":
		if len(msg.Arguments) == 1 {
			if v, ok := msg.Arguments[0].(int32); ok {
				m.Current = int(v)
			}
		}

	case strings.HasPrefix(msg.Address, "/-snap/") && strings.HasSuffix(msg.Address, "/name"):
		var id int
		if _, err := fmt.Sscanf(msg.Address, "/-snap/%02d/name", &id); err != nil {
			return
		}
		if len(msg.Arguments) > 0 {
			if s, ok := msg.Arguments[0].(string); ok {
				m.SceneNames[id-1] = s
			}
			return
		}
		m.reply(from, msg.Address, m.SceneNames[id-1])

	case strings.HasPrefix(msg.Address, "/ch/") || strings.HasPrefix(msg.Address, "/bus/") || strings.HasPrefix(msg.Address, "/config/"):
		if len(msg.Arguments) > 0 {
			m.Properties[msg.Address] = msg.Arguments[0]
			return
		}
		val, ok := m.Properties[msg.Address]
		if !ok {
			val = float32(0)
		}
		m.reply(from, msg.Address, val)
	}
}
