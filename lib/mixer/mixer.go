// Package mixer implements the UDP link to the console: a connected socket
// speaking OSC datagrams, a pending-response collector registry, and the
// connection-health validator.
package mixer

import (
	"fmt"
	"net"
	"sync"

	"github.com/chabad360/go-osc/osc"
	"github.com/sirupsen/logrus"
)

const DefaultPort = 10024

const maxDatagram = 65536

// Handler receives every inbound message after collectors have seen it.
type Handler func(msg *osc.Message)

// Client is a connected UDP OSC client. The console replies to the source
// port of whatever datagram it received, so a single connected socket both
// sends and receives.
type Client struct {
	conn *net.UDPConn
	log  *logrus.Entry

	mu         sync.Mutex
	handler    Handler
	collectors map[*Collector]struct{}
	closed     bool
}

// Dial opens the UDP socket and starts the read loop.
func Dial(addr string) (*Client, error) {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("mixer: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, a)
	if err != nil {
		return nil, fmt.Errorf("mixer: dial %s: %w", addr, err)
	}
	c := &Client{
		conn:       conn,
		log:        logrus.WithField("component", "mixer"),
		collectors: make(map[*Collector]struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	for col := range c.collectors {
		delete(c.collectors, col)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

// SetHandler installs the inbound message handler. Messages arriving before
// a handler is set are dropped.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Send marshals and writes a single OSC message. Fire-and-forget: the
// console never acknowledges writes.
func (c *Client) Send(addr string, args ...any) error {
	msg := osc.NewMessage(addr, args...)
	data, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("mixer: marshal %s: %w", addr, err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("mixer: send %s: %w", addr, err)
	}
	return nil
}

func (c *Client) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		msg, err := osc.NewMessageFromData(data)
		if err != nil {
			c.log.WithError(err).Debug("dropping unparseable datagram")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *osc.Message) {
	c.mu.Lock()
	cols := make([]*Collector, 0, len(c.collectors))
	for col := range c.collectors {
		cols = append(cols, col)
	}
	h := c.handler
	c.mu.Unlock()

	for _, col := range cols {
		col.offer(msg.Address, msg.Arguments)
	}
	if h != nil {
		h(msg)
	}
}

func (c *Client) register(col *Collector) {
	c.mu.Lock()
	if !c.closed {
		c.collectors[col] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *Client) unregister(col *Collector) {
	c.mu.Lock()
	delete(c.collectors, col)
	c.mu.Unlock()
}
