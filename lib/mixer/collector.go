package mixer

import "sync"

// Collector gathers replies for a known set of addresses. It is the one
// response-correlation primitive in the bridge: scene-name collection and
// bulk channel-property reads both run on it. A collector never fails — the
// caller decides how long to wait and takes whatever arrived.
type Collector struct {
	mu      sync.Mutex
	pending map[string]struct{}
	values  map[string][]any
	notify  func(addr string, args []any)
	done    chan struct{}
	client  *Client
}

// NewCollector registers a collector for the given addresses. notify, if
// non-nil, is called for every recorded hit (used to re-arm debounce timers).
// Done is closed once every address has been seen. The caller must Close the
// collector when finished with it.
func (c *Client) NewCollector(addrs []string, notify func(addr string, args []any)) *Collector {
	col := &Collector{
		pending: make(map[string]struct{}, len(addrs)),
		values:  make(map[string][]any, len(addrs)),
		notify:  notify,
		done:    make(chan struct{}),
		client:  c,
	}
	for _, a := range addrs {
		col.pending[a] = struct{}{}
	}
	c.register(col)
	if len(addrs) == 0 {
		close(col.done)
	}
	return col
}

func (col *Collector) offer(addr string, args []any) {
	col.mu.Lock()
	if _, ok := col.pending[addr]; !ok {
		col.mu.Unlock()
		return
	}
	delete(col.pending, addr)
	col.values[addr] = args
	complete := len(col.pending) == 0
	notify := col.notify
	col.mu.Unlock()

	if notify != nil {
		notify(addr, args)
	}
	if complete {
		close(col.done)
	}
}

// Done is closed when every awaited address has replied.
func (col *Collector) Done() <-chan struct{} {
	return col.done
}

// Values returns a snapshot of everything collected so far.
func (col *Collector) Values() map[string][]any {
	col.mu.Lock()
	defer col.mu.Unlock()
	out := make(map[string][]any, len(col.values))
	for k, v := range col.values {
		out[k] = v
	}
	return out
}

// Missing reports how many awaited addresses have not replied yet.
func (col *Collector) Missing() int {
	col.mu.Lock()
	defer col.mu.Unlock()
	return len(col.pending)
}

// OrphanCollector builds a collector attached to no client. Nothing ever
// feeds it; callers that collect while the link is down wait out their
// timeout against it instead of special-casing the missing transport.
func OrphanCollector(addrs []string, notify func(addr string, args []any)) *Collector {
	col := &Collector{
		pending: make(map[string]struct{}, len(addrs)),
		values:  make(map[string][]any, len(addrs)),
		notify:  notify,
		done:    make(chan struct{}),
	}
	for _, a := range addrs {
		col.pending[a] = struct{}{}
	}
	if len(addrs) == 0 {
		close(col.done)
	}
	return col
}

// Close detaches the collector from the client. Safe to call more than once.
func (col *Collector) Close() {
	if col.client != nil {
		col.client.unregister(col)
	}
}
