package bridge

import (
	"xbridge/lib/channel"
	"xbridge/lib/mixer"
	"xbridge/lib/scene"
)

// sceneConn and chanConn adapt the live mixer client to the narrow
// transport contracts the subsystems declare. Going through the bridge's
// send gate keeps the no-link-no-error behavior; collectors bind to
// whichever client is current when the operation starts, so an operation
// in flight across a reconnect simply never completes and times out.

type sceneConn struct{ b *Bridge }

func (c sceneConn) Send(addr string, args ...any) error {
	return c.b.send(addr, args...)
}

func (c sceneConn) Collect(addrs []string, notify func(addr string, args []any)) scene.Collector {
	return c.b.collect(addrs, notify)
}

type chanConn struct{ b *Bridge }

func (c chanConn) Send(addr string, args ...any) error {
	return c.b.send(addr, args...)
}

func (c chanConn) Collect(addrs []string, notify func(addr string, args []any)) channel.Collector {
	return c.b.collect(addrs, notify)
}

func (b *Bridge) collect(addrs []string, notify func(addr string, args []any)) *mixer.Collector {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		// No link: hand back a collector nothing will ever feed. The
		// caller's timeout or fallback path handles it.
		return mixer.OrphanCollector(addrs, notify)
	}
	return client.NewCollector(addrs, notify)
}
