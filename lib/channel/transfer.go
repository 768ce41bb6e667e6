package channel

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	readTimeout = 5 * time.Second
	writePace   = 10 * time.Millisecond
)

// PropertySet maps a property path ("gate/thr") to the raw argument list
// the console replied with. It exists only for the duration of one
// transfer operation.
type PropertySet map[string][]any

// Collector is the slice of the transport's response registry the engine
// needs.
type Collector interface {
	Done() <-chan struct{}
	Values() map[string][]any
	Missing() int
	Close()
}

// Conn is the transport contract.
type Conn interface {
	Send(addr string, args ...any) error
	Collect(addrs []string, notify func(addr string, args []any)) Collector
}

// Engine implements bulk channel property transfer. Reads tolerate missing
// replies: after the timeout whatever arrived is the result. Writes are
// paced so the console's input queue is never overrun, and are never read
// back for verification.
type Engine struct {
	conn Conn
	log  *logrus.Entry

	// Overridable in tests; production code leaves the defaults.
	ReadTimeout time.Duration
	WritePace   time.Duration
}

func NewEngine(conn Conn) *Engine {
	return &Engine{
		conn:        conn,
		log:         logrus.WithField("component", "channel"),
		ReadTimeout: readTimeout,
		WritePace:   writePace,
	}
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= ChannelCount {
		return fmt.Errorf("channel: index %d out of range 0-%d", ch, ChannelCount-1)
	}
	return nil
}

// ReadAll queries every catalogued property of a channel and returns what
// the console answered within the timeout. A partial result is a success.
func (e *Engine) ReadAll(ch int) (PropertySet, error) {
	if err := checkChannel(ch); err != nil {
		return nil, err
	}

	addrs := make([]string, len(catalogue))
	for i, prop := range catalogue {
		addrs[i] = Addr(ch, prop)
	}
	col := e.conn.Collect(addrs, nil)
	defer col.Close()

	for _, addr := range addrs {
		if err := e.conn.Send(addr); err != nil {
			e.log.WithError(err).WithField("addr", addr).Warn("property query failed")
		}
	}

	select {
	case <-col.Done():
	case <-time.After(e.ReadTimeout):
		e.log.WithFields(logrus.Fields{"channel": ch, "missing": col.Missing()}).
			Warn("channel read incomplete, keeping partial result")
	}

	prefix := Prefix(ch)
	set := make(PropertySet)
	for addr, args := range col.Values() {
		set[strings.TrimPrefix(addr, prefix)] = args
	}
	return set, nil
}

// WriteAll sends every property present in the set to a channel, in
// catalogue order with a fixed pacing delay between sends.
func (e *Engine) WriteAll(ch int, set PropertySet) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	for _, prop := range catalogue {
		args, ok := set[prop]
		if !ok {
			continue
		}
		if err := e.conn.Send(Addr(ch, prop), args...); err != nil {
			e.log.WithError(err).WithField("addr", Addr(ch, prop)).Warn("property write failed")
		}
		time.Sleep(e.WritePace)
	}
	return nil
}

// Copy duplicates src's property set onto dst.
func (e *Engine) Copy(src, dst int) error {
	if err := checkChannel(src); err != nil {
		return err
	}
	if err := checkChannel(dst); err != nil {
		return err
	}
	set, err := e.ReadAll(src)
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"src": src, "dst": dst, "props": len(set)}).Info("copying channel")
	return e.WriteAll(dst, set)
}

// Swap exchanges the property sets of two channels. Both reads complete
// before either write starts, so neither write can feed back into a read.
func (e *Engine) Swap(a, b int) error {
	if err := checkChannel(a); err != nil {
		return err
	}
	if err := checkChannel(b); err != nil {
		return err
	}

	var setA, setB PropertySet
	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		setA, errA = e.ReadAll(a)
	}()
	go func() {
		defer wg.Done()
		setB, errB = e.ReadAll(b)
	}()
	wg.Wait()
	if errA != nil {
		return errA
	}
	if errB != nil {
		return errB
	}

	e.log.WithFields(logrus.Fields{"a": a, "b": b}).Info("swapping channels")
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = e.WriteAll(a, setB)
	}()
	go func() {
		defer wg.Done()
		errB = e.WriteAll(b, setA)
	}()
	wg.Wait()
	if errA != nil {
		return errA
	}
	return errB
}
