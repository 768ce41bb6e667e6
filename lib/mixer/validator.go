package mixer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Validator states.
type State int

const (
	StateUnvalidated State = iota
	StateValidating
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateConnected:
		return "connected"
	default:
		return "unvalidated"
	}
}

const (
	validateAddr  = "/xinfo"
	keepaliveAddr = "/xremote"

	validateTimeout   = 3 * time.Second
	keepaliveInterval = 9 * time.Second
	staleAfter        = 30 * time.Second
)

// Validator tracks console liveness. Any inbound traffic counts as proof of
// life; an explicit status query with a timeout establishes the initial
// verdict and re-establishes it after the link goes quiet.
type Validator struct {
	send   func(addr string, args ...any) error
	notify func(connected bool, reason string)
	log    *logrus.Entry

	// Tick, if set, runs on every keepalive interval while connected.
	// The bridge uses it to renew metering subscriptions.
	Tick func()

	// Overridable in tests; production code leaves the defaults.
	Timeout    time.Duration
	Keepalive  time.Duration
	StaleAfter time.Duration

	mu           sync.Mutex
	state        State
	lastResponse time.Time
	timer        *time.Timer
	gen          int
	stop         chan struct{}
}

func NewValidator(send func(addr string, args ...any) error, notify func(connected bool, reason string)) *Validator {
	return &Validator{
		send:       send,
		notify:     notify,
		log:        logrus.WithField("component", "validator"),
		Timeout:    validateTimeout,
		Keepalive:  keepaliveInterval,
		StaleAfter: staleAfter,
	}
}

// Start begins validation and the keepalive loop.
func (v *Validator) Start() {
	v.mu.Lock()
	if v.stop != nil {
		v.mu.Unlock()
		return
	}
	v.stop = make(chan struct{})
	stop := v.stop
	v.mu.Unlock()

	v.Validate()
	go v.keepaliveLoop(stop)
}

// Stop cancels all pending timers. After Stop the validator can be started
// again, which is how connection teardown/rebuild resets it.
func (v *Validator) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	if v.stop != nil {
		close(v.stop)
		v.stop = nil
	}
	v.state = StateUnvalidated
}

// Validate sends the status query and arms the response timeout. A new
// request supersedes any pending one.
func (v *Validator) Validate() {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	if v.timer != nil {
		v.timer.Stop()
	}
	v.state = StateValidating
	v.timer = time.AfterFunc(v.Timeout, func() { v.timeout(gen) })
	v.mu.Unlock()

	if err := v.send(validateAddr); err != nil {
		v.log.WithError(err).Warn("status query failed")
	}
}

func (v *Validator) timeout(gen int) {
	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.state = StateUnvalidated
	v.timer = nil
	v.mu.Unlock()

	v.log.Warn("no response from mixer")
	v.notify(false, "no response from mixer")
}

// MarkAlive records inbound traffic. The first message after a validation
// request (or after a disconnect) transitions to Connected.
func (v *Validator) MarkAlive() {
	v.mu.Lock()
	v.lastResponse = time.Now()
	v.gen++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	wasConnected := v.state == StateConnected
	v.state = StateConnected
	v.mu.Unlock()

	if !wasConnected {
		v.log.Info("mixer connected")
		v.notify(true, "mixer responding")
	}
}

func (v *Validator) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state == StateConnected
}

func (v *Validator) LastResponse() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastResponse
}

func (v *Validator) keepaliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(v.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		v.mu.Lock()
		connected := v.state == StateConnected
		stale := connected && time.Since(v.lastResponse) > v.StaleAfter
		tick := v.Tick
		v.mu.Unlock()

		if stale {
			v.log.Warn("link quiet too long, revalidating")
			v.Validate()
			continue
		}
		if connected {
			if err := v.send(keepaliveAddr); err != nil {
				v.log.WithError(err).Warn("keepalive failed")
			}
			if tick != nil {
				tick()
			}
		}
	}
}
