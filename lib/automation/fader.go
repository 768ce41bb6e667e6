// Package automation holds the two real-time state machines driven by
// fader and mute traffic: per-channel threshold triggers that dispatch
// external commands, and the aggregate speaker-mute control loop.
package automation

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"xbridge/lib/config"
	"xbridge/lib/relay"
)

// FaderState is a channel's working memory: always the last raw values
// seen, never smoothed.
type FaderState struct {
	Channel         int       `json:"channel"`
	Value           float64   `json:"value"`
	Muted           bool      `json:"muted"`
	IsActive        bool      `json:"isActive"`
	LastTriggeredAt time.Time `json:"lastTriggeredAt,omitzero"`
	CommandExecuted bool      `json:"commandExecuted"`
}

// UpdatePayload is the fader_update event body.
type UpdatePayload struct {
	Channel         int  `json:"channel"`
	IsActive        bool `json:"isActive"`
	CommandExecuted bool `json:"commandExecuted"`
}

// Engine evaluates every fader and mute update against the configured
// mappings. All state lives behind one mutex; updates are processed in
// arrival order.
type Engine struct {
	send     func(addr string, args ...any) error
	dispatch relay.Dispatcher
	emit     func(event string, payload any)
	resolve  func(name string) (int, bool)
	log      *logrus.Entry

	mu           sync.Mutex
	states       map[int]*FaderState
	mappings     []config.FaderMapping
	speaker      config.SpeakerMute
	speakerMuted bool
	suppress     time.Duration
}

// New builds an engine. resolve maps a channel name to its current
// position for name-following speaker-mute configs.
func New(send func(addr string, args ...any) error, dispatch relay.Dispatcher,
	emit func(event string, payload any), resolve func(name string) (int, bool)) *Engine {
	return &Engine{
		send:     send,
		dispatch: dispatch,
		emit:     emit,
		resolve:  resolve,
		log:      logrus.WithField("component", "automation"),
		states:   make(map[int]*FaderState),
	}
}

// Reload swaps in a new configuration. Channel states survive a reload —
// the console's positions have not changed just because the mapping did.
func (e *Engine) Reload(mappings []config.FaderMapping, speaker config.SpeakerMute, suppress time.Duration) {
	e.mu.Lock()
	e.mappings = mappings
	e.speaker = speaker
	e.suppress = suppress
	e.mu.Unlock()
	e.log.WithField("mappings", len(mappings)).Info("automation config loaded")
}

func (e *Engine) stateLocked(ch int) *FaderState {
	s, ok := e.states[ch]
	if !ok {
		s = &FaderState{Channel: ch}
		e.states[ch] = s
	}
	return s
}

func (e *Engine) mappingLocked(ch int) *config.FaderMapping {
	for i := range e.mappings {
		if e.mappings[i].Enabled && e.mappings[i].Channel == ch {
			return &e.mappings[i]
		}
	}
	return nil
}

// HandleFader processes one raw fader position (0-100).
func (e *Engine) HandleFader(ch int, value float64) {
	e.mu.Lock()
	s := e.stateLocked(ch)
	prev := s.Value
	s.Value = value
	s.CommandExecuted = false

	m := e.mappingLocked(ch)
	if m != nil {
		s.IsActive = value >= m.Threshold

		// Fade-up: strict was-below, now at-or-above.
		if prev < m.Threshold && value >= m.Threshold {
			e.fadeUpLocked(s, m)
		}

		// Fade-down: strict was-at-or-above, now below.
		if m.FadeDownThreshold != nil && m.FadeDownCommand != "" &&
			prev >= *m.FadeDownThreshold && value < *m.FadeDownThreshold {
			e.fire(m.FadeDownCommand)
			s.CommandExecuted = true
		}
	} else {
		s.IsActive = false
	}
	payload := UpdatePayload{Channel: ch, IsActive: s.IsActive, CommandExecuted: s.CommandExecuted}
	e.mu.Unlock()

	e.emit("fader_update", payload)
	e.evaluateSpeakerMute()
}

func (e *Engine) fadeUpLocked(s *FaderState, m *config.FaderMapping) {
	if m.ListenToMute && s.Muted {
		e.log.WithField("channel", s.Channel).Info("fade-up ignored, channel is muted")
		return
	}
	if e.suppress > 0 && !s.LastTriggeredAt.IsZero() && time.Since(s.LastTriggeredAt) < e.suppress {
		e.log.WithField("channel", s.Channel).Info("fade-up suppressed, duplicate trigger")
		return
	}
	e.fire(m.Command)
	s.LastTriggeredAt = time.Now()
	s.CommandExecuted = true
}

// HandleMute processes a mute state change.
func (e *Engine) HandleMute(ch int, muted bool) {
	e.mu.Lock()
	s := e.stateLocked(ch)
	changed := s.Muted != muted
	s.Muted = muted
	s.CommandExecuted = false

	if changed {
		if m := e.mappingLocked(ch); m != nil && m.ListenToMute {
			if muted {
				// Mute is a stop.
				if m.FadeDownCommand != "" {
					e.fire(m.FadeDownCommand)
					s.CommandExecuted = true
				}
			} else if s.Value > 0 && m.Command != "" {
				// Unmute is a start, but only with the fader up:
				// an unmute at zero is not an implicit start.
				e.fire(m.Command)
				s.CommandExecuted = true
			}
		}
	}
	payload := UpdatePayload{Channel: ch, IsActive: s.IsActive, CommandExecuted: s.CommandExecuted}
	e.mu.Unlock()

	e.emit("fader_update", payload)
	e.evaluateSpeakerMute()
}

// fire dispatches a command without blocking the update path. The state
// machine has already moved on; a failed dispatch is logged, not rolled
// back.
func (e *Engine) fire(command string) {
	go func() {
		if err := e.dispatch.Dispatch(command); err != nil {
			e.log.WithError(err).WithField("command", command).Error("command dispatch failed")
		}
	}()
}

// States returns a snapshot of all known channel states, for the status
// API.
func (e *Engine) States() []FaderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]FaderState, 0, len(e.states))
	for _, s := range e.states {
		out = append(out, *s)
	}
	return out
}
