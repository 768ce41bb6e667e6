package automation

import (
	"fmt"

	"xbridge/lib/config"
)

// SpeakerMutePayload is the speaker_mute_status event body.
type SpeakerMutePayload struct {
	Muted bool `json:"muted"`
}

// evaluateSpeakerMute recomputes the mute condition after every fader or
// mute update. Level-triggered with no hysteresis: noisy input at the
// threshold boundary will chatter. That matches the behavior operators
// already rely on, so it stays.
func (e *Engine) evaluateSpeakerMute() {
	e.mu.Lock()
	cfg := e.speaker
	if !cfg.Enabled {
		e.mu.Unlock()
		return
	}

	shouldMute := false
	for _, ch := range e.effectiveTriggersLocked(cfg) {
		s, ok := e.states[ch]
		if !ok {
			continue
		}
		// A muted trigger channel cannot hold the speakers muted.
		if s.Value >= cfg.Threshold && !s.Muted {
			shouldMute = true
			break
		}
	}

	if shouldMute == e.speakerMuted {
		e.mu.Unlock()
		return
	}
	e.speakerMuted = shouldMute
	e.mu.Unlock()

	e.sendSpeakerMute(cfg, shouldMute)
	e.emit("speaker_mute_status", SpeakerMutePayload{Muted: shouldMute})
}

// effectiveTriggersLocked resolves the trigger channel set for this
// evaluation. Name resolution is recomputed every time — channel names can
// change at runtime, so caching would go stale.
func (e *Engine) effectiveTriggersLocked(cfg config.SpeakerMute) []int {
	if !cfg.FollowNames {
		return cfg.TriggerChannels
	}
	out := make([]int, 0, len(cfg.TriggerNames))
	for _, name := range cfg.TriggerNames {
		ch, ok := e.resolve(name)
		if !ok {
			e.log.WithField("name", name).Warn("trigger channel name not found, skipping")
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (e *Engine) sendSpeakerMute(cfg config.SpeakerMute, mute bool) {
	var addr string
	var arg int32
	switch cfg.MuteType {
	case config.MuteTypeMuteGroup:
		addr = fmt.Sprintf("/config/mute/%d", cfg.MuteGroupNumber)
		if mute {
			arg = 1
		}
	default:
		// Bus mute: mix/on is inverted (0 mutes the bus).
		addr = fmt.Sprintf("/bus/%d/mix/on", cfg.BusNumber)
		if !mute {
			arg = 1
		}
	}
	if err := e.send(addr, arg); err != nil {
		e.log.WithError(err).WithField("addr", addr).Warn("speaker mute command failed")
	}
	e.log.WithField("muted", mute).Info("speaker mute changed")
}

// SpeakerMuted reports the last broadcast speaker-mute state.
func (e *Engine) SpeakerMuted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speakerMuted
}
