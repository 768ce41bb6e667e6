// Package config loads and watches the bridge settings file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	MuteTypeBus       = "bus"
	MuteTypeMuteGroup = "muteGroup"
)

// FaderMapping binds one console channel to an external command pair. The
// bridge only ever reads mappings; editing them is the UI's job.
type FaderMapping struct {
	Channel           int      `yaml:"channel"`
	IsStereo          bool     `yaml:"isStereo"`
	Threshold         float64  `yaml:"threshold"`
	FadeDownThreshold *float64 `yaml:"fadeDownThreshold,omitempty"`
	Command           string   `yaml:"command"`
	FadeDownCommand   string   `yaml:"fadeDownCommand,omitempty"`
	ListenToMute      bool     `yaml:"listenToMute"`
	Enabled           bool     `yaml:"enabled"`
}

// SpeakerMute configures the aggregate speaker-mute automation. Trigger
// channels are either a static index list or, with FollowNames set, a list
// of channel names resolved to positions on every evaluation.
type SpeakerMute struct {
	Enabled         bool     `yaml:"enabled"`
	TriggerChannels []int    `yaml:"triggerChannels,omitempty"`
	TriggerNames    []string `yaml:"triggerChannelNames,omitempty"`
	FollowNames     bool     `yaml:"followChannelNames"`
	MuteType        string   `yaml:"muteType"`
	BusNumber       int      `yaml:"busNumber,omitempty"`
	MuteGroupNumber int      `yaml:"muteGroupNumber,omitempty"`
	Threshold       float64  `yaml:"threshold"`
}

// Relay configures external command dispatch: an HTTP endpoint for the
// radio-automation software and an optional MIDI output port for midi:
// commands.
type Relay struct {
	URL       string `yaml:"url"`
	MIDIPort  string `yaml:"midiPort,omitempty"`
	TimeoutMs int    `yaml:"timeoutMs,omitempty"`
}

type Settings struct {
	Mixer struct {
		Address string `yaml:"address"`
	} `yaml:"mixer"`
	Listen        string         `yaml:"listen"`
	FaderMappings []FaderMapping `yaml:"faderMappings"`
	SpeakerMute   SpeakerMute    `yaml:"speakerMute"`
	Relay         Relay          `yaml:"relay"`

	// DuplicateSuppressMs, when non-zero, suppresses a repeated fader
	// trigger on the same channel within the window.
	DuplicateSuppressMs int `yaml:"duplicateSuppressMs,omitempty"`
}

func Load(path string) (*Settings, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	for i, m := range s.FaderMappings {
		if m.Channel < 0 || m.Channel > 15 {
			return fmt.Errorf("faderMappings[%d]: channel %d out of range 0-15", i, m.Channel)
		}
		if m.Threshold < 0 || m.Threshold > 100 {
			return fmt.Errorf("faderMappings[%d]: threshold %v out of range 0-100", i, m.Threshold)
		}
		if m.FadeDownThreshold != nil && (*m.FadeDownThreshold < 0 || *m.FadeDownThreshold > 100) {
			return fmt.Errorf("faderMappings[%d]: fadeDownThreshold out of range 0-100", i)
		}
	}

	sm := s.SpeakerMute
	if !sm.Enabled {
		return nil
	}
	switch sm.MuteType {
	case MuteTypeBus:
		if sm.BusNumber < 1 || sm.BusNumber > 6 {
			return fmt.Errorf("speakerMute: bus %d out of range 1-6", sm.BusNumber)
		}
	case MuteTypeMuteGroup:
		if sm.MuteGroupNumber < 1 || sm.MuteGroupNumber > 4 {
			return fmt.Errorf("speakerMute: mute group %d out of range 1-4", sm.MuteGroupNumber)
		}
	default:
		return fmt.Errorf("speakerMute: unknown muteType %q", sm.MuteType)
	}
	for _, ch := range sm.TriggerChannels {
		if ch < 0 || ch > 15 {
			return fmt.Errorf("speakerMute: trigger channel %d out of range 0-15", ch)
		}
	}
	if sm.FollowNames && len(sm.TriggerNames) == 0 {
		return fmt.Errorf("speakerMute: followChannelNames set with no triggerChannelNames")
	}
	return nil
}
