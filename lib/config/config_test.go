package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleSettings = `
mixer:
  address: 192.168.1.74:10024
listen: :8080
faderMappings:
  - channel: 2
    threshold: 10
    fadeDownThreshold: 5
    command: PLAYER 1-1 START
    fadeDownCommand: PLAYER 1-1 STOP
    listenToMute: true
    enabled: true
speakerMute:
  enabled: true
  triggerChannelNames: [MIC 1, MIC 2]
  followChannelNames: true
  muteType: bus
  busNumber: 6
  threshold: 10
relay:
  url: http://127.0.0.1:9300/?pass=
duplicateSuppressMs: 500
`

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	s, err := Load(writeSettings(t, sampleSettings))
	if err != nil {
		t.Fatal(err)
	}
	if s.Mixer.Address != "192.168.1.74:10024" {
		t.Errorf("got mixer address %q", s.Mixer.Address)
	}
	if len(s.FaderMappings) != 1 {
		t.Fatalf("got %d mappings, want 1", len(s.FaderMappings))
	}
	m := s.FaderMappings[0]
	if m.Channel != 2 || m.Threshold != 10 || !m.ListenToMute || !m.Enabled {
		t.Errorf("mapping mismatch: %+v", m)
	}
	if m.FadeDownThreshold == nil || *m.FadeDownThreshold != 5 {
		t.Error("fadeDownThreshold not loaded")
	}
	if !s.SpeakerMute.FollowNames || len(s.SpeakerMute.TriggerNames) != 2 {
		t.Errorf("speaker mute mismatch: %+v", s.SpeakerMute)
	}
	if s.DuplicateSuppressMs != 500 {
		t.Errorf("got duplicateSuppressMs %d, want 500", s.DuplicateSuppressMs)
	}
}

func TestValidateRejectsBadChannel(t *testing.T) {
	_, err := Load(writeSettings(t, `
faderMappings:
  - channel: 16
    threshold: 10
`))
	if err == nil {
		t.Fatal("expected error for channel 16")
	}
}

func TestValidateRejectsBadMuteType(t *testing.T) {
	_, err := Load(writeSettings(t, `
speakerMute:
  enabled: true
  muteType: dca
  threshold: 10
`))
	if err == nil {
		t.Fatal("expected error for unknown muteType")
	}
}

func TestValidateIgnoresDisabledSpeakerMute(t *testing.T) {
	_, err := Load(writeSettings(t, `
speakerMute:
  enabled: false
  muteType: dca
`))
	if err != nil {
		t.Fatalf("disabled speaker mute should not be validated: %v", err)
	}
}

func TestWatcherFiresOnChange(t *testing.T) {
	path := writeSettings(t, sampleSettings)

	changed := make(chan struct{}, 1)
	w, err := Watch(path, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })

	if err := os.WriteFile(path, []byte(sampleSettings+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never fired")
	}
}
