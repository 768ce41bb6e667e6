package automation

import (
	"testing"
	"time"

	"xbridge/lib/config"
)

func busMuteConfig() config.SpeakerMute {
	return config.SpeakerMute{
		Enabled:         true,
		TriggerChannels: []int{3},
		MuteType:        config.MuteTypeBus,
		BusNumber:       6,
		Threshold:       10,
	}
}

func TestSpeakerMuteOnTrigger(t *testing.T) {
	c := &capture{}
	e := newTestEngine(c, nil)
	e.Reload(nil, busMuteConfig(), 0)

	e.HandleFader(3, 50)

	if !e.SpeakerMuted() {
		t.Fatal("speakers not muted")
	}
	cmds := c.sentTo("/bus/6/mix/on")
	if len(cmds) != 1 {
		t.Fatalf("got %d bus mute commands, want 1", len(cmds))
	}
	// mix/on is inverted: 0 mutes the bus.
	if cmds[0].args[0] != int32(0) {
		t.Errorf("got arg %v, want 0", cmds[0].args[0])
	}
}

func TestSpeakerMuteIdempotentOnUnchangedState(t *testing.T) {
	c := &capture{}
	e := newTestEngine(c, nil)
	e.Reload(nil, busMuteConfig(), 0)

	e.HandleFader(3, 50)
	e.HandleFader(3, 50)
	e.HandleFader(3, 60)

	if n := len(c.sentTo("/bus/6/mix/on")); n != 1 {
		t.Errorf("got %d mute commands for unchanged state, want 1", n)
	}
}

func TestSpeakerUnmutesWhenTriggerMuted(t *testing.T) {
	c := &capture{}
	e := newTestEngine(c, nil)
	e.Reload(nil, busMuteConfig(), 0)

	e.HandleFader(3, 50)
	if !e.SpeakerMuted() {
		t.Fatal("speakers not muted")
	}

	// A muted trigger channel cannot hold the speakers muted.
	e.HandleMute(3, true)
	if e.SpeakerMuted() {
		t.Fatal("speakers still muted after trigger channel muted")
	}
	cmds := c.sentTo("/bus/6/mix/on")
	if len(cmds) != 2 {
		t.Fatalf("got %d bus commands, want 2", len(cmds))
	}
	if cmds[1].args[0] != int32(1) {
		t.Errorf("unmute arg = %v, want 1", cmds[1].args[0])
	}
}

func TestSpeakerUnmutesWhenFaderDrops(t *testing.T) {
	c := &capture{}
	e := newTestEngine(c, nil)
	e.Reload(nil, busMuteConfig(), 0)

	e.HandleFader(3, 50)
	e.HandleFader(3, 5)

	if e.SpeakerMuted() {
		t.Error("speakers still muted below threshold")
	}
	if n := len(c.sentTo("/bus/6/mix/on")); n != 2 {
		t.Errorf("got %d bus commands, want 2", n)
	}
}

func TestSpeakerMuteGroupCommand(t *testing.T) {
	c := &capture{}
	e := newTestEngine(c, nil)
	cfg := busMuteConfig()
	cfg.MuteType = config.MuteTypeMuteGroup
	cfg.MuteGroupNumber = 2
	e.Reload(nil, cfg, 0)

	e.HandleFader(3, 50)

	cmds := c.sentTo("/config/mute/2")
	if len(cmds) != 1 {
		t.Fatalf("got %d mute group commands, want 1", len(cmds))
	}
	if cmds[0].args[0] != int32(1) {
		t.Errorf("got arg %v, want 1", cmds[0].args[0])
	}
}

func TestSpeakerMuteByName(t *testing.T) {
	c := &capture{}
	e := newTestEngine(c, map[string]int{"MIC 1": 4})
	cfg := busMuteConfig()
	cfg.TriggerChannels = nil
	cfg.TriggerNames = []string{"MIC 1", "MIC GONE"}
	cfg.FollowNames = true
	e.Reload(nil, cfg, 0)

	// Channel 3 is not a trigger under name-following.
	e.HandleFader(3, 50)
	if e.SpeakerMuted() {
		t.Fatal("non-trigger channel muted the speakers")
	}

	e.HandleFader(4, 50)
	if !e.SpeakerMuted() {
		t.Fatal("named trigger channel did not mute the speakers")
	}
}

func TestSpeakerMuteDisabled(t *testing.T) {
	c := &capture{}
	e := newTestEngine(c, nil)
	e.Reload(nil, config.SpeakerMute{}, 0)

	e.HandleFader(3, 50)
	time.Sleep(10 * time.Millisecond)
	if len(c.sent) != 0 {
		t.Errorf("disabled automation sent %v", c.sent)
	}
	if e.SpeakerMuted() {
		t.Error("speakers muted with automation disabled")
	}
}

func TestSpeakerMuteStatusBroadcastOnChangeOnly(t *testing.T) {
	c := &capture{}
	e := newTestEngine(c, nil)
	e.Reload(nil, busMuteConfig(), 0)

	e.HandleFader(3, 50)
	e.HandleFader(3, 55)
	e.HandleFader(3, 5)

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev == "speaker_mute_status" {
			n++
		}
	}
	if n != 2 {
		t.Errorf("got %d status broadcasts, want 2", n)
	}
}
