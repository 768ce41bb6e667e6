package bridge

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"xbridge/lib/config"
	"xbridge/lib/hub"
	"xbridge/lib/meters"
	"xbridge/lib/mixer"
	"xbridge/lib/scene"
)

type eventSink struct {
	mu       sync.Mutex
	events   []string
	payloads []any
}

func (s *eventSink) emit(event string, payload any) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
}

func (s *eventSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev == event {
			n++
		}
	}
	return n
}

// last returns the most recent payload for an event.
func (s *eventSink) last(event string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i] == event {
			return s.payloads[i], true
		}
	}
	return nil, false
}

type fakeDispatch struct {
	mu       sync.Mutex
	commands []string
}

func (d *fakeDispatch) Dispatch(cmd string) error {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()
	return nil
}

func (d *fakeDispatch) count(cmd string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, got := range d.commands {
		if got == cmd {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func testSettings(addr string) *config.Settings {
	fdt := 5.0
	s := &config.Settings{}
	s.Mixer.Address = addr
	s.FaderMappings = []config.FaderMapping{{
		Channel:           2,
		Threshold:         10,
		FadeDownThreshold: &fdt,
		Command:           "PLAYER 1-1 START",
		FadeDownCommand:   "PLAYER 1-1 STOP",
		ListenToMute:      true,
		Enabled:           true,
	}}
	return s
}

func setupTest(t *testing.T) (*mixer.MockMixer, *Bridge, *eventSink, *fakeDispatch) {
	t.Helper()
	mock, err := mixer.NewMockMixer()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mock.Close() })

	sink := &eventSink{}
	dispatch := &fakeDispatch{}
	b := New(testSettings(mock.Addr()), "", dispatch)
	b.SetBroadcast(sink.emit)

	b.validator.Timeout = 500 * time.Millisecond
	b.validator.Keepalive = 30 * time.Millisecond
	b.validator.StaleAfter = 10 * time.Second
	b.scenes.BatchDelay = time.Millisecond
	b.scenes.Debounce = 30 * time.Millisecond
	b.scenes.Fallback = 500 * time.Millisecond
	b.channels.WritePace = 0

	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Stop)

	waitFor(t, "validation", b.validator.Connected)
	return mock, b, sink, dispatch
}

func levelBlob(vals ...float64) []byte {
	buf := make([]byte, 4+2*len(vals))
	binary.BigEndian.PutUint32(buf, uint32(len(vals)))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[4+2*i:], uint16(int16(v*256)))
	}
	return buf
}

func TestStartReportsStatusAndFirmware(t *testing.T) {
	_, _, sink, _ := setupTest(t)

	waitFor(t, "firmware event", func() bool { return sink.count("firmware_version") > 0 })
	payload, _ := sink.last("firmware_version")
	fw := payload.(FirmwarePayload)
	if fw.Firmware != "1.18" || fw.Model != "XR18" {
		t.Errorf("got firmware payload %+v", fw)
	}

	status, ok := sink.last("mixer_status")
	if !ok {
		t.Fatal("no mixer_status event")
	}
	if !status.(StatusPayload).Connected {
		t.Error("status event not connected")
	}
}

func TestSceneDirectoryRefreshesOnConnect(t *testing.T) {
	_, _, sink, _ := setupTest(t)

	waitFor(t, "initial scene list", func() bool { return sink.count("scene_list") > 0 })
	payload, _ := sink.last("scene_list")
	dir := payload.(scene.DirectoryPayload)
	if len(dir.Scenes) != scene.SlotCount {
		t.Fatalf("got %d slots, want %d", len(dir.Scenes), scene.SlotCount)
	}
}

func TestFaderMessageFiresTrigger(t *testing.T) {
	mock, _, sink, dispatch := setupTest(t)

	// Wire value 0.5 is position 50, above the threshold of 10.
	if err := mock.Push("/ch/03/mix/fader", float32(0.5)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "trigger", func() bool { return dispatch.count("PLAYER 1-1 START") == 1 })
	waitFor(t, "fader update", func() bool { return sink.count("fader_update") > 0 })
}

func TestMuteMessageFiresStop(t *testing.T) {
	mock, _, _, dispatch := setupTest(t)

	if err := mock.Push("/ch/03/mix/fader", float32(0.5)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "start", func() bool { return dispatch.count("PLAYER 1-1 START") == 1 })

	// mix/on 0 means muted.
	if err := mock.Push("/ch/03/mix/on", int32(0)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "stop on mute", func() bool { return dispatch.count("PLAYER 1-1 STOP") == 1 })
}

func TestChannelNameTracking(t *testing.T) {
	mock, b, sink, _ := setupTest(t)

	if err := mock.Push("/ch/01/config/name", "Host"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "name event", func() bool { return sink.count("channel-name") > 0 })
	payload, _ := sink.last("channel-name")
	name := payload.(NamePayload)
	if name.Channel != 0 || name.Name != "Host" {
		t.Errorf("got name payload %+v", name)
	}

	ch, ok := b.resolveName("Host")
	if !ok || ch != 0 {
		t.Errorf("resolveName = %d, %v", ch, ok)
	}
}

func TestMeterBlobRouting(t *testing.T) {
	mock, _, sink, _ := setupTest(t)

	vals := make([]float64, 40)
	for i := range vals {
		vals[i] = -20
	}
	if err := mock.Push("/meters/1", levelBlob(vals...)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "vu meters", func() bool { return sink.count("vu_meters") > 0 })
	payload, _ := sink.last("vu_meters")
	frame := payload.(meters.Frame)
	if len(frame.Channels) != 40 {
		t.Fatalf("got %d channels", len(frame.Channels))
	}
	if frame.Channels[0] != -20 {
		t.Errorf("channel 0 = %v, want -20", frame.Channels[0])
	}
}

func TestMeterSubscriptionRenewsOnKeepalive(t *testing.T) {
	mock, b, _, _ := setupTest(t)

	b.HandleRequest(hub.Request{Action: "subscribe-to-meters"})

	// The initial subscribe plus at least one keepalive renewal.
	waitFor(t, "renewed subscription", func() bool {
		return mock.CountReceived("/meters") >= 2
	})
	for _, msg := range mock.Received() {
		if msg.Address == "/meters" && len(msg.Arguments) > 0 {
			if msg.Arguments[0] != "/meters/1" {
				t.Errorf("subscribe arg = %v, want /meters/1", msg.Arguments[0])
			}
		}
	}
}

func TestLoadSceneRequest(t *testing.T) {
	mock, b, sink, _ := setupTest(t)

	b.HandleRequest(hub.Request{Action: "load-scene", SceneID: 5})

	waitFor(t, "load command", func() bool { return mock.CountReceived("/-snap/load") == 1 })
	payload, ok := sink.last("scene_loaded")
	if !ok {
		t.Fatal("no scene_loaded event")
	}
	if payload.(scene.ScenePayload).SceneID != 5 {
		t.Errorf("got payload %+v", payload)
	}
}

func TestSetChannelNameRequest(t *testing.T) {
	mock, b, sink, _ := setupTest(t)

	b.HandleRequest(hub.Request{Action: "set-channel-name", Channel: 1, Name: "Guest"})

	waitFor(t, "name write", func() bool { return mock.Property("/ch/02/config/name") == "Guest" })
	payload, ok := sink.last("channel-name")
	if !ok {
		t.Fatal("no channel-name event")
	}
	name := payload.(NamePayload)
	if name.Channel != 1 || name.Name != "Guest" {
		t.Errorf("got payload %+v", name)
	}
}

func TestCopyChannelRequestCompletes(t *testing.T) {
	mock, b, sink, _ := setupTest(t)
	mock.SetProperty("/ch/01/mix/fader", float32(0.7))

	b.HandleRequest(hub.Request{Action: "copy-channel", Source: 0, Target: 1})

	waitFor(t, "operation complete", func() bool {
		return sink.count("channel_operation_complete") == 1
	})
	waitFor(t, "copied value", func() bool {
		return mock.Property("/ch/02/mix/fader") == float32(0.7)
	})
	payload, _ := sink.last("channel_operation_complete")
	op := payload.(OperationPayload)
	if op.Operation != "copy" || op.A != 0 || op.B != 1 {
		t.Errorf("got payload %+v", op)
	}
}

func TestSwapChannelsOutOfRangeReportsError(t *testing.T) {
	_, b, sink, _ := setupTest(t)

	b.HandleRequest(hub.Request{Action: "swap-channels", A: 0, B: 99})

	waitFor(t, "operation error", func() bool {
		return sink.count("channel_operation_error") == 1
	})
}

func TestReconfigureMovesToNewMixer(t *testing.T) {
	_, b, _, _ := setupTest(t)

	mock2, err := mixer.NewMockMixer()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mock2.Close() })

	if err := b.Reconfigure(mock2.Addr()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "validation against new mixer", func() bool {
		return mock2.CountReceived("/xinfo") >= 1 && b.validator.Connected()
	})
}

func TestStatusSummary(t *testing.T) {
	mock, b, _, _ := setupTest(t)

	waitFor(t, "firmware", func() bool { return b.Status().Firmware != "" })
	mock.Push("/ch/03/mix/fader", float32(0.5))
	waitFor(t, "fader state", func() bool { return len(b.Status().FaderStates) > 0 })

	st := b.Status()
	if !st.Connected {
		t.Error("status not connected")
	}
	if st.Firmware != "1.18" {
		t.Errorf("firmware = %q", st.Firmware)
	}
}
