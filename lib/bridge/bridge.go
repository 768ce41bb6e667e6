// Package bridge wires the mixer link to the client-facing hub: it routes
// every inbound console message to the subsystem that owns it, executes
// client requests, and owns connection teardown/rebuild.
package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chabad360/go-osc/osc"
	"github.com/sirupsen/logrus"

	"xbridge/lib/automation"
	"xbridge/lib/channel"
	"xbridge/lib/config"
	"xbridge/lib/hub"
	"xbridge/lib/meters"
	"xbridge/lib/mixer"
	"xbridge/lib/relay"
	"xbridge/lib/scene"
)

// Bridge is the engine instance. All of its long-lived state (fader
// states, scene directory, connection state, channel names) hangs off
// this struct so independent instances can coexist.
type Bridge struct {
	log      *logrus.Entry
	cfgPath  string
	dispatch relay.Dispatcher

	mu        sync.Mutex
	settings  *config.Settings
	client    *mixer.Client
	broadcast func(event string, payload any)
	names     map[int]string
	firmware  string
	model     string
	meterSub  bool
	dynSub    bool

	validator *mixer.Validator
	scenes    *scene.Synchronizer
	channels  *channel.Engine
	auto      *automation.Engine
}

// New builds a bridge from loaded settings. cfgPath is re-read on
// reload-settings requests; dispatch executes fader-trigger commands.
func New(settings *config.Settings, cfgPath string, dispatch relay.Dispatcher) *Bridge {
	b := &Bridge{
		log:      logrus.WithField("component", "bridge"),
		cfgPath:  cfgPath,
		dispatch: dispatch,
		settings: settings,
		names:    make(map[int]string),
	}
	b.validator = mixer.NewValidator(b.send, b.onStatus)
	b.validator.Tick = b.renewSubscriptions
	b.scenes = scene.New(sceneConn{b}, b.emit)
	b.channels = channel.NewEngine(chanConn{b})
	b.auto = automation.New(b.send, dispatch, b.emit, b.resolveName)
	b.auto.Reload(settings.FaderMappings, settings.SpeakerMute,
		time.Duration(settings.DuplicateSuppressMs)*time.Millisecond)
	return b
}

// SetBroadcast installs the event sink. Must be called before Start.
func (b *Bridge) SetBroadcast(fn func(event string, payload any)) {
	b.mu.Lock()
	b.broadcast = fn
	b.mu.Unlock()
}

// Start connects to the console and begins validation.
func (b *Bridge) Start() error {
	b.mu.Lock()
	addr := b.settings.Mixer.Address
	b.mu.Unlock()
	if err := b.connect(addr); err != nil {
		return err
	}
	b.validator.Start()
	return nil
}

// Stop tears the connection down and cancels every timer and in-flight
// cycle.
func (b *Bridge) Stop() {
	b.validator.Stop()
	b.scenes.Reset()
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

func (b *Bridge) connect(addr string) error {
	client, err := mixer.Dial(addr)
	if err != nil {
		return err
	}
	client.SetHandler(b.handle)
	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	b.log.WithField("addr", addr).Info("mixer link up")
	return nil
}

// Reconfigure tears down the current connection and dials a new address.
// Every timer and single-flight guard is reset so nothing stale can fire
// against the new link.
func (b *Bridge) Reconfigure(addr string) error {
	b.Stop()
	if err := b.connect(addr); err != nil {
		return err
	}
	b.validator.Start()
	return nil
}

// send is the one gate all outbound traffic passes through. With no link
// it degrades to a logged no-op — callers never see transport absence as
// an error.
func (b *Bridge) send(addr string, args ...any) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		b.log.WithField("addr", addr).Warn("no mixer connection, dropping send")
		return nil
	}
	return client.Send(addr, args...)
}

func (b *Bridge) emit(event string, payload any) {
	b.mu.Lock()
	fn := b.broadcast
	b.mu.Unlock()
	if fn != nil {
		fn(event, payload)
	}
}

// onStatus relays validator transitions and refreshes the scene directory
// whenever the console (re)appears.
func (b *Bridge) onStatus(connected bool, message string) {
	b.emit("mixer_status", StatusPayload{Connected: connected, Message: message})
	if connected {
		b.scenes.Refresh()
	}
}

// renewSubscriptions rides the keepalive tick: console metering
// subscriptions lapse after ~10 seconds unless re-requested.
func (b *Bridge) renewSubscriptions() {
	b.mu.Lock()
	meterSub, dynSub := b.meterSub, b.dynSub
	b.mu.Unlock()
	if meterSub {
		b.send("/meters", "/meters/1")
	}
	if dynSub {
		b.send("/meters", "/meters/6")
	}
}

func (b *Bridge) resolveName(name string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, n := range b.names {
		if n == name {
			return ch, true
		}
	}
	return 0, false
}

// handle routes one inbound console message. Called from the transport
// read loop, one message at a time.
func (b *Bridge) handle(msg *osc.Message) {
	b.validator.MarkAlive()

	switch {
	case msg.Address == "/meters/1":
		if blob, ok := firstBlob(msg.Arguments); ok {
			if frame, ok := meters.DecodeLevels(blob, time.Now()); ok {
				b.emit("vu_meters", frame)
			}
		}

	case msg.Address == "/meters/6":
		if blob, ok := firstBlob(msg.Arguments); ok {
			if frame, ok := meters.DecodeDynamics(blob, time.Now()); ok {
				b.emit("dynamics_meters", frame)
			}
		}

	case msg.Address == "/xinfo" || msg.Address == "/info":
		b.handleInfo(msg.Arguments)

	case msg.Address == "/-snap/index":
		if v, ok := argInt(msg.Arguments, 0); ok {
			b.scenes.HandleIndex(v)
		}

	default:
		if ch, rest, ok := parseChannelAddr(msg.Address); ok {
			b.handleChannel(ch, rest, msg.Arguments)
		}
	}
}

func (b *Bridge) handleInfo(args []any) {
	// /xinfo replies carry [ip, name, model, firmware].
	if len(args) < 4 {
		return
	}
	model, _ := args[2].(string)
	firmware, _ := args[3].(string)
	b.mu.Lock()
	b.model, b.firmware = model, firmware
	b.mu.Unlock()
	b.emit("firmware_version", FirmwarePayload{Model: model, Firmware: firmware})
}

func (b *Bridge) handleChannel(ch int, rest string, args []any) {
	switch rest {
	case "mix/fader":
		if f, ok := argFloat(args, 0); ok {
			// Wire position is 0..1; automation works in 0-100.
			b.auto.HandleFader(ch, f*100)
		}
	case "mix/on":
		if v, ok := argInt(args, 0); ok {
			// mix/on: 1 = channel on, 0 = muted.
			b.auto.HandleMute(ch, v == 0)
		}
	case "config/name":
		name := ""
		if len(args) > 0 {
			name, _ = args[0].(string)
		}
		b.mu.Lock()
		b.names[ch] = name
		b.mu.Unlock()
		b.emit("channel-name", NamePayload{Channel: ch, Name: name})
	}
}

// HandleRequest executes one client request from the hub.
func (b *Bridge) HandleRequest(req hub.Request) {
	switch req.Action {
	case "subscribe-to-meters":
		b.mu.Lock()
		b.meterSub = true
		b.mu.Unlock()
		b.send("/meters", "/meters/1")

	case "subscribe-to-dynamics":
		b.mu.Lock()
		b.dynSub = true
		b.mu.Unlock()
		b.send("/meters", "/meters/6")

	case "validate-mixer":
		b.validator.Validate()

	case "get-scene-list":
		b.scenes.Refresh()

	case "load-scene":
		if err := b.scenes.Load(req.SceneID); err != nil {
			b.log.WithError(err).Warn("scene load rejected")
		}

	case "save-scene":
		if err := b.scenes.Save(req.SceneID, req.Name); err != nil {
			b.log.WithError(err).Warn("scene save rejected")
		}

	case "copy-channel":
		go b.runOperation("copy", req.Source, req.Target, func() error {
			return b.channels.Copy(req.Source, req.Target)
		})

	case "swap-channels":
		go b.runOperation("swap", req.A, req.B, func() error {
			return b.channels.Swap(req.A, req.B)
		})

	case "set-channel-name":
		b.setChannelName(req.Channel, req.Name)

	case "reload-settings":
		if err := b.ReloadSettings(); err != nil {
			b.log.WithError(err).Error("settings reload failed")
		}

	default:
		b.log.WithField("action", req.Action).Warn("unknown client request")
	}
}

// runOperation executes a bulk channel transfer and reports the outcome
// to clients.
func (b *Bridge) runOperation(op string, a, bCh int, fn func() error) {
	if err := fn(); err != nil {
		b.log.WithError(err).WithField("operation", op).Error("channel operation failed")
		b.emit("channel_operation_error", OperationErrorPayload{
			Operation: op, A: a, B: bCh, Message: err.Error(),
		})
		return
	}
	b.emit("channel_operation_complete", OperationPayload{Operation: op, A: a, B: bCh})
}

func (b *Bridge) setChannelName(ch int, name string) {
	if ch < 0 || ch >= channel.ChannelCount {
		b.log.WithField("channel", ch).Warn("set-channel-name out of range")
		return
	}
	b.send(channel.Addr(ch, "config/name"), name)
	b.mu.Lock()
	b.names[ch] = name
	b.mu.Unlock()
	b.emit("channel-name", NamePayload{Channel: ch, Name: name})
}

// ReloadSettings re-reads the settings file and applies what can change
// at runtime. A changed mixer address rebuilds the connection.
func (b *Bridge) ReloadSettings() error {
	if b.cfgPath == "" {
		return fmt.Errorf("bridge: no settings path configured")
	}
	settings, err := config.Load(b.cfgPath)
	if err != nil {
		return err
	}

	b.mu.Lock()
	oldAddr := b.settings.Mixer.Address
	b.settings = settings
	b.mu.Unlock()

	b.auto.Reload(settings.FaderMappings, settings.SpeakerMute,
		time.Duration(settings.DuplicateSuppressMs)*time.Millisecond)
	b.log.Info("settings reloaded")

	if settings.Mixer.Address != oldAddr {
		b.log.WithField("addr", settings.Mixer.Address).Info("mixer address changed, reconnecting")
		return b.Reconfigure(settings.Mixer.Address)
	}
	return nil
}

// Status returns a point-in-time summary for the HTTP status endpoint.
func (b *Bridge) Status() StatusSummary {
	b.mu.Lock()
	firmware, model := b.firmware, b.model
	b.mu.Unlock()
	dir := b.scenes.Directory()
	return StatusSummary{
		Connected:    b.validator.Connected(),
		LastResponse: b.validator.LastResponse(),
		Model:        model,
		Firmware:     firmware,
		CurrentScene: dir.Current,
		SpeakerMuted: b.auto.SpeakerMuted(),
		FaderStates:  b.auto.States(),
	}
}

// SceneDirectory exposes the current directory for the HTTP API.
func (b *Bridge) SceneDirectory() scene.DirectoryPayload {
	return b.scenes.Directory()
}

func firstBlob(args []any) ([]byte, bool) {
	if len(args) == 0 {
		return nil, false
	}
	blob, ok := args[0].([]byte)
	return blob, ok
}

func argInt(args []any, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}

func argFloat(args []any, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int32:
		return float64(v), true
	}
	return 0, false
}

// parseChannelAddr splits "/ch/NN/<rest>" into a 0-based channel index
// and the property path.
func parseChannelAddr(addr string) (ch int, rest string, ok bool) {
	s, found := strings.CutPrefix(addr, "/ch/")
	if !found {
		return 0, "", false
	}
	num, rest, found := strings.Cut(s, "/")
	if !found || len(num) != 2 {
		return 0, "", false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > channel.ChannelCount {
		return 0, "", false
	}
	return n - 1, rest, true
}
