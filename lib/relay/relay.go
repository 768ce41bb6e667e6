// Package relay dispatches fader-trigger commands to the outside world:
// plain commands go to the radio-automation software over HTTP, midi:
// commands go out a MIDI port as program changes. Dispatch is
// fire-and-forget from the automation's point of view — a failure is
// logged and reported, never retried.
package relay

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

const defaultTimeout = 5 * time.Second

// Dispatcher executes one external command.
type Dispatcher interface {
	Dispatch(command string) error
}

// HTTPRelay sends commands to a remote-control endpoint as a GET with the
// command in the query string.
type HTTPRelay struct {
	base   string
	client *http.Client
	log    *logrus.Entry
}

func NewHTTPRelay(base string, timeout time.Duration) *HTTPRelay {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPRelay{
		base:   base,
		client: &http.Client{Timeout: timeout},
		log:    logrus.WithField("component", "relay"),
	}
}

func (r *HTTPRelay) Dispatch(command string) error {
	u, err := url.Parse(r.base)
	if err != nil {
		return fmt.Errorf("relay: bad base url: %w", err)
	}
	q := u.Query()
	q.Set("command", command)
	u.RawQuery = q.Encode()

	resp, err := r.client.Get(u.String())
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay: %s returned %s", command, resp.Status)
	}
	r.log.WithField("command", command).Debug("command dispatched")
	return nil
}

// MIDIRelay sends midi: commands as program changes. Command syntax:
// "midi:pc/<program>" or "midi:pc/<program>@<channel>".
type MIDIRelay struct {
	send func(msg midi.Message) error
}

func NewMIDIRelay(port drivers.Out) (*MIDIRelay, error) {
	send, err := midi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("relay: open midi port: %w", err)
	}
	return &MIDIRelay{send: send}, nil
}

// FindOutPort finds the first MIDI output port whose name contains substr.
func FindOutPort(substr string) (drivers.Out, error) {
	lower := strings.ToLower(substr)
	for _, port := range midi.GetOutPorts() {
		if strings.Contains(strings.ToLower(port.String()), lower) {
			return port, nil
		}
	}
	return nil, fmt.Errorf("no MIDI output port matching %q", substr)
}

func (r *MIDIRelay) Dispatch(command string) error {
	spec, ok := strings.CutPrefix(command, "midi:pc/")
	if !ok {
		return fmt.Errorf("relay: unsupported midi command %q", command)
	}
	progStr, chanStr, hasChan := strings.Cut(spec, "@")
	prog, err := strconv.Atoi(progStr)
	if err != nil || prog < 0 || prog > 127 {
		return fmt.Errorf("relay: bad program in %q", command)
	}
	ch := 0
	if hasChan {
		ch, err = strconv.Atoi(chanStr)
		if err != nil || ch < 0 || ch > 15 {
			return fmt.Errorf("relay: bad channel in %q", command)
		}
	}
	return r.send(midi.ProgramChange(uint8(ch), uint8(prog)))
}

// Router splits commands between the MIDI and HTTP backends by prefix.
type Router struct {
	HTTP Dispatcher
	MIDI Dispatcher
}

func (r *Router) Dispatch(command string) error {
	if strings.HasPrefix(command, "midi:") {
		if r.MIDI == nil {
			return fmt.Errorf("relay: midi command %q with no midi port configured", command)
		}
		return r.MIDI.Dispatch(command)
	}
	if r.HTTP == nil {
		return fmt.Errorf("relay: no http relay configured")
	}
	return r.HTTP.Dispatch(command)
}
