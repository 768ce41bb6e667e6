// Package scene maintains the console's 64-slot snapshot directory and
// drives load/save commands. A refresh is a batched request cycle: the
// directory is cleared, all 64 name queries go out in paced batches, and the
// cycle ends either when replies stop arriving (debounce) or at a hard
// fallback timeout, whichever comes first. Whatever was collected by then is
// broadcast — slots that never answered simply stay empty.
package scene

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const SlotCount = 64

const (
	batchSize       = 8
	batchDelay      = 100 * time.Millisecond
	debounceWindow  = 1500 * time.Millisecond
	fallbackTimeout = 8 * time.Second
)

// Slot is one directory entry. An empty name is a valid, unused slot.
type Slot struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// DirectoryPayload is the scene_list event body.
type DirectoryPayload struct {
	Scenes  []Slot `json:"scenes"`
	Current *int   `json:"currentSceneId"`
}

// ScenePayload is the scene_loaded / scene_saved / current_scene event body.
type ScenePayload struct {
	SceneID int `json:"sceneId"`
}

// Collector is the slice of the transport's response registry the
// synchronizer needs.
type Collector interface {
	Values() map[string][]any
	Missing() int
	Close()
}

// Conn is the transport contract: fire-and-forget sends plus response
// collection.
type Conn interface {
	Send(addr string, args ...any) error
	Collect(addrs []string, notify func(addr string, args []any)) Collector
}

// Synchronizer owns the scene directory. All mutation happens under its
// mutex; timers re-check the cycle generation so a superseded or torn-down
// cycle can never finalize.
type Synchronizer struct {
	conn Conn
	emit func(event string, payload any)
	log  *logrus.Entry

	// Overridable in tests; production code leaves the defaults.
	BatchDelay time.Duration
	Debounce   time.Duration
	Fallback   time.Duration

	mu         sync.Mutex
	slots      [SlotCount]Slot
	current    int // 0-based, -1 when unknown
	inProgress bool
	gen        int
	col        Collector
	debounce   *time.Timer
	fallback   *time.Timer
}

func New(conn Conn, emit func(event string, payload any)) *Synchronizer {
	s := &Synchronizer{
		conn:       conn,
		emit:       emit,
		log:        logrus.WithField("component", "scene"),
		BatchDelay: batchDelay,
		Debounce:   debounceWindow,
		Fallback:   fallbackTimeout,
		current:    -1,
	}
	for i := range s.slots {
		s.slots[i].ID = i
	}
	return s
}

func nameAddr(id int) string {
	return fmt.Sprintf("/-snap/%02d/name", id+1)
}

// Refresh starts a directory synchronization cycle. A cycle already in
// flight makes this a no-op.
func (s *Synchronizer) Refresh() {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		s.log.Info("scene refresh already in progress, ignoring")
		return
	}
	s.inProgress = true
	s.gen++
	gen := s.gen
	for i := range s.slots {
		s.slots[i] = Slot{ID: i}
	}

	addrs := make([]string, SlotCount)
	for i := range addrs {
		addrs[i] = nameAddr(i)
	}
	s.col = s.conn.Collect(addrs, func(addr string, args []any) {
		s.onName(gen, addr, args)
	})
	s.fallback = time.AfterFunc(s.Fallback, func() { s.finalize(gen, "fallback timeout") })
	s.mu.Unlock()

	go s.requestLoop(gen, addrs)
}

// requestLoop paces the 64 name queries; the console drops requests when
// they all arrive at once.
func (s *Synchronizer) requestLoop(gen int, addrs []string) {
	for start := 0; start < len(addrs); start += batchSize {
		if s.stale(gen) {
			return
		}
		end := min(start+batchSize, len(addrs))
		for _, addr := range addrs[start:end] {
			if err := s.conn.Send(addr); err != nil {
				s.log.WithError(err).Warn("scene name query failed")
			}
		}
		time.Sleep(s.BatchDelay)
	}
	if s.stale(gen) {
		return
	}
	if err := s.conn.Send("/-snap/index"); err != nil {
		s.log.WithError(err).Warn("scene index query failed")
	}
}

func (s *Synchronizer) stale(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen || !s.inProgress
}

func (s *Synchronizer) onName(gen int, addr string, args []any) {
	var wire int
	if _, err := fmt.Sscanf(addr, "/-snap/%02d/name", &wire); err != nil {
		return
	}
	name := ""
	if len(args) > 0 {
		name, _ = args[0].(string)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.inProgress {
		return
	}
	id := wire - 1
	if id < 0 || id >= SlotCount {
		return
	}
	s.slots[id] = Slot{ID: id, Name: name, UpdatedAt: time.Now()}

	// Replies restart the debounce window; once the console goes quiet
	// the cycle ends early instead of waiting out the fallback.
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.Debounce, func() { s.finalize(gen, "debounce") })
}

func (s *Synchronizer) finalize(gen int, reason string) {
	s.mu.Lock()
	if gen != s.gen || !s.inProgress {
		s.mu.Unlock()
		return
	}
	s.inProgress = false
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	missing := 0
	if s.col != nil {
		missing = s.col.Missing()
		s.col.Close()
		s.col = nil
	}
	payload := s.directoryPayloadLocked()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"reason": reason, "missing": missing}).Info("scene refresh complete")
	s.emit("scene_list", payload)
}

// Reset aborts any in-flight cycle without broadcasting. Used when the
// mixer connection is torn down.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.inProgress = false
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	if s.col != nil {
		s.col.Close()
		s.col = nil
	}
}

// Load sends the 1-based load command and broadcasts immediately. The
// console does not acknowledge loads, so this is optimistic by design.
func (s *Synchronizer) Load(id int) error {
	if id < 0 || id >= SlotCount {
		return fmt.Errorf("scene: id %d out of range", id)
	}
	if err := s.conn.Send("/-snap/load", int32(id+1)); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	s.emit("scene_loaded", ScenePayload{SceneID: id})
	return nil
}

// Save sends the 1-based save command, optionally renames the slot, and
// kicks off a refresh to pick up the new directory state.
func (s *Synchronizer) Save(id int, name string) error {
	if id < 0 || id >= SlotCount {
		return fmt.Errorf("scene: id %d out of range", id)
	}
	if err := s.conn.Send("/-snap/save", int32(id+1)); err != nil {
		return err
	}
	if name != "" {
		if err := s.conn.Send(nameAddr(id), name); err != nil {
			return err
		}
	}
	s.emit("scene_saved", ScenePayload{SceneID: id})
	s.Refresh()
	return nil
}

// HandleIndex processes a current-scene reply (1-based on the wire).
func (s *Synchronizer) HandleIndex(wire int) {
	id := wire - 1
	if id < 0 || id >= SlotCount {
		return
	}
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	s.emit("current_scene", ScenePayload{SceneID: id})
}

// Directory returns the current directory payload.
func (s *Synchronizer) Directory() DirectoryPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directoryPayloadLocked()
}

func (s *Synchronizer) directoryPayloadLocked() DirectoryPayload {
	scenes := make([]Slot, SlotCount)
	copy(scenes, s.slots[:])
	p := DirectoryPayload{Scenes: scenes}
	if s.current >= 0 {
		cur := s.current
		p.Current = &cur
	}
	return p
}

// InProgress reports whether a refresh cycle is running.
func (s *Synchronizer) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}
