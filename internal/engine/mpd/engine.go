// Package mpd binds the playback engine interface to an MPD server through
// the gompd client.
package mpd

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/lantier/resona/internal/engine"
	"github.com/lantier/resona/internal/resolver"
)

const eventBufferSize = 32

// Engine drives an MPD server. The MPD queue is mirrored item for item, so
// queue positions and item indices always coincide.
type Engine struct {
	mu       sync.Mutex
	client   *mpd.Client
	watcher  *mpd.Watcher
	addr     string
	password string

	items []resolver.MediaItem

	lastState   string
	lastSongPos int
	elapsed     time.Duration
	duration    time.Duration

	events chan engine.Event
	closed bool
}

// New connects to MPD at addr and starts watching for player changes.
func New(addr, password string) (*Engine, error) {
	e := &Engine{
		addr:        addr,
		password:    password,
		lastSongPos: -1,
		events:      make(chan engine.Event, eventBufferSize),
	}
	if err := e.connectLocked(); err != nil {
		return nil, err
	}

	watcher, err := mpd.NewWatcher("tcp", addr, password, "player", "playlist")
	if err != nil {
		e.client.Close()
		return nil, fmt.Errorf("create mpd watcher: %w", err)
	}
	e.watcher = watcher
	go e.watch()

	return e, nil
}

func (e *Engine) connectLocked() error {
	log.Info().Str("addr", e.addr).Msg("Connecting to MPD")

	client, err := mpd.Dial("tcp", e.addr)
	if err != nil {
		return fmt.Errorf("connect to mpd: %w", err)
	}
	if e.password != "" {
		if err := client.Command("password %s", e.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("mpd authentication: %w", err)
		}
	}
	e.client = client
	return nil
}

// ensureConnectedLocked pings the server and reconnects on a dead link.
func (e *Engine) ensureConnectedLocked() error {
	if e.client == nil {
		return e.connectLocked()
	}
	if err := e.client.Ping(); err != nil {
		log.Warn().Err(err).Msg("MPD connection lost, reconnecting")
		e.client.Close()
		e.client = nil
		return e.connectLocked()
	}
	return nil
}

func (e *Engine) watch() {
	for {
		select {
		case _, ok := <-e.watcher.Event:
			if !ok {
				return
			}
			e.poll()
		case err, ok := <-e.watcher.Error:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("MPD watcher error")
			time.Sleep(time.Second)
		}
	}
}

// poll reads MPD status and publishes the diff against the last known state
// as engine events.
func (e *Engine) poll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if err := e.ensureConnectedLocked(); err != nil {
		log.Warn().Err(err).Msg("MPD status poll failed")
		return
	}
	status, err := e.client.Status()
	if err != nil {
		log.Warn().Err(err).Msg("MPD status poll failed")
		return
	}

	e.elapsed = attrSeconds(status, "elapsed")
	e.duration = attrSeconds(status, "duration")

	state := status["state"]
	if state != e.lastState {
		prev := e.lastState
		e.lastState = state
		e.emit(engine.StateChanged{State: engineState(state), Duration: e.duration})
		if (state == "play") != (prev == "play") {
			e.emit(engine.PlayingChanged{Playing: state == "play"})
		}
	}

	pos := attrInt(status, "song", -1)
	if pos != e.lastSongPos {
		e.lastSongPos = pos
		if pos >= 0 && pos < len(e.items) {
			e.emit(engine.TrackTransitioned{MediaID: e.items[pos].MediaID})
		}
	}
}

// emit never blocks the watcher goroutine; an unread event is dropped.
func (e *Engine) emit(ev engine.Event) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) SetItems(items []resolver.MediaItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	if err := e.client.Clear(); err != nil {
		return fmt.Errorf("clear mpd queue: %w", err)
	}
	for _, item := range items {
		if err := e.client.Add(item.URI); err != nil {
			return fmt.Errorf("add %s to mpd queue: %w", item.MediaID, err)
		}
	}
	e.items = append([]resolver.MediaItem{}, items...)
	return nil
}

func (e *Engine) InsertItems(index int, items []resolver.MediaItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	for i, item := range items {
		if _, err := e.client.AddID(item.URI, index+i); err != nil {
			return fmt.Errorf("insert %s into mpd queue: %w", item.MediaID, err)
		}
	}
	rest := append([]resolver.MediaItem{}, e.items[index:]...)
	e.items = append(e.items[:index], append(append([]resolver.MediaItem{}, items...), rest...)...)
	return nil
}

func (e *Engine) RemoveItems(from, to int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if to > len(e.items) {
		to = len(e.items)
	}
	if from >= to {
		return nil
	}
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	if err := e.client.Delete(from, to); err != nil {
		return fmt.Errorf("delete mpd queue range: %w", err)
	}
	e.items = append(e.items[:from], e.items[to:]...)
	return nil
}

func (e *Engine) Items() []resolver.MediaItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]resolver.MediaItem{}, e.items...)
}

func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return e.lastSongPos
	}
	status, err := e.client.Status()
	if err != nil {
		return e.lastSongPos
	}
	return attrInt(status, "song", -1)
}

func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	if err := e.client.Play(-1); err != nil {
		return classifyPlayError(err)
	}
	return nil
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	return e.client.Pause(true)
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	return e.client.Stop()
}

func (e *Engine) Next() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	return e.client.Next()
}

func (e *Engine) Previous() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	return e.client.Previous()
}

func (e *Engine) SeekTo(index int, pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	if err := e.client.Seek(index, int(pos.Seconds())); err != nil {
		return classifyPlayError(err)
	}
	e.lastSongPos = index
	return nil
}

func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return e.elapsed
	}
	status, err := e.client.Status()
	if err != nil {
		return e.elapsed
	}
	e.elapsed = attrSeconds(status, "elapsed")
	return e.elapsed
}

func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *Engine) SetRepeatMode(mode engine.RepeatMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	repeat, single := repeatFlags(mode)
	if err := e.client.Repeat(repeat); err != nil {
		return err
	}
	return e.client.Single(single)
}

func (e *Engine) SetShuffle(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	return e.client.Random(enabled)
}

func (e *Engine) Events() <-chan engine.Event { return e.events }

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if e.watcher != nil {
		e.watcher.Close()
		e.watcher = nil
	}
	close(e.events)

	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

// engineState maps an MPD state string onto the engine state model.
func engineState(state string) engine.State {
	switch state {
	case "play", "pause":
		return engine.StateReady
	default:
		return engine.StateIdle
	}
}

// repeatFlags translates a repeat mode into MPD's repeat and single flags.
func repeatFlags(mode engine.RepeatMode) (repeat, single bool) {
	switch mode {
	case engine.RepeatOne:
		return true, true
	case engine.RepeatAll:
		return true, false
	default:
		return false, false
	}
}

// classifyPlayError marks playback failures that look like a rejected stream
// URL, so callers can distinguish an expired token from a dead server.
func classifyPlayError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "failed to open") || strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") {
		return fmt.Errorf("%w: %v", resolver.ErrStaleSource, err)
	}
	return err
}

func attrSeconds(attrs mpd.Attrs, key string) time.Duration {
	f, err := strconv.ParseFloat(attrs[key], 64)
	if err != nil {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func attrInt(attrs mpd.Attrs, key string, fallback int) int {
	n, err := strconv.Atoi(attrs[key])
	if err != nil {
		return fallback
	}
	return n
}

// Verify Engine implements the engine interface at compile time.
var _ engine.Engine = (*Engine)(nil)
