// Package engine wraps the external media engine behind a narrow
// command/event contract and adapts its callbacks into typed events consumed
// by a single goroutine.
package engine

import (
	"time"

	"github.com/lantier/resona/internal/resolver"
)

// Engine is the contract the external media engine must satisfy. Commands
// are synchronous; playback progress and autonomous transitions surface on
// the Events channel. Item indices follow the engine's internal item list.
type Engine interface {
	// Item list manipulation. RemoveItems removes the half-open range
	// [from, to).
	SetItems(items []resolver.MediaItem) error
	InsertItems(index int, items []resolver.MediaItem) error
	RemoveItems(from, to int) error
	Items() []resolver.MediaItem
	CurrentIndex() int

	// Transport
	Play() error
	Pause() error
	Stop() error
	Next() error
	Previous() error
	SeekTo(index int, pos time.Duration) error
	Position() time.Duration
	Duration() time.Duration

	// Modes
	SetRepeatMode(mode RepeatMode) error
	SetShuffle(enabled bool) error

	// Events returns the engine's event stream. The channel is closed when
	// the engine shuts down.
	Events() <-chan Event

	Close() error
}

// Event is a typed engine event variant.
type Event interface {
	isEvent()
}

// StateChanged reports a playback state transition. Duration carries the
// track duration once the engine is Ready.
type StateChanged struct {
	State    State
	Duration time.Duration
}

// PlayingChanged reports whether the engine is actively playing.
type PlayingChanged struct {
	Playing bool
}

// TrackTransitioned reports that the engine moved to another item, either
// autonomously at end of track or following a skip command.
type TrackTransitioned struct {
	MediaID string
}

// LoadingChanged reports buffering/IO activity.
type LoadingChanged struct {
	Loading bool
}

func (StateChanged) isEvent()      {}
func (PlayingChanged) isEvent()    {}
func (TrackTransitioned) isEvent() {}
func (LoadingChanged) isEvent()    {}
