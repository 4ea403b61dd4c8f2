package engine

import (
	"sync"
	"time"

	"github.com/lantier/resona/internal/resolver"
)

// Mock is a test double for Engine.
type Mock struct {
	mu sync.Mutex

	items    []resolver.MediaItem
	index    int
	position time.Duration
	duration time.Duration

	playErr    error
	seekErr    error
	playCalls  int
	stopCalls  int
	setCalls   [][]resolver.MediaItem
	repeatMode RepeatMode
	shuffle    bool

	events chan Event
	closed bool
}

// NewMock creates a new mock engine for testing.
func NewMock() *Mock {
	return &Mock{
		index:  -1,
		events: make(chan Event, 32),
	}
}

func (m *Mock) SetItems(items []resolver.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append([]resolver.MediaItem{}, items...)
	m.setCalls = append(m.setCalls, m.items)
	if len(m.items) > 0 {
		m.index = 0
	} else {
		m.index = -1
	}
	return nil
}

func (m *Mock) InsertItems(index int, items []resolver.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rest := append([]resolver.MediaItem{}, m.items[index:]...)
	m.items = append(m.items[:index], append(append([]resolver.MediaItem{}, items...), rest...)...)
	if m.index >= index {
		m.index += len(items)
	}
	return nil
}

func (m *Mock) RemoveItems(from, to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if to > len(m.items) {
		to = len(m.items)
	}
	if from >= to {
		return nil
	}
	m.items = append(m.items[:from], m.items[to:]...)
	switch {
	case m.index >= to:
		m.index -= to - from
	case m.index >= from:
		m.index = from
		if m.index >= len(m.items) {
			m.index = len(m.items) - 1
		}
	}
	return nil
}

func (m *Mock) Items() []resolver.MediaItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]resolver.MediaItem{}, m.items...)
}

func (m *Mock) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

func (m *Mock) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playCalls++
	return m.playErr
}

func (m *Mock) Pause() error { return nil }

func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return nil
}

func (m *Mock) Next() error { return nil }

func (m *Mock) Previous() error { return nil }

func (m *Mock) SeekTo(index int, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seekErr != nil {
		return m.seekErr
	}
	if index >= 0 && index < len(m.items) {
		m.index = index
	}
	return nil
}

func (m *Mock) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Mock) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *Mock) SetRepeatMode(mode RepeatMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeatMode = mode
	return nil
}

func (m *Mock) SetShuffle(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shuffle = enabled
	return nil
}

func (m *Mock) Events() <-chan Event { return m.events }

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

// Test helpers

func (m *Mock) Emit(e Event) { m.events <- e }

func (m *Mock) SetPlayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

func (m *Mock) SetSeekError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seekErr = err
}

func (m *Mock) SetPosition(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = d
}

func (m *Mock) SetDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = d
}

func (m *Mock) PlayCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playCalls
}

func (m *Mock) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

// SetCalls returns the item lists passed to SetItems.
func (m *Mock) SetCalls() [][]resolver.MediaItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls
}

// SetIndex moves the mock's current index without emitting events.
func (m *Mock) SetIndex(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = i
}

// Verify Mock implements Engine at compile time.
var _ Engine = (*Mock)(nil)
