// Package queue holds the authoritative playback queue and current-song
// state. Every mutation goes through Manager, which serializes writers and
// re-establishes the queue invariants before the change is observable:
//
//   - no two songs in the queue share a MediaID
//   - a non-empty queue always has a current song (index 0 is promoted when
//     no explicit selection exists), except immediately after Reset
package queue

import (
	"sync"

	"github.com/samber/lo"

	"github.com/lantier/resona/internal/song"
)

// Manager is the mutex-guarded store for queue contents, current song,
// search query and the user-facing message. All operations are synchronous
// and safe to call from any goroutine.
type Manager struct {
	mu sync.Mutex

	songs   []song.Song
	current *song.Song
	search  string
	message string

	subs   []*Subscription
	subsMu sync.RWMutex

	closed bool
}

// NewManager creates an empty queue manager.
func NewManager() *Manager {
	return &Manager{}
}

// CurrentSong returns a copy of the current song, or nil if none.
func (m *Manager) CurrentSong() *song.Song {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySong(m.current)
}

// CurrentQueue returns a copy of the queue contents.
func (m *Manager) CurrentQueue() []song.Song {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]song.Song, len(m.songs))
	copy(result, m.songs)
	return result
}

// SearchQuery returns the last search query set.
func (m *Manager) SearchQuery() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.search
}

// ErrorMessage returns the last user-facing message set.
func (m *Manager) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.message
}

// UpdateTopSong sets the current song and moves it to queue position 0,
// removing any other entry with the same identity first. No-op on nil.
func (m *Manager) UpdateTopSong(s *song.Song) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rest := lo.Filter(m.songs, func(e song.Song, _ int) bool {
		return e.MediaID != s.MediaID
	})
	m.songs = append([]song.Song{*s}, rest...)
	m.setCurrentLocked(copySong(s))
	m.broadcastQueueLocked()
}

// UpdateCurrentSong sets the current song without reordering the queue.
// Used when the engine autonomously advances to another track. A nil song
// clears the selection.
func (m *Manager) UpdateCurrentSong(s *song.Song) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCurrentLocked(copySong(s))
}

// ReplaceCurrentQueue replaces the queue with a de-duplicated copy of songs,
// preserving input order, then repairs the current song.
func (m *Manager) ReplaceCurrentQueue(songs []song.Song) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceLocked(songs)
}

// AddToCurrentQueue merges songs into the queue with set semantics keyed by
// identity: existing entries keep their position, new ones are appended in
// input order.
func (m *Manager) AddToCurrentQueue(songs []song.Song) {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := m.songs
	for _, s := range song.Dedup(songs) {
		if !song.Contains(merged, s.MediaID) {
			merged = append(merged, s)
		}
	}
	m.replaceLocked(merged)
}

// AddToCurrentQueueNext inserts songs immediately after the current song,
// or at the end when there is no current song. Incoming entries already in
// the queue are moved to the insertion point; the current song itself is
// never part of the insertion.
func (m *Manager) AddToCurrentQueueNext(songs []song.Song) {
	m.mu.Lock()
	defer m.mu.Unlock()

	incoming := song.Dedup(songs)
	if m.current != nil {
		incoming = lo.Filter(incoming, func(s song.Song, _ int) bool {
			return s.MediaID != m.current.MediaID
		})
	}
	incomingIDs := lo.SliceToMap(incoming, func(s song.Song) (string, struct{}) {
		return s.MediaID, struct{}{}
	})
	base := lo.Filter(m.songs, func(s song.Song, _ int) bool {
		_, ok := incomingIDs[s.MediaID]
		return !ok
	})

	at := len(base)
	if m.current != nil {
		if idx := song.IndexOf(base, m.current.MediaID); idx >= 0 {
			at = idx + 1
		}
	}

	target := make([]song.Song, 0, len(base)+len(incoming))
	target = append(target, base[:at]...)
	target = append(target, incoming...)
	target = append(target, base[at:]...)
	m.replaceLocked(target)
}

// AddToCurrentQueueTop inserts songs at the head of the queue. Replacement
// dedup keeps the first occurrence, so incoming entries win their position
// over duplicates already queued.
func (m *Manager) AddToCurrentQueueTop(songs []song.Song) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceLocked(append(append([]song.Song{}, songs...), m.songs...))
}

// RemoveFromCurrentQueue removes all entries matching the identities of songs.
func (m *Manager) RemoveFromCurrentQueue(songs []song.Song) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removedIDs := lo.SliceToMap(songs, func(s song.Song) (string, struct{}) {
		return s.MediaID, struct{}{}
	})
	m.replaceLocked(lo.Filter(m.songs, func(s song.Song, _ int) bool {
		_, ok := removedIDs[s.MediaID]
		return !ok
	}))
}

// ClearQueue reduces the queue to just the current song, if any.
func (m *Manager) ClearQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keep []song.Song
	if m.current != nil {
		keep = []song.Song{*m.current}
	}
	m.replaceLocked(keep)
}

// UpdateSong replaces every queued copy of the song (and the current-song
// copy) with the given value. Songs are value copies, so server-side
// attribute changes like rating or favourite propagate this way.
func (m *Manager) UpdateSong(s song.Song) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for i := range m.songs {
		if m.songs[i].MediaID == s.MediaID {
			m.songs[i] = s
			changed = true
		}
	}
	if m.current != nil && m.current.MediaID == s.MediaID {
		m.setCurrentLocked(&s)
	}
	if changed {
		m.broadcastQueueLocked()
	}
}

// Reset clears the current song, search query and queue. The user-facing
// message is deliberately preserved: an error raised just before a session
// reset must stay visible after it.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.songs = nil
	m.search = ""
	m.setCurrentLocked(nil)
	m.broadcastQueueLocked()
	m.broadcast(func(sub *Subscription) { sub.sendSearch(SearchChange{}) })
}

// UpdateSearchQuery sets the search query. Latest write wins.
func (m *Manager) UpdateSearchQuery(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.search = text
	m.broadcast(func(sub *Subscription) { sub.sendSearch(SearchChange{Text: text}) })
}

// UpdateErrorMessage sets the user-facing message. Latest write wins.
func (m *Manager) UpdateErrorMessage(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.message = text
	m.broadcast(func(sub *Subscription) { sub.sendMessage(MessageChange{Text: text}) })
}

// Subscribe creates a new event subscription.
func (m *Manager) Subscribe() *Subscription {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	sub := newSubscription()
	m.subs = append(m.subs, sub)
	return sub
}

// Close shuts down all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.subsMu.Lock()
	for _, sub := range m.subs {
		sub.close()
	}
	m.subs = nil
	m.subsMu.Unlock()
}

// replaceLocked installs the de-duplicated target queue and runs
// current-song repair. Must hold mu.
func (m *Manager) replaceLocked(songs []song.Song) {
	m.songs = song.Dedup(songs)
	m.repairCurrentLocked()
	m.broadcastQueueLocked()
}

// repairCurrentLocked promotes queue index 0 to current when the queue is
// non-empty and no current song is set. Must hold mu.
func (m *Manager) repairCurrentLocked() {
	if m.current == nil && len(m.songs) > 0 {
		head := m.songs[0]
		m.setCurrentLocked(&head)
	}
}

// setCurrentLocked stores the current song and notifies when it changed.
// Must hold mu.
func (m *Manager) setCurrentLocked(s *song.Song) {
	if sameSong(m.current, s) {
		return
	}
	m.current = copySong(s)
	notify := copySong(s)
	m.broadcast(func(sub *Subscription) { sub.sendCurrent(CurrentChange{Song: notify}) })
}

func (m *Manager) broadcastQueueLocked() {
	snapshot := make([]song.Song, len(m.songs))
	copy(snapshot, m.songs)
	m.broadcast(func(sub *Subscription) { sub.sendQueue(QueueChange{Songs: snapshot}) })
}

func (m *Manager) broadcast(send func(*Subscription)) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	for _, sub := range m.subs {
		send(sub)
	}
}

func copySong(s *song.Song) *song.Song {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func sameSong(a, b *song.Song) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
