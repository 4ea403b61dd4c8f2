package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lantier/resona/internal/queue"
	"github.com/lantier/resona/internal/song"
)

// SnapshotStore persists the (current song, queue) pair across process
// restarts and session changes.
type SnapshotStore interface {
	SaveSnapshot(current *song.Song, songs []song.Song) error
	LoadSnapshot() (*song.Song, []song.Song, error)
	ClearSnapshot() error
}

// Hooks are the collaborator callbacks a Synchronizer drives. All are
// optional; nil hooks are skipped.
type Hooks struct {
	// StopEngine requests the playback engine to stop.
	StopEngine func()
	// ServiceMayStop signals that nothing is playing under an invalid
	// session, so the background service may shut down.
	ServiceMayStop func()
	// IsPlaying reports whether the engine is actively playing.
	IsPlaying func() bool
}

// Synchronizer reacts to token changes. Reactions and the direct logout path
// share one mutex so a token-driven restore can never interleave with an
// explicit reset.
type Synchronizer struct {
	mu sync.Mutex

	qm        *queue.Manager
	snapshots SnapshotStore
	provider  Provider
	hooks     Hooks

	prev    Token
	prevSet bool
}

// NewSynchronizer creates a synchronizer. snapshots may be nil, which
// disables the restore path.
func NewSynchronizer(qm *queue.Manager, provider Provider, snapshots SnapshotStore, hooks Hooks) *Synchronizer {
	return &Synchronizer{
		qm:        qm,
		snapshots: snapshots,
		provider:  provider,
		hooks:     hooks,
	}
}

// Run consumes token changes until ctx is cancelled or the provider closes
// its stream.
func (s *Synchronizer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-s.provider.Tokens():
			if !ok {
				return
			}
			s.OnToken(t)
		}
	}
}

// Current returns the last observed token.
func (s *Synchronizer) Current() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

// OnToken applies the reaction logic for one token value. Consecutive
// identical values are de-duplicated, so redundant emissions never trigger
// redundant restores.
func (s *Synchronizer) OnToken(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prevSet && t == s.prev {
		return
	}
	s.prev = t
	s.prevSet = true

	if !t.Valid() {
		s.onInvalidLocked()
		return
	}
	s.onNewSessionLocked()
}

// Logout resets queue and snapshot directly. It shares the synchronizer's
// mutex with token reactions: a restore decided just before logout cannot
// land after it.
func (s *Synchronizer) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info().Msg("Logging out, clearing playback state")
	s.qm.Reset()
	s.clearSnapshotLocked()
	if s.hooks.StopEngine != nil {
		s.hooks.StopEngine()
	}
	s.prev = ""
	s.prevSet = true
}

// Restore loads the persisted snapshot into the queue regardless of session
// state. Used once at startup, before any token has been observed.
func (s *Synchronizer) Restore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked()
}

// SaveSnapshot persists the live queue state for a later restore.
func (s *Synchronizer) SaveSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshots == nil {
		return nil
	}
	return s.snapshots.SaveSnapshot(s.qm.CurrentSong(), s.qm.CurrentQueue())
}

func (s *Synchronizer) onNewSessionLocked() {
	if len(s.qm.CurrentQueue()) == 0 {
		return
	}

	playing := s.hooks.IsPlaying != nil && s.hooks.IsPlaying()
	if s.provider.ResetOnNewSession() && !playing {
		log.Info().Msg("New session with reset policy, discarding queue")
		s.qm.Reset()
		s.clearSnapshotLocked()
		if s.hooks.StopEngine != nil {
			s.hooks.StopEngine()
		}
		return
	}

	s.restoreLocked()
}

func (s *Synchronizer) onInvalidLocked() {
	// Expired-token-while-idle is not a logout: the queue is kept so an
	// eventual re-authentication can resume where the user left off.
	if s.qm.CurrentSong() == nil {
		log.Info().Msg("Session invalid with nothing playing, service may stop")
		if s.hooks.ServiceMayStop != nil {
			s.hooks.ServiceMayStop()
		}
	}
}

func (s *Synchronizer) restoreLocked() {
	if s.snapshots == nil {
		return
	}
	current, songs, err := s.snapshots.LoadSnapshot()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load queue snapshot")
		return
	}
	if len(songs) == 0 {
		return
	}

	log.Info().Int("songs", len(songs)).Msg("Restoring queue snapshot")
	s.qm.ReplaceCurrentQueue(songs)
	if current != nil {
		s.qm.UpdateCurrentSong(current)
	}
	s.clearSnapshotLocked()
}

func (s *Synchronizer) clearSnapshotLocked() {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.ClearSnapshot(); err != nil {
		log.Warn().Err(err).Msg("Failed to clear queue snapshot")
	}
}
