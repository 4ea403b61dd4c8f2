package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lantier/resona/internal/queue"
	"github.com/lantier/resona/internal/resolver"
	"github.com/lantier/resona/internal/song"
)

const (
	defaultProgressInterval = 500 * time.Millisecond
	seekStep                = 10 * time.Second
	positionBufferSize      = 16
)

// Status mirrors the engine-owned playback state for synchronous queries.
type Status struct {
	State    State
	Duration time.Duration
	Playing  bool
	Loading  bool
}

// Adapter translates high-level intents into engine commands and consumes
// the engine's event stream on a single goroutine. It keeps the queue
// manager's current song in step with autonomous engine transitions.
type Adapter struct {
	mu  sync.Mutex
	eng Engine
	qm  *queue.Manager

	interval time.Duration
	status   Status

	positionCh chan time.Duration
	tickCancel context.CancelFunc
}

// NewAdapter creates an adapter around eng. progressInterval <= 0 selects
// the default ~500ms tick.
func NewAdapter(eng Engine, qm *queue.Manager, progressInterval time.Duration) *Adapter {
	if progressInterval <= 0 {
		progressInterval = defaultProgressInterval
	}
	return &Adapter{
		eng:        eng,
		qm:         qm,
		interval:   progressInterval,
		positionCh: make(chan time.Duration, positionBufferSize),
	}
}

// Run consumes engine events until ctx is cancelled or the engine closes
// its event stream. It must be running for track transitions and progress
// ticks to be observed.
func (a *Adapter) Run(ctx context.Context) {
	defer a.stopTicker()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.eng.Events():
			if !ok {
				return
			}
			a.handleEvent(ctx, ev)
		}
	}
}

// Positions returns the progress tick stream. Ticks are published roughly
// every progress interval while the engine is playing; slow consumers miss
// ticks rather than blocking the event loop.
func (a *Adapter) Positions() <-chan time.Duration {
	return a.positionCh
}

// Status returns the mirrored engine status.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SetQueue loads items into the engine. When the engine's current item
// matches the queue manager's current song and that song is still present in
// the new list, the update is spliced around the playing item so playback is
// not interrupted; otherwise the whole list is replaced.
func (a *Adapter) SetQueue(items []resolver.MediaItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	engItems := a.eng.Items()
	cur := a.qm.CurrentSong()
	if len(engItems) == 0 || cur == nil {
		return a.eng.SetItems(items)
	}

	curIdx := a.eng.CurrentIndex()
	if curIdx < 0 || curIdx >= len(engItems) || engItems[curIdx].MediaID != cur.MediaID {
		return a.eng.SetItems(items)
	}

	newIdx := -1
	for i, item := range items {
		if item.MediaID == cur.MediaID {
			newIdx = i
			break
		}
	}
	if newIdx < 0 {
		// Current item gone from the new list: full replace, accepting the
		// audible reset.
		log.Debug().Str("media_id", cur.MediaID).Msg("Current item missing from new queue, full reload")
		return a.eng.SetItems(items)
	}
	if items[newIdx].URI != engItems[curIdx].URI {
		// Same song, new source. A splice would leave the engine playing the
		// old URI, which is exactly what a token refresh must replace.
		log.Debug().Str("media_id", cur.MediaID).Msg("Current item source changed, full reload")
		return a.eng.SetItems(items)
	}

	// Splice: strip everything around the playing item, then rebuild the
	// new list's segments relative to it.
	if err := a.eng.RemoveItems(curIdx+1, len(engItems)); err != nil {
		return err
	}
	if err := a.eng.RemoveItems(0, curIdx); err != nil {
		return err
	}
	if err := a.eng.InsertItems(0, items[:newIdx]); err != nil {
		return err
	}
	return a.eng.InsertItems(newIdx+1, items[newIdx+1:])
}

// ForcePlay jumps to the given item and starts playback.
func (a *Adapter) ForcePlay(item resolver.MediaItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := -1
	for i, it := range a.eng.Items() {
		if it.MediaID == item.MediaID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("force play: item %s not loaded in engine", item.MediaID)
	}
	if err := a.eng.SeekTo(idx, 0); err != nil {
		return err
	}
	return a.eng.Play()
}

// PlayPause toggles between playing and paused.
func (a *Adapter) PlayPause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.Playing {
		return a.eng.Pause()
	}
	return a.eng.Play()
}

// SkipNext advances to the next item.
func (a *Adapter) SkipNext() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.Next()
}

// SkipPrevious returns to the previous item.
func (a *Adapter) SkipPrevious() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.Previous()
}

// SeekRelative seeks one step forward or backward within the current item.
func (a *Adapter) SeekRelative(forward bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos := a.eng.Position()
	if forward {
		pos += seekStep
	} else {
		pos -= seekStep
	}
	if pos < 0 {
		pos = 0
	}
	if d := a.eng.Duration(); d > 0 && pos > d {
		pos = d
	}
	return a.eng.SeekTo(a.eng.CurrentIndex(), pos)
}

// SeekToFraction seeks to a fraction [0,1] of the current item's duration.
func (a *Adapter) SeekToFraction(f float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	d := a.eng.Duration()
	return a.eng.SeekTo(a.eng.CurrentIndex(), time.Duration(f*float64(d)))
}

// SetRepeatMode sets the repeat mode.
func (a *Adapter) SetRepeatMode(mode RepeatMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.SetRepeatMode(mode)
}

// SetShuffle enables or disables shuffle.
func (a *Adapter) SetShuffle(enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.SetShuffle(enabled)
}

// Stop halts playback and cancels the progress tick.
func (a *Adapter) Stop() error {
	a.stopTicker()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.Playing = false
	return a.eng.Stop()
}

func (a *Adapter) handleEvent(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case StateChanged:
		a.mu.Lock()
		a.status.State = e.State
		if e.State == StateReady {
			a.status.Duration = e.Duration
		}
		a.mu.Unlock()
		log.Debug().Stringer("state", e.State).Dur("duration", e.Duration).Msg("Engine state changed")

	case PlayingChanged:
		a.mu.Lock()
		a.status.Playing = e.Playing
		a.mu.Unlock()
		if e.Playing {
			a.startTicker(ctx)
		} else {
			a.stopTicker()
		}

	case TrackTransitioned:
		a.onTrackTransitioned(e.MediaID)

	case LoadingChanged:
		a.mu.Lock()
		a.status.Loading = e.Loading
		a.mu.Unlock()
	}
}

// onTrackTransitioned promotes the matching queued song to current. The
// engine and the queue can transiently disagree during a splice, so an
// unknown id is logged and dropped rather than treated as an error.
func (a *Adapter) onTrackTransitioned(mediaID string) {
	songs := a.qm.CurrentQueue()
	idx := song.IndexOf(songs, mediaID)
	if idx < 0 {
		log.Warn().Str("media_id", mediaID).Msg("Engine transitioned to unknown item, dropping event")
		return
	}
	s := songs[idx]
	a.qm.UpdateCurrentSong(&s)
}

func (a *Adapter) startTicker(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tickCancel != nil {
		return
	}
	tickCtx, cancel := context.WithCancel(ctx)
	a.tickCancel = cancel

	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				select {
				case a.positionCh <- a.eng.Position():
				default:
				}
			}
		}
	}()
}

func (a *Adapter) stopTicker() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tickCancel != nil {
		a.tickCancel()
		a.tickCancel = nil
	}
}
