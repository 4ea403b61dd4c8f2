package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lantier/resona/internal/download"
	"github.com/lantier/resona/internal/engine"
	"github.com/lantier/resona/internal/errmsg"
	"github.com/lantier/resona/internal/song"
)

// Play makes s the current song and starts playback. If a queue reload is in
// flight the play command is deferred until it completes rather than racing
// the engine with a list that is about to be replaced.
func (o *Orchestrator) Play(s song.Song) {
	o.afterReload(func() { o.playNow(s) })
}

func (o *Orchestrator) playNow(s song.Song) {
	if !song.Contains(o.qm.CurrentQueue(), s.MediaID) {
		o.qm.AddToCurrentQueue([]song.Song{s})
	}
	o.qm.UpdateCurrentSong(&s)

	item, err := o.res.Resolve(s, o.token())
	if err != nil {
		if isStaleSource(err) {
			o.reloadAndRetry(func() error { return o.forcePlayCurrent(s) })
			return
		}
		o.qm.UpdateErrorMessage(errmsg.FormatWith(errmsg.OpPlaybackStart, s.Title, err))
		return
	}

	if err := o.adapter.ForcePlay(item); err != nil {
		if isStaleSource(err) {
			o.reloadAndRetry(func() error { return o.forcePlayCurrent(s) })
			return
		}
		// The engine may simply not have the song loaded yet; one direct
		// queue sync covers that before giving up.
		o.syncEngineQueue(o.qm.CurrentQueue())
		if err := o.adapter.ForcePlay(item); err != nil {
			o.qm.UpdateErrorMessage(errmsg.FormatWith(errmsg.OpPlaybackStart, s.Title, err))
			return
		}
	}
	o.resetRetries()
}

// forcePlayCurrent re-resolves and force-plays s, used as the retried intent
// inside the reload recovery.
func (o *Orchestrator) forcePlayCurrent(s song.Song) error {
	item, err := o.res.Resolve(s, o.token())
	if err != nil {
		return err
	}
	return o.adapter.ForcePlay(item)
}

// PlayPause toggles playback on the current song. Engine command failures
// fall back to the reload procedure.
func (o *Orchestrator) PlayPause() {
	o.afterReload(func() {
		if err := o.adapter.PlayPause(); err != nil {
			log.Warn().Err(err).Msg("Play/pause failed, reloading song data")
			o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackToggle, err))
			o.reloadAndRetry(func() error { return o.adapter.PlayPause() })
		}
	})
}

// PlayAll replaces the queue with songs and starts playback on the first.
func (o *Orchestrator) PlayAll(songs []song.Song) {
	deduped := song.Dedup(songs)
	if len(deduped) == 0 {
		return
	}
	o.qm.UpdateCurrentSong(nil)
	o.qm.ReplaceCurrentQueue(deduped)
	o.Play(deduped[0])
}

// AddToQueue appends songs to the queue.
func (o *Orchestrator) AddToQueue(songs []song.Song) {
	o.qm.AddToCurrentQueue(songs)
}

// PlayNext inserts songs immediately after the current song.
func (o *Orchestrator) PlayNext(songs []song.Song) {
	o.qm.AddToCurrentQueueNext(songs)
}

// AddToQueueTop inserts songs at the head of the queue.
func (o *Orchestrator) AddToQueueTop(songs []song.Song) {
	o.qm.AddToCurrentQueueTop(songs)
}

// RemoveFromQueue removes songs from the queue.
func (o *Orchestrator) RemoveFromQueue(songs []song.Song) {
	o.qm.RemoveFromCurrentQueue(songs)
}

// ClearQueue reduces the queue to the current song.
func (o *Orchestrator) ClearQueue() {
	o.qm.ClearQueue()
}

// SkipNext advances to the next track.
func (o *Orchestrator) SkipNext() {
	if err := o.adapter.SkipNext(); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackSkip, err))
	}
}

// SkipPrevious returns to the previous track.
func (o *Orchestrator) SkipPrevious() {
	if err := o.adapter.SkipPrevious(); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackSkip, err))
	}
}

// SeekForward seeks one step forward in the current track.
func (o *Orchestrator) SeekForward() {
	if err := o.adapter.SeekRelative(true); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackSeek, err))
	}
}

// SeekBackward seeks one step backward in the current track.
func (o *Orchestrator) SeekBackward() {
	if err := o.adapter.SeekRelative(false); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackSeek, err))
	}
}

// SeekToFraction seeks to a fraction [0,1] of the current track.
func (o *Orchestrator) SeekToFraction(f float64) {
	if err := o.adapter.SeekToFraction(f); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackSeek, err))
	}
}

// SetRepeatMode sets the repeat mode.
func (o *Orchestrator) SetRepeatMode(mode engine.RepeatMode) {
	if err := o.adapter.SetRepeatMode(mode); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackMode, err))
	}
}

// SetShuffle enables or disables shuffle.
func (o *Orchestrator) SetShuffle(enabled bool) {
	if err := o.adapter.SetShuffle(enabled); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackMode, err))
	}
}

// Stop halts playback.
func (o *Orchestrator) Stop() {
	if err := o.adapter.Stop(); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackStop, err))
	}
}

// Search publishes the search query after the debounce window; a newer
// query cancels a pending one.
func (o *Orchestrator) Search(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.searchTimer != nil {
		o.searchTimer.Stop()
	}
	o.searchTimer = time.AfterFunc(o.cfg.SearchDebounce, func() {
		o.qm.UpdateSearchQuery(text)
	})
}

// DownloadSong fetches a local copy of s in the background.
func (o *Orchestrator) DownloadSong(ctx context.Context, s song.Song) {
	if o.downloads == nil {
		return
	}
	o.consumeDownloadResults(o.downloads.Download(ctx, s))
}

// DownloadSongs fetches local copies of songs in the background.
func (o *Orchestrator) DownloadSongs(ctx context.Context, songs []song.Song) {
	if o.downloads == nil {
		return
	}
	o.consumeDownloadResults(o.downloads.DownloadAll(ctx, songs))
}

// DeleteDownloadedSong removes the local copy of s.
func (o *Orchestrator) DeleteDownloadedSong(s song.Song) {
	if o.downloads == nil {
		return
	}
	go func() {
		for r := range o.downloads.Delete(s) {
			if r.State == download.ResultError {
				o.qm.UpdateErrorMessage(errmsg.FormatWith(errmsg.OpDownloadDelete, r.Song.Title, r.Err))
			}
		}
	}()
}

// consumeDownloadResults tracks the outstanding job for the UI-facing flag
// and surfaces failures on the message stream. Download outcomes touch no
// queue or session state.
func (o *Orchestrator) consumeDownloadResults(results <-chan download.Result) {
	o.mu.Lock()
	o.downloading++
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			o.downloading--
			o.mu.Unlock()
		}()
		for r := range results {
			if r.State == download.ResultError {
				o.qm.UpdateErrorMessage(errmsg.FormatWith(errmsg.OpDownloadQueue, r.Song.Title, r.Err))
			}
		}
	}()
}

// SetRating stores a rating server-side and refreshes the queued copies.
func (o *Orchestrator) SetRating(ctx context.Context, s song.Song, rating int) {
	if o.ratings == nil {
		return
	}
	if err := o.ratings.SetRating(ctx, s.MediaID, rating); err != nil {
		o.qm.UpdateErrorMessage(errmsg.FormatWith(errmsg.OpSongRate, s.Title, err))
		return
	}
	o.qm.UpdateSong(s.WithRating(rating))
}

// ToggleFavourite flips the favourite flag server-side and refreshes the
// queued copies.
func (o *Orchestrator) ToggleFavourite(ctx context.Context, s song.Song) {
	if o.ratings == nil {
		return
	}
	fav := !s.Favourite
	if err := o.ratings.SetFavourite(ctx, s.MediaID, fav); err != nil {
		o.qm.UpdateErrorMessage(errmsg.FormatWith(errmsg.OpSongStar, s.Title, err))
		return
	}
	o.qm.UpdateSong(s.WithFavourite(fav))
}

// Logout resets playback state through the session synchronizer. A pending
// reload is cancelled first so it cannot repopulate the engine afterwards.
func (o *Orchestrator) Logout() {
	o.mu.Lock()
	if o.reload != nil {
		o.reload.cancel()
		o.reload = nil
	}
	o.mu.Unlock()

	if o.sess != nil {
		o.sess.Logout()
	}
}
