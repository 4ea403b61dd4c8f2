package orchestrator

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/lantier/resona/internal/errmsg"
	"github.com/lantier/resona/internal/resolver"
)

// persistentFailureMsg is surfaced once the retry budget is exhausted.
const persistentFailureMsg = "Playback keeps failing. Check your connection and try again."

func isStaleSource(err error) bool {
	return errors.Is(err, resolver.ErrStaleSource)
}

// afterReload runs fn once any in-flight queue reload has finished, so an
// intent never races the engine with an item list that is about to be
// replaced. With no reload pending, fn runs immediately on the caller's
// goroutine.
func (o *Orchestrator) afterReload(fn func()) {
	o.mu.Lock()
	task := o.reload
	o.mu.Unlock()

	if task == nil {
		fn()
		return
	}
	go func() {
		<-task.done
		fn()
	}()
}

// reloadAndRetry re-resolves every queued song with the latest token,
// reloads the engine queue, then re-attempts the original intent. A new
// failure cancels and replaces any previous reload. Exceeding the retry
// budget surfaces a persistent error instead of retrying forever.
func (o *Orchestrator) reloadAndRetry(intent func() error) {
	o.mu.Lock()
	if o.retries >= o.cfg.PlaybackErrorRetries {
		o.mu.Unlock()
		log.Warn().Int("retries", o.cfg.PlaybackErrorRetries).Msg("Reload retry budget exhausted")
		o.qm.UpdateErrorMessage(persistentFailureMsg)
		return
	}
	o.retries++
	if o.reload != nil {
		o.reload.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &reloadTask{done: make(chan struct{}), cancel: cancel}
	o.reload = task
	o.mu.Unlock()

	go o.runReload(ctx, task, intent)
}

func (o *Orchestrator) runReload(ctx context.Context, task *reloadTask, intent func() error) {
	defer close(task.done)
	defer func() {
		o.mu.Lock()
		if o.reload == task {
			o.reload = nil
		}
		o.mu.Unlock()
	}()

	songs := o.qm.CurrentQueue()
	log.Info().Int("songs", len(songs)).Msg("Reloading song data with fresh token")
	items := o.res.ResolveAll(songs, o.token())
	if ctx.Err() != nil {
		return
	}
	if err := o.adapter.SetQueue(items); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpQueueReload, err))
		return
	}
	if ctx.Err() != nil {
		return
	}
	if intent == nil {
		o.resetRetries()
		return
	}

	if err := intent(); err != nil {
		if isStaleSource(err) {
			o.reloadAndRetry(intent)
			return
		}
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpPlaybackStart, err))
		return
	}
	o.resetRetries()
}

func (o *Orchestrator) resetRetries() {
	o.mu.Lock()
	o.retries = 0
	o.mu.Unlock()
}
