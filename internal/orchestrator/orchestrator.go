// Package orchestrator is the single entry point for playback intents. It
// fans out to the queue manager, the engine adapter and the download/session
// collaborators, owns the reload-on-failure recovery procedure, and gates
// the background playback service lifecycle.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lantier/resona/internal/download"
	"github.com/lantier/resona/internal/engine"
	"github.com/lantier/resona/internal/errmsg"
	"github.com/lantier/resona/internal/queue"
	"github.com/lantier/resona/internal/resolver"
	"github.com/lantier/resona/internal/session"
	"github.com/lantier/resona/internal/song"
)

const (
	defaultStopDebounce   = 500 * time.Millisecond
	defaultSearchDebounce = 300 * time.Millisecond
	defaultErrorRetries   = 3
)

// Service is the externally supplied background playback service lifecycle.
// Start and Stop are idempotent.
type Service interface {
	Start()
	Stop()
}

// TokenSource exposes the latest session token.
type TokenSource interface {
	Current() session.Token
}

// Downloader is the download coordinator surface the orchestrator drives.
type Downloader interface {
	Download(ctx context.Context, s song.Song) <-chan download.Result
	DownloadAll(ctx context.Context, songs []song.Song) <-chan download.Result
	Delete(s song.Song) <-chan download.Result
}

// Scrobbler reports listens to an external service.
type Scrobbler interface {
	NowPlaying(s song.Song) error
	Scrobble(s song.Song) error
}

// RatingStore persists server-side song attributes.
type RatingStore interface {
	SetRating(ctx context.Context, mediaID string, rating int) error
	SetFavourite(ctx context.Context, mediaID string, favourite bool) error
}

// Config tunes orchestrator behavior.
type Config struct {
	// PlaybackErrorRetries bounds consecutive reload-recovery attempts.
	PlaybackErrorRetries int
	// StopDebounce delays service shutdown to absorb transient empty-queue
	// states during a queue rewrite.
	StopDebounce time.Duration
	// SearchDebounce delays search query publication while typing.
	SearchDebounce time.Duration
}

func (c Config) withDefaults() Config {
	if c.PlaybackErrorRetries <= 0 {
		c.PlaybackErrorRetries = defaultErrorRetries
	}
	if c.StopDebounce <= 0 {
		c.StopDebounce = defaultStopDebounce
	}
	if c.SearchDebounce <= 0 {
		c.SearchDebounce = defaultSearchDebounce
	}
	return c
}

// Deps are the orchestrator's collaborators. Queue, Adapter and Resolver are
// required; the rest degrade to no-ops when nil.
type Deps struct {
	Queue     *queue.Manager
	Adapter   *engine.Adapter
	Resolver  *resolver.Resolver
	Tokens    TokenSource
	Session   *session.Synchronizer
	Downloads Downloader
	Service   Service
	Scrobbler Scrobbler
	Ratings   RatingStore
}

// Orchestrator coordinates playback. It owns no durable state beyond
// in-flight task handles; queue and engine state live in their owners.
type Orchestrator struct {
	qm        *queue.Manager
	adapter   *engine.Adapter
	res       *resolver.Resolver
	tokens    TokenSource
	sess      *session.Synchronizer
	downloads Downloader
	svc       Service
	scrobbler Scrobbler
	ratings   RatingStore
	cfg       Config

	mu          sync.Mutex
	reload      *reloadTask
	retries     int
	active      bool
	stopTimer   *time.Timer
	searchTimer *time.Timer
	downloading int
}

// reloadTask is an in-flight queue reload. done is closed when the task
// finishes, success or not.
type reloadTask struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// New creates an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{
		qm:        deps.Queue,
		adapter:   deps.Adapter,
		res:       deps.Resolver,
		tokens:    deps.Tokens,
		sess:      deps.Session,
		downloads: deps.Downloads,
		svc:       deps.Service,
		scrobbler: deps.Scrobbler,
		ratings:   deps.Ratings,
		cfg:       cfg.withDefaults(),
	}
}

// AttachSession wires the session synchronizer after construction; its hooks
// point back at this orchestrator, so it cannot exist before New runs. When
// no explicit token source was given, the synchronizer serves as one.
func (o *Orchestrator) AttachSession(s *session.Synchronizer) {
	o.sess = s
	if o.tokens == nil {
		o.tokens = s
	}
}

// Run observes queue state and keeps the engine's item list, the service
// lifecycle and the scrobbler in step with it. It returns when ctx is
// cancelled or the queue manager shuts down.
func (o *Orchestrator) Run(ctx context.Context) {
	sub := o.qm.Subscribe()
	var prev *song.Song

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done:
			return
		case e := <-sub.QueueChanged:
			o.syncEngineQueue(e.Songs)
			o.updateActivation(len(e.Songs), o.qm.CurrentSong())
		case e := <-sub.CurrentChanged:
			o.updateActivation(len(o.qm.CurrentQueue()), e.Song)
			o.reportListen(prev, e.Song)
			prev = e.Song
		}
	}
}

// IsDownloading reports whether any download jobs are outstanding.
func (o *Orchestrator) IsDownloading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.downloading > 0
}

// Close releases the orchestrator: pending tasks are cancelled, the live
// queue is snapshotted for a later restore, and the activation handle is
// dropped, which stops the service.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.reload != nil {
		o.reload.cancel()
		o.reload = nil
	}
	if o.stopTimer != nil {
		o.stopTimer.Stop()
		o.stopTimer = nil
	}
	if o.searchTimer != nil {
		o.searchTimer.Stop()
		o.searchTimer = nil
	}
	wasActive := o.active
	o.active = false
	o.mu.Unlock()

	if o.sess != nil {
		if err := o.sess.SaveSnapshot(); err != nil {
			log.Warn().Err(err).Msg(string(errmsg.OpQueueSave))
		}
	}
	if wasActive && o.svc != nil {
		o.svc.Stop()
	}
}

// token returns the latest session token, or empty when no source is wired.
func (o *Orchestrator) token() string {
	if o.tokens == nil {
		return ""
	}
	return string(o.tokens.Current())
}

// syncEngineQueue re-derives the flattened media-item list and hands it to
// the engine.
func (o *Orchestrator) syncEngineQueue(songs []song.Song) {
	items := o.res.ResolveAll(songs, o.token())
	if err := o.adapter.SetQueue(items); err != nil {
		o.qm.UpdateErrorMessage(errmsg.Format(errmsg.OpQueueReplace, err))
	}
}

// updateActivation starts the service on the first sign of playback intent
// and schedules a debounced stop when queue and current song are both gone.
func (o *Orchestrator) updateActivation(queueLen int, current *song.Song) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if queueLen > 0 || current != nil {
		if o.stopTimer != nil {
			o.stopTimer.Stop()
			o.stopTimer = nil
		}
		if !o.active {
			o.active = true
			if o.svc != nil {
				o.svc.Start()
			}
		}
		return
	}
	o.scheduleStopLocked()
}

// requestServiceStop is the session synchronizer's "nothing playing under an
// invalid session" signal. Goes through the same debounced path.
func (o *Orchestrator) requestServiceStop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduleStopLocked()
}

// scheduleStopLocked arms the cancel-and-replace stop timer. Must hold mu.
func (o *Orchestrator) scheduleStopLocked() {
	if !o.active {
		return
	}
	if o.stopTimer != nil {
		o.stopTimer.Stop()
	}
	o.stopTimer = time.AfterFunc(o.cfg.StopDebounce, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.stopTimer = nil
		if !o.active {
			return
		}
		// The queue may have been refilled while the timer was pending.
		if len(o.qm.CurrentQueue()) > 0 || o.qm.CurrentSong() != nil {
			return
		}
		o.active = false
		if o.svc != nil {
			o.svc.Stop()
		}
	})
}

// SessionHooks builds the hook set wiring a session synchronizer back into
// this orchestrator and its adapter.
func (o *Orchestrator) SessionHooks() session.Hooks {
	return session.Hooks{
		StopEngine: func() {
			if err := o.adapter.Stop(); err != nil {
				log.Warn().Err(err).Msg("Engine stop failed")
			}
		},
		ServiceMayStop: o.requestServiceStop,
		IsPlaying: func() bool {
			return o.adapter.Status().Playing
		},
	}
}

func (o *Orchestrator) reportListen(prev, current *song.Song) {
	if o.scrobbler == nil || current == nil {
		return
	}
	prevCopy := prev
	curCopy := *current
	go func() {
		if prevCopy != nil && prevCopy.MediaID != curCopy.MediaID {
			if err := o.scrobbler.Scrobble(*prevCopy); err != nil {
				log.Warn().Str("media_id", prevCopy.MediaID).Err(err).Msg("Scrobble failed")
			}
		}
		if err := o.scrobbler.NowPlaying(curCopy); err != nil {
			log.Debug().Str("media_id", curCopy.MediaID).Err(err).Msg("Now-playing update failed")
		}
	}()
}
