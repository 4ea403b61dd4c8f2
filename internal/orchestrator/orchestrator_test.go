package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lantier/resona/internal/download"
	"github.com/lantier/resona/internal/engine"
	"github.com/lantier/resona/internal/queue"
	"github.com/lantier/resona/internal/resolver"
	"github.com/lantier/resona/internal/session"
	"github.com/lantier/resona/internal/song"
)

func mkSong(id string) song.Song {
	return song.Song{
		MediaID: id,
		Title:   "Song " + id,
		SongURL: "https://srv/rest/stream?id=" + id,
	}
}

type fakeTokens struct {
	mu sync.Mutex
	t  session.Token
}

func (f *fakeTokens) Current() session.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTokens) set(t session.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}

type fakeService struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeService) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakeService) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeService) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakeScrobbler struct {
	mu         sync.Mutex
	nowPlaying []string
	scrobbled  []string
}

func (f *fakeScrobbler) NowPlaying(s song.Song) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nowPlaying = append(f.nowPlaying, s.MediaID)
	return nil
}

func (f *fakeScrobbler) Scrobble(s song.Song) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrobbled = append(f.scrobbled, s.MediaID)
	return nil
}

func (f *fakeScrobbler) state() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.nowPlaying...), append([]string{}, f.scrobbled...)
}

type fakeRatings struct {
	ratingErr error
	starErr   error
}

func (f *fakeRatings) SetRating(context.Context, string, int) error     { return f.ratingErr }
func (f *fakeRatings) SetFavourite(context.Context, string, bool) error { return f.starErr }

type fakeDownloader struct {
	results chan download.Result
}

func (f *fakeDownloader) Download(context.Context, song.Song) <-chan download.Result {
	return f.results
}

func (f *fakeDownloader) DownloadAll(context.Context, []song.Song) <-chan download.Result {
	return f.results
}

func (f *fakeDownloader) Delete(song.Song) <-chan download.Result {
	return f.results
}

// staleEngine fails Play with a stale source error a fixed number of times
// before behaving normally, mimicking an engine choking on expired URLs.
type staleEngine struct {
	*engine.Mock
	mu       sync.Mutex
	failures int
	plays    int
}

func (e *staleEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays++
	if e.failures > 0 {
		e.failures--
		return resolver.ErrStaleSource
	}
	return e.Mock.Play()
}

func (e *staleEngine) playCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plays
}

type rig struct {
	qm      *queue.Manager
	adapter *engine.Adapter
	tokens  *fakeTokens
	o       *Orchestrator
}

func newRig(t *testing.T, eng engine.Engine, deps Deps, cfg Config) *rig {
	t.Helper()
	qm := queue.NewManager()
	t.Cleanup(qm.Close)
	adapter := engine.NewAdapter(eng, qm, 0)
	tokens := &fakeTokens{t: "T1"}

	deps.Queue = qm
	deps.Adapter = adapter
	deps.Resolver = resolver.New(nil, "resona")
	deps.Tokens = tokens
	o := New(deps, cfg)
	t.Cleanup(o.Close)

	return &rig{qm: qm, adapter: adapter, tokens: tokens, o: o}
}

func TestPlay_StaleURLRecoveredWithSingleReload(t *testing.T) {
	eng := &staleEngine{Mock: engine.NewMock(), failures: 1}
	r := newRig(t, eng, Deps{}, Config{})

	a, b := mkSong("A"), mkSong("B")
	r.qm.ReplaceCurrentQueue([]song.Song{a, b})
	items := resolver.New(nil, "resona").ResolveAll(r.qm.CurrentQueue(), "T1")
	require.NoError(t, r.adapter.SetQueue(items))
	require.Len(t, eng.SetCalls(), 1)

	// The server rotated the session before the user pressed play.
	r.tokens.set("T2")
	r.o.Play(b)

	require.Eventually(t, func() bool {
		return eng.playCount() == 2
	}, time.Second, 5*time.Millisecond, "one failed play, one successful retry")

	assert.Len(t, eng.SetCalls(), 2, "recovery must reload the engine queue exactly once")
	for _, it := range eng.Items() {
		assert.Contains(t, it.URI, "t=T2", "reloaded items must carry the fresh token")
	}
	cur := r.qm.CurrentSong()
	require.NotNil(t, cur)
	assert.Equal(t, "B", cur.MediaID)
	assert.Empty(t, r.qm.ErrorMessage())
	assert.Equal(t, []string{"A", "B"}, ids(r.qm.CurrentQueue()), "recovery must not reorder the queue")
}

func ids(songs []song.Song) []string {
	out := make([]string, len(songs))
	for i, s := range songs {
		out[i] = s.MediaID
	}
	return out
}

func TestPlay_RetryBudgetExhausted(t *testing.T) {
	eng := &staleEngine{Mock: engine.NewMock(), failures: 100}
	r := newRig(t, eng, Deps{}, Config{PlaybackErrorRetries: 2})

	s := mkSong("A")
	r.qm.ReplaceCurrentQueue([]song.Song{s})
	items := resolver.New(nil, "resona").ResolveAll(r.qm.CurrentQueue(), "T1")
	require.NoError(t, r.adapter.SetQueue(items))

	r.o.Play(s)

	require.Eventually(t, func() bool {
		return r.qm.ErrorMessage() == persistentFailureMsg
	}, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, eng.playCount(), 3, "retries must stop at the budget")
}

func TestPlay_SongNotInQueueIsAppended(t *testing.T) {
	eng := engine.NewMock()
	r := newRig(t, eng, Deps{}, Config{})

	r.qm.ReplaceCurrentQueue([]song.Song{mkSong("A")})
	b := mkSong("B")
	r.o.Play(b)

	assert.Equal(t, []string{"A", "B"}, ids(r.qm.CurrentQueue()))
	cur := r.qm.CurrentSong()
	require.NotNil(t, cur)
	assert.Equal(t, "B", cur.MediaID)
	// The engine had no items loaded, so play goes through a direct sync.
	assert.Equal(t, 1, eng.PlayCalls())
	assert.Empty(t, r.qm.ErrorMessage())
}

func TestAfterReload_DefersIntentUntilReloadFinishes(t *testing.T) {
	eng := engine.NewMock()
	r := newRig(t, eng, Deps{}, Config{})

	task := &reloadTask{done: make(chan struct{}), cancel: func() {}}
	r.o.mu.Lock()
	r.o.reload = task
	r.o.mu.Unlock()

	r.o.PlayPause()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, eng.PlayCalls(), "intent must wait for the in-flight reload")

	close(task.done)
	require.Eventually(t, func() bool {
		return eng.PlayCalls() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRun_ServiceLifecycleFollowsQueue(t *testing.T) {
	svc := &fakeService{}
	r := newRig(t, engine.NewMock(), Deps{Service: svc}, Config{StopDebounce: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.o.Run(ctx)

	r.qm.ReplaceCurrentQueue([]song.Song{mkSong("A")})

	require.Eventually(t, func() bool {
		starts, _ := svc.counts()
		return starts == 1
	}, time.Second, 5*time.Millisecond)

	r.qm.Reset()

	require.Eventually(t, func() bool {
		_, stops := svc.counts()
		return stops == 1
	}, time.Second, 5*time.Millisecond)
	starts, _ := svc.counts()
	assert.Equal(t, 1, starts, "service must start once, not per event")
}

func TestRun_TransientEmptyQueueDoesNotStopService(t *testing.T) {
	svc := &fakeService{}
	r := newRig(t, engine.NewMock(), Deps{Service: svc}, Config{StopDebounce: 40 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.o.Run(ctx)

	r.qm.ReplaceCurrentQueue([]song.Song{mkSong("A")})
	require.Eventually(t, func() bool {
		starts, _ := svc.counts()
		return starts == 1
	}, time.Second, 5*time.Millisecond)

	// Rewrite the queue through an empty intermediate state.
	r.qm.Reset()
	r.qm.ReplaceCurrentQueue([]song.Song{mkSong("B")})

	time.Sleep(120 * time.Millisecond)
	starts, stops := svc.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, stops, "debounce must absorb the transient empty state")
}

func TestRun_ScrobblesOnTrackChange(t *testing.T) {
	scr := &fakeScrobbler{}
	r := newRig(t, engine.NewMock(), Deps{Scrobbler: scr}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.o.Run(ctx)

	r.qm.ReplaceCurrentQueue([]song.Song{mkSong("A"), mkSong("B")})
	require.Eventually(t, func() bool {
		np, _ := scr.state()
		return len(np) == 1 && np[0] == "A"
	}, time.Second, 5*time.Millisecond)

	b := mkSong("B")
	r.qm.UpdateCurrentSong(&b)

	require.Eventually(t, func() bool {
		np, sc := scr.state()
		return len(np) == 2 && np[1] == "B" && len(sc) == 1 && sc[0] == "A"
	}, time.Second, 5*time.Millisecond)
}

func TestSearch_DebouncesQueries(t *testing.T) {
	r := newRig(t, engine.NewMock(), Deps{}, Config{SearchDebounce: 20 * time.Millisecond})
	sub := r.qm.Subscribe()

	r.o.Search("b")
	r.o.Search("be")
	r.o.Search("beat")

	require.Eventually(t, func() bool {
		return r.qm.SearchQuery() == "beat"
	}, time.Second, 5*time.Millisecond)

	select {
	case e := <-sub.SearchChanged:
		assert.Equal(t, "beat", e.Text, "intermediate queries must be swallowed")
	case <-time.After(time.Second):
		t.Fatal("no search event published")
	}
	select {
	case e := <-sub.SearchChanged:
		t.Fatalf("unexpected extra search event %q", e.Text)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDownloadSong_TracksProgressAndReportsFailures(t *testing.T) {
	results := make(chan download.Result, 2)
	dl := &fakeDownloader{results: results}
	r := newRig(t, engine.NewMock(), Deps{Downloads: dl}, Config{})

	s := mkSong("A")
	r.o.DownloadSong(context.Background(), s)

	assert.True(t, r.o.IsDownloading(), "flag must be up while the job runs")

	results <- download.Result{State: download.ResultError, Song: s, Err: errors.New("socket closed")}
	close(results)

	require.Eventually(t, func() bool {
		return !r.o.IsDownloading()
	}, time.Second, 5*time.Millisecond)
	assert.True(t, strings.Contains(r.qm.ErrorMessage(), s.Title))
}

func TestSetRating_RefreshesQueuedCopies(t *testing.T) {
	r := newRig(t, engine.NewMock(), Deps{Ratings: &fakeRatings{}}, Config{})
	s := mkSong("A")
	r.qm.ReplaceCurrentQueue([]song.Song{s, mkSong("B")})

	r.o.SetRating(context.Background(), s, 4)

	assert.Equal(t, 4, r.qm.CurrentQueue()[0].Rating)
	cur := r.qm.CurrentSong()
	require.NotNil(t, cur)
	assert.Equal(t, 4, cur.Rating)
}

func TestSetRating_ErrorLeavesQueueUntouched(t *testing.T) {
	store := &fakeRatings{ratingErr: errors.New("server unavailable")}
	r := newRig(t, engine.NewMock(), Deps{Ratings: store}, Config{})
	s := mkSong("A")
	r.qm.ReplaceCurrentQueue([]song.Song{s})

	r.o.SetRating(context.Background(), s, 4)

	assert.Zero(t, r.qm.CurrentQueue()[0].Rating)
	assert.NotEmpty(t, r.qm.ErrorMessage())
}

func TestToggleFavourite_FlipsFlag(t *testing.T) {
	r := newRig(t, engine.NewMock(), Deps{Ratings: &fakeRatings{}}, Config{})
	s := mkSong("A")
	r.qm.ReplaceCurrentQueue([]song.Song{s})

	r.o.ToggleFavourite(context.Background(), s)

	assert.True(t, r.qm.CurrentQueue()[0].Favourite)
}

func TestLogout_ClearsPlaybackState(t *testing.T) {
	eng := engine.NewMock()
	qm := queue.NewManager()
	t.Cleanup(qm.Close)
	adapter := engine.NewAdapter(eng, qm, 0)
	syn := session.NewSynchronizer(qm, session.NewChannelProvider(false), nil, session.Hooks{})

	o := New(Deps{
		Queue:    qm,
		Adapter:  adapter,
		Resolver: resolver.New(nil, "resona"),
		Session:  syn,
	}, Config{})
	t.Cleanup(o.Close)

	qm.ReplaceCurrentQueue([]song.Song{mkSong("A")})
	cancelled := false
	o.mu.Lock()
	o.reload = &reloadTask{done: make(chan struct{}), cancel: func() { cancelled = true }}
	o.mu.Unlock()

	o.Logout()

	assert.Empty(t, qm.CurrentQueue())
	assert.Nil(t, qm.CurrentSong())
	assert.True(t, cancelled, "pending reload must not outlive the session")
}
