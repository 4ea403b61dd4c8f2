package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lantier/resona/internal/song"
	"github.com/lantier/resona/internal/state"
)

type fakeFetcher struct {
	err     error
	payload string
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, uri, dest string) (int64, error) {
	f.fetched = append(f.fetched, uri)
	if f.err != nil {
		return 0, f.err
	}
	if err := os.WriteFile(dest, []byte(f.payload), 0o644); err != nil {
		return 0, err
	}
	return int64(len(f.payload)), nil
}

func newTestCoordinator(t *testing.T, fetcher Fetcher) *Coordinator {
	t.Helper()
	mgr, err := state.OpenAt(filepath.Join(t.TempDir(), "resona.db"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	source := func(s song.Song) (string, error) {
		if s.SongURL == "" {
			return "", errors.New("no url")
		}
		return s.SongURL, nil
	}
	return New(mgr.DB(), t.TempDir(), fetcher, source)
}

func drain(t *testing.T, results <-chan Result) []Result {
	t.Helper()
	var all []Result
	for r := range results {
		all = append(all, r)
	}
	return all
}

func TestDownload_Success(t *testing.T) {
	fetcher := &fakeFetcher{payload: "audio-bytes"}
	c := newTestCoordinator(t, fetcher)
	s := song.Song{MediaID: "1", Suffix: "mp3", SongURL: "https://srv/rest/stream?id=1"}

	all := drain(t, c.Download(context.Background(), s))

	if len(all) != 2 {
		t.Fatalf("got %d results, want Loading then Success", len(all))
	}
	if all[0].State != ResultLoading || all[1].State != ResultSuccess {
		t.Errorf("states = %v,%v, want Loading,Success", all[0].State, all[1].State)
	}
	if !c.IsAvailableOffline(s) {
		t.Error("song should be available offline after download")
	}
	uri, ok := c.LocalURI(s)
	if !ok || filepath.Base(uri) != "1.mp3" {
		t.Errorf("LocalURI = %q,%v, want 1.mp3", uri, ok)
	}
}

func TestDownload_FetchError(t *testing.T) {
	fetchErr := errors.New("connection reset")
	c := newTestCoordinator(t, &fakeFetcher{err: fetchErr})
	s := song.Song{MediaID: "1", SongURL: "https://srv/rest/stream?id=1"}

	all := drain(t, c.Download(context.Background(), s))

	last := all[len(all)-1]
	if last.State != ResultError || !errors.Is(last.Err, fetchErr) {
		t.Errorf("last result = %+v, want fetch error", last)
	}
	if c.IsAvailableOffline(s) {
		t.Error("failed download must not be available offline")
	}
}

func TestDownload_AlreadyPresent(t *testing.T) {
	fetcher := &fakeFetcher{payload: "x"}
	c := newTestCoordinator(t, fetcher)
	s := song.Song{MediaID: "1", SongURL: "https://srv/rest/stream?id=1"}

	drain(t, c.Download(context.Background(), s))
	drain(t, c.Download(context.Background(), s))

	if len(fetcher.fetched) != 1 {
		t.Errorf("fetch count = %d, want 1 (second download is a no-op)", len(fetcher.fetched))
	}
}

func TestDownloadAll_EmitsPerSong(t *testing.T) {
	c := newTestCoordinator(t, &fakeFetcher{payload: "x"})
	songs := []song.Song{
		{MediaID: "1", SongURL: "https://srv/rest/stream?id=1"},
		{MediaID: "2", SongURL: "https://srv/rest/stream?id=2"},
	}

	all := drain(t, c.DownloadAll(context.Background(), songs))

	success := 0
	for _, r := range all {
		if r.State == ResultSuccess {
			success++
		}
	}
	if success != 2 {
		t.Errorf("successes = %d, want 2", success)
	}
}

func TestDelete_RemovesCopyAndRecord(t *testing.T) {
	c := newTestCoordinator(t, &fakeFetcher{payload: "x"})
	s := song.Song{MediaID: "1", SongURL: "https://srv/rest/stream?id=1"}
	drain(t, c.Download(context.Background(), s))
	path, _ := c.LocalURI(s)

	all := drain(t, c.Delete(s))

	if all[len(all)-1].State != ResultSuccess {
		t.Fatalf("delete result = %+v, want success", all[len(all)-1])
	}
	if c.IsAvailableOffline(s) {
		t.Error("song should no longer be available offline")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still present at %s", path)
	}
}
