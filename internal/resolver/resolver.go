// Package resolver maps songs to playable media items. A song resolves to
// its local file when a download exists, otherwise to its streaming URL
// stamped with the current session token.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lantier/resona/internal/song"
)

// ErrStaleSource marks a playable URI that the engine rejected, typically
// because the session token embedded in it has expired. Recovered by
// re-resolving the whole queue with a fresh token.
var ErrStaleSource = errors.New("stale media source")

// ResolutionError reports a song that could not be resolved to a URI at all.
// The affected song is skipped rather than aborting the queue load.
type ResolutionError struct {
	MediaID string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve song %s: %v", e.MediaID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// MediaItem is the engine-facing description of a playable track.
type MediaItem struct {
	MediaID  string
	URI      string
	Title    string
	Artist   string
	Duration time.Duration
	Local    bool // resolved from a downloaded copy
}

// OfflineStore answers whether a song has a locally downloaded copy.
type OfflineStore interface {
	IsAvailableOffline(s song.Song) bool
	LocalURI(s song.Song) (string, bool)
}

// Resolver builds media items from songs. It holds no mutable state.
type Resolver struct {
	offline    OfflineStore
	clientName string
}

// New creates a resolver. offline may be nil, in which case every song
// resolves to its streaming URL.
func New(offline OfflineStore, clientName string) *Resolver {
	return &Resolver{offline: offline, clientName: clientName}
}

// Resolve maps a song and session token to a playable media item.
// Downloaded copies win over streaming URLs and need no token.
func (r *Resolver) Resolve(s song.Song, token string) (MediaItem, error) {
	if s.MediaID == "" {
		return MediaItem{}, &ResolutionError{MediaID: s.MediaID, Err: errors.New("missing media id")}
	}

	item := MediaItem{
		MediaID:  s.MediaID,
		Title:    s.Title,
		Artist:   s.Artist,
		Duration: s.Duration,
	}

	if r.offline != nil {
		if uri, ok := r.offline.LocalURI(s); ok {
			item.URI = uri
			item.Local = true
			return item, nil
		}
	}

	uri, err := StampURL(s.SongURL, token, r.clientName)
	if err != nil {
		return MediaItem{}, &ResolutionError{MediaID: s.MediaID, Err: err}
	}
	item.URI = uri
	return item, nil
}

// ResolveAll resolves every song, skipping the ones that fail with a
// resolution error. Skipped songs are logged, not fatal.
func (r *Resolver) ResolveAll(songs []song.Song, token string) []MediaItem {
	items := make([]MediaItem, 0, len(songs))
	for _, s := range songs {
		item, err := r.Resolve(s, token)
		if err != nil {
			log.Warn().Str("media_id", s.MediaID).Err(err).Msg("Skipping unresolvable song")
			continue
		}
		items = append(items, item)
	}
	return items
}

// StampURL appends the session token and client name to a streaming URL.
// A previously stamped token is replaced, so re-stamping after a session
// refresh always yields a URL carrying the latest token.
func StampURL(rawURL, token, clientName string) (string, error) {
	if rawURL == "" {
		return "", errors.New("empty song url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse song url: %w", err)
	}
	q := u.Query()
	if token != "" {
		q.Set("t", token)
	} else {
		q.Del("t")
	}
	if clientName != "" {
		q.Set("c", clientName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
