// Package song defines the immutable track value model shared by the queue,
// resolver and download layers.
package song

import (
	"time"

	"github.com/samber/lo"
)

// Song describes a single track as served by the media server.
// Values are never mutated in place; state changes produce a new copy.
// Identity is MediaID - two songs with equal MediaID are the same track
// regardless of the rest of the fields.
type Song struct {
	MediaID     string
	Title       string
	Album       string
	AlbumID     string
	Artist      string
	ArtistID    string
	Genre       string
	TrackNumber int
	Year        int
	Duration    time.Duration
	Suffix      string // file extension reported by the server
	Size        int64
	SongURL     string // remote streaming URL, without session token
	Favourite   bool
	Rating      int
}

// SameID reports whether two songs share the same identity.
func (s Song) SameID(other Song) bool {
	return s.MediaID == other.MediaID
}

// WithRating returns a copy with the rating replaced.
func (s Song) WithRating(rating int) Song {
	s.Rating = rating
	return s
}

// WithFavourite returns a copy with the favourite flag replaced.
func (s Song) WithFavourite(fav bool) Song {
	s.Favourite = fav
	return s
}

// Dedup returns songs with empty identities dropped and later duplicates
// (by MediaID) removed, preserving first-seen order.
func Dedup(songs []Song) []Song {
	kept := lo.Filter(songs, func(s Song, _ int) bool {
		return s.MediaID != ""
	})
	return lo.UniqBy(kept, func(s Song) string {
		return s.MediaID
	})
}

// IndexOf returns the position of id in songs, or -1 if absent.
func IndexOf(songs []Song, id string) int {
	return lo.IndexOf(lo.Map(songs, func(s Song, _ int) string {
		return s.MediaID
	}), id)
}

// Contains reports whether songs holds an entry with the given identity.
func Contains(songs []Song, id string) bool {
	return IndexOf(songs, id) >= 0
}
