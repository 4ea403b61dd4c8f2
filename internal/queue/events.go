package queue

import "github.com/lantier/resona/internal/song"

// QueueChange is emitted when the queue contents change structurally.
type QueueChange struct {
	Songs []song.Song
}

// CurrentChange is emitted when the current song changes.
//
// Emitted by:
//   - UpdateTopSong / UpdateCurrentSong: explicit selection
//   - current-song repair: when a structural mutation leaves a non-empty
//     queue with no current song and index 0 is promoted
//   - Reset: cleared to nil
//
// NOT emitted when a mutation leaves the current song untouched.
type CurrentChange struct {
	Song *song.Song
}

// MessageChange is emitted when the user-facing error/log message changes.
type MessageChange struct {
	Text string
}

// SearchChange is emitted when the search query changes.
type SearchChange struct {
	Text string
}
