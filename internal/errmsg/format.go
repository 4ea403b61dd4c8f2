// Package errmsg provides consistent error formatting for user-facing messages.
package errmsg

import "fmt"

// Op represents an operation that can fail.
type Op string

// Operation constants - grouped by domain.
const (
	// Playback operations
	OpPlaybackStart  Op = "start playback"
	OpPlaybackToggle Op = "toggle playback"
	OpPlaybackSkip   Op = "skip track"
	OpPlaybackSeek   Op = "seek"
	OpPlaybackStop   Op = "stop playback"
	OpPlaybackMode   Op = "change playback mode"

	// Queue operations
	OpQueueAdd     Op = "add to queue"
	OpQueueRemove  Op = "remove from queue"
	OpQueueReplace Op = "replace queue"
	OpQueueReload  Op = "reload song data"
	OpQueueRestore Op = "restore saved queue"
	OpQueueSave    Op = "save queue"

	// Download operations
	OpDownloadQueue  Op = "queue download"
	OpDownloadDelete Op = "delete download"

	// Song attribute operations
	OpSongRate Op = "rate song"
	OpSongStar Op = "update favourites"

	// Session operations
	OpSessionLogout Op = "log out"

	// Scrobbling
	OpScrobble Op = "scrobble track"
)

// Format creates a user-friendly error message.
func Format(op Op, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to %s: %v", op, err)
}

// FormatWith creates an error message with additional context.
func FormatWith(op Op, context string, err error) string {
	if err == nil {
		return ""
	}
	if context == "" {
		return Format(op, err)
	}
	return fmt.Sprintf("Failed to %s '%s': %v", op, context, err)
}
