package state

import (
	"database/sql"
	"errors"
	"time"

	dbutil "github.com/lantier/resona/internal/db"
	"github.com/lantier/resona/internal/song"
)

// SaveSnapshot stores the (current song, queue) pair, replacing any
// previous snapshot.
func (m *Manager) SaveSnapshot(current *song.Song, songs []song.Song) error {
	return dbutil.WithTx(m.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM snapshot_songs`); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM snapshot_state`); err != nil {
			return err
		}

		currentID := ""
		if current != nil {
			currentID = current.MediaID
		}
		if _, err := tx.Exec(
			`INSERT INTO snapshot_state (id, current_media_id) VALUES (1, ?)`,
			currentID,
		); err != nil {
			return err
		}

		for i, s := range songs {
			if _, err := tx.Exec(`
				INSERT INTO snapshot_songs
					(position, media_id, title, album, album_id, artist, artist_id,
					 genre, track_number, year, duration_ms, suffix, size, song_url,
					 favourite, rating)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				i, s.MediaID, s.Title, s.Album, s.AlbumID, s.Artist, s.ArtistID,
				s.Genre, s.TrackNumber, s.Year, s.Duration.Milliseconds(), s.Suffix,
				s.Size, s.SongURL, s.Favourite, s.Rating,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshot returns the saved snapshot, or (nil, nil, nil) when none
// exists. The current song is matched against the saved queue by identity.
func (m *Manager) LoadSnapshot() (*song.Song, []song.Song, error) {
	var currentID string
	row := m.db.QueryRow(`SELECT current_media_id FROM snapshot_state WHERE id = 1`)
	err := row.Scan(&currentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := m.db.Query(`
		SELECT media_id, title, album, album_id, artist, artist_id, genre,
		       track_number, year, duration_ms, suffix, size, song_url,
		       favourite, rating
		FROM snapshot_songs
		ORDER BY position
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var songs []song.Song
	for rows.Next() {
		var s song.Song
		var durationMs int64
		if err := rows.Scan(
			&s.MediaID, &s.Title, &s.Album, &s.AlbumID, &s.Artist, &s.ArtistID,
			&s.Genre, &s.TrackNumber, &s.Year, &durationMs, &s.Suffix, &s.Size,
			&s.SongURL, &s.Favourite, &s.Rating,
		); err != nil {
			return nil, nil, err
		}
		s.Duration = time.Duration(durationMs) * time.Millisecond
		songs = append(songs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var current *song.Song
	if idx := song.IndexOf(songs, currentID); idx >= 0 {
		c := songs[idx]
		current = &c
	}
	return current, songs, nil
}

// ClearSnapshot removes any saved snapshot.
func (m *Manager) ClearSnapshot() error {
	return dbutil.WithTx(m.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM snapshot_songs`); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM snapshot_state`)
		return err
	})
}
