package state

import "database/sql"

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshot_state (
			id               INTEGER PRIMARY KEY CHECK (id = 1),
			current_media_id TEXT
		);

		CREATE TABLE IF NOT EXISTS snapshot_songs (
			position     INTEGER PRIMARY KEY,
			media_id     TEXT NOT NULL,
			title        TEXT,
			album        TEXT,
			album_id     TEXT,
			artist       TEXT,
			artist_id    TEXT,
			genre        TEXT,
			track_number INTEGER,
			year         INTEGER,
			duration_ms  INTEGER,
			suffix       TEXT,
			size         INTEGER,
			song_url     TEXT,
			favourite    INTEGER,
			rating       INTEGER
		);

		CREATE TABLE IF NOT EXISTS downloads (
			media_id   TEXT PRIMARY KEY,
			job_id     TEXT NOT NULL,
			path       TEXT NOT NULL,
			size       INTEGER NOT NULL DEFAULT 0,
			status     TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}
