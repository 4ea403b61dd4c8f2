// Package download tracks locally downloaded song copies. It owns the
// download records and the offline-availability predicate consulted by the
// resolver; the byte transfer itself is delegated to an injected Fetcher.
package download

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	dbutil "github.com/lantier/resona/internal/db"
	"github.com/lantier/resona/internal/song"
)

// Status constants for download records.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// ResultState tags the phases of an asynchronous download operation.
type ResultState int

const (
	ResultLoading ResultState = iota
	ResultSuccess
	ResultError
)

// Result is one emission on a download/delete result stream.
type Result struct {
	State ResultState
	Song  song.Song
	Err   error
}

// Fetcher transfers the bytes of a single song to dest. Implementations own
// retry and IO details; the coordinator only consumes completion or failure.
type Fetcher interface {
	Fetch(ctx context.Context, uri, dest string) (int64, error)
}

// SourceFunc resolves the remote URI a song should be fetched from.
type SourceFunc func(s song.Song) (string, error)

// Coordinator provides download tracking backed by the state database.
type Coordinator struct {
	db      *sql.DB
	dir     string
	fetcher Fetcher
	source  SourceFunc
}

// New creates a coordinator storing files under dir.
func New(db *sql.DB, dir string, fetcher Fetcher, source SourceFunc) *Coordinator {
	return &Coordinator{db: db, dir: dir, fetcher: fetcher, source: source}
}

// IsAvailableOffline reports whether a completed local copy exists on disk.
func (c *Coordinator) IsAvailableOffline(s song.Song) bool {
	_, ok := c.LocalURI(s)
	return ok
}

// LocalURI returns the path of the downloaded copy, if present.
func (c *Coordinator) LocalURI(s song.Song) (string, bool) {
	var path, status string
	row := c.db.QueryRow(`SELECT path, status FROM downloads WHERE media_id = ?`, s.MediaID)
	if err := row.Scan(&path, &status); err != nil {
		return "", false
	}
	if status != StatusCompleted {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Download fetches a single song. The returned stream emits Loading first,
// then exactly one Success or Error, and is closed afterwards.
func (c *Coordinator) Download(ctx context.Context, s song.Song) <-chan Result {
	results := make(chan Result, 4)
	go func() {
		defer close(results)
		c.downloadOne(ctx, s, results)
	}()
	return results
}

// DownloadAll fetches songs sequentially, emitting results per song.
func (c *Coordinator) DownloadAll(ctx context.Context, songs []song.Song) <-chan Result {
	results := make(chan Result, 4)
	go func() {
		defer close(results)
		for _, s := range songs {
			if ctx.Err() != nil {
				return
			}
			c.downloadOne(ctx, s, results)
		}
	}()
	return results
}

// Delete removes the local copy and its record.
func (c *Coordinator) Delete(s song.Song) <-chan Result {
	results := make(chan Result, 2)
	go func() {
		defer close(results)
		results <- Result{State: ResultLoading, Song: s}

		path, ok := c.LocalURI(s)
		if ok {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				results <- Result{State: ResultError, Song: s, Err: err}
				return
			}
		}
		if _, err := c.db.Exec(`DELETE FROM downloads WHERE media_id = ?`, s.MediaID); err != nil {
			results <- Result{State: ResultError, Song: s, Err: err}
			return
		}
		log.Info().Str("media_id", s.MediaID).Msg("Deleted local copy")
		results <- Result{State: ResultSuccess, Song: s}
	}()
	return results
}

func (c *Coordinator) downloadOne(ctx context.Context, s song.Song, results chan<- Result) {
	results <- Result{State: ResultLoading, Song: s}

	if c.fetcher == nil || c.source == nil {
		results <- Result{State: ResultError, Song: s, Err: errors.New("downloads not configured")}
		return
	}
	if c.IsAvailableOffline(s) {
		results <- Result{State: ResultSuccess, Song: s}
		return
	}

	uri, err := c.source(s)
	if err != nil {
		results <- Result{State: ResultError, Song: s, Err: err}
		return
	}

	jobID := uuid.NewString()
	dest := c.destPath(s)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		results <- Result{State: ResultError, Song: s, Err: err}
		return
	}
	if err := c.upsert(s, jobID, dest, 0, StatusDownloading); err != nil {
		results <- Result{State: ResultError, Song: s, Err: err}
		return
	}

	size, err := c.fetcher.Fetch(ctx, uri, dest)
	if err != nil {
		_ = c.setStatus(s.MediaID, StatusFailed)
		log.Warn().Str("media_id", s.MediaID).Str("job_id", jobID).Err(err).Msg("Download failed")
		results <- Result{State: ResultError, Song: s, Err: err}
		return
	}

	if err := c.upsert(s, jobID, dest, size, StatusCompleted); err != nil {
		results <- Result{State: ResultError, Song: s, Err: err}
		return
	}
	log.Info().
		Str("media_id", s.MediaID).
		Str("job_id", jobID).
		Str("size", humanize.Bytes(uint64(size))).
		Msg("Download completed")
	results <- Result{State: ResultSuccess, Song: s}
}

func (c *Coordinator) destPath(s song.Song) string {
	name := s.MediaID
	if s.Suffix != "" {
		name += "." + s.Suffix
	}
	return filepath.Join(c.dir, name)
}

func (c *Coordinator) upsert(s song.Song, jobID, path string, size int64, status string) error {
	return dbutil.WithTx(c.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		_, err := tx.Exec(`
			INSERT INTO downloads (media_id, job_id, path, size, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (media_id) DO UPDATE SET
				job_id = excluded.job_id,
				path = excluded.path,
				size = excluded.size,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			s.MediaID, jobID, path, size, status, now, now,
		)
		return err
	})
}

func (c *Coordinator) setStatus(mediaID, status string) error {
	_, err := c.db.Exec(
		`UPDATE downloads SET status = ?, updated_at = ? WHERE media_id = ?`,
		status, time.Now().Unix(), mediaID,
	)
	if err != nil {
		return fmt.Errorf("update download status: %w", err)
	}
	return nil
}
