// Package dataset persists recorded episodes as a session directory: a
// SQLite database for the tabular step data, one frame stream per camera
// source per episode, and a metadata file finalized when the session ends.
package dataset

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hanahanaworks/xtl-lerobot/pkg/record"
	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
)

// Meta is the session metadata written to meta.json on Close.
type Meta struct {
	SessionID     string   `json:"session_id"`
	CreatedAt     string   `json:"created_at"`
	FinalizedAt   string   `json:"finalized_at"`
	SchemaVersion int      `json:"schema_version"`
	FPS           int      `json:"fps"`
	Task          string   `json:"task"`
	Episodes      int      `json:"episodes"`
	Sources       []string `json:"sources"`
}

// Config holds session-level settings stamped into the metadata.
type Config struct {
	FPS  int
	Task string
}

// Writer owns one session directory. The directory is exclusive: a second
// writer on the same directory fails to open. Episodes are append-only;
// Close finalizes the metadata exactly once.
type Writer struct {
	dir       string
	sessionID string
	cfg       Config

	db   *sql.DB
	lock *flock.Flock

	createdAt time.Time
	episodes  int
	sources   map[string]bool
	closed    bool
}

// Open creates or reuses a session directory, acquires its writer lock and
// prepares the step database.
func Open(dir string, cfg Config) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "session.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock session dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("session dir %s is held by another writer", dir)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "session.db"))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open session db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	w := &Writer{
		dir:       dir,
		sessionID: uuid.NewString(),
		cfg:       cfg,
		db:        db,
		lock:      lock,
		createdAt: time.Now().UTC(),
		sources:   make(map[string]bool),
	}
	slog.Info("dataset: session opened", "dir", dir, "session", w.sessionID)
	return w, nil
}

// SessionID returns the session identifier.
func (w *Writer) SessionID() string { return w.sessionID }

// WriteEpisode appends one episode: its step rows in a transaction, then
// one frame stream per source. Row i of the steps table aligns with record
// i of every stream written for the episode.
func (w *Writer) WriteEpisode(ep *record.Episode) error {
	if w.closed {
		return fmt.Errorf("session %s already finalized", w.sessionID)
	}
	if len(ep.Steps) == 0 {
		return fmt.Errorf("episode %d has no steps", ep.Index)
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin episode tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(
		`INSERT INTO episodes (episode_index, started_at, num_steps, task) VALUES (?, ?, ?, ?)`,
		ep.Index, ep.StartedAt.UTC().Format(time.RFC3339Nano), len(ep.Steps), ep.Task,
	); err != nil {
		return fmt.Errorf("insert episode %d: %w", ep.Index, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO steps (
		episode_index, step_index, ts_ns, task,
		leader_0, leader_1, leader_2, leader_3, leader_4, leader_5,
		follower_0, follower_1, follower_2, follower_3, follower_4, follower_5
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare step insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range ep.Steps {
		args := make([]any, 0, 16)
		args = append(args, ep.Index, st.Index, st.Timestamp.UnixNano(), ep.Task)
		args = appendVector(args, st.Leader)
		args = appendVector(args, st.Follower)
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert step %d/%d: %w", ep.Index, st.Index, err)
		}
	}

	if err := w.writeStreams(ep); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit episode %d: %w", ep.Index, err)
	}
	w.episodes++
	slog.Info("dataset: episode written",
		"session", w.sessionID, "episode", ep.Index, "steps", len(ep.Steps))
	return nil
}

func appendVector(args []any, v robot.JointVector) []any {
	for i := 0; i < robot.NumJoints; i++ {
		if i < len(v) {
			args = append(args, v[i])
		} else {
			args = append(args, 0.0)
		}
	}
	return args
}

// writeStreams emits one .vstream per source seen in the episode. Steps
// where a source produced nothing become gap records so frame n always
// belongs to step n.
func (w *Writer) writeStreams(ep *record.Episode) error {
	ids := make(map[string]bool)
	for _, st := range ep.Steps {
		for id := range st.Frames {
			ids[id] = true
		}
	}
	for id := range ids {
		w.sources[id] = true
		if err := w.writeStream(ep, id); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeStream(ep *record.Episode, sourceID string) error {
	dir := filepath.Join(w.dir, sourceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create stream dir %s: %w", sourceID, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("episode_%03d.vstream", ep.Index))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create stream %s: %w", path, err)
	}
	defer f.Close()

	for _, st := range ep.Steps {
		frame, ok := st.Frames[sourceID]
		if !ok {
			if err := writeStreamGap(f); err != nil {
				return fmt.Errorf("write %s step %d: %w", path, st.Index, err)
			}
			continue
		}
		if err := writeStreamFrame(f, frame); err != nil {
			return fmt.Errorf("write %s step %d: %w", path, st.Index, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync stream %s: %w", path, err)
	}
	return nil
}

// Close finalizes meta.json, closes the database and releases the
// directory lock. Safe to call once; later writes fail.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	sources := make([]string, 0, len(w.sources))
	for id := range w.sources {
		sources = append(sources, id)
	}
	sort.Strings(sources)

	meta := Meta{
		SessionID:     w.sessionID,
		CreatedAt:     w.createdAt.Format(time.RFC3339Nano),
		FinalizedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		SchemaVersion: schemaVersion,
		FPS:           w.cfg.FPS,
		Task:          w.cfg.Task,
		Episodes:      w.episodes,
		Sources:       sources,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, "meta.json"), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	if err := w.db.Close(); err != nil {
		_ = w.lock.Unlock()
		return fmt.Errorf("close session db: %w", err)
	}
	if err := w.lock.Unlock(); err != nil {
		return fmt.Errorf("release session lock: %w", err)
	}
	slog.Info("dataset: session finalized", "session", w.sessionID, "episodes", w.episodes)
	return nil
}
