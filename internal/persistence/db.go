// Package persistence provides SQLite-based storage for saved projects,
// the autosave slot and the city event log.
package persistence

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/cityforge/internal/engine"
	"github.com/talgya/cityforge/internal/project"
)

// AutosaveName is the project slot written by SaveState.
const AutosaveName = "autosave"

// savedAtLayout is fixed width so saved_at sorts lexically.
const savedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// maxRestoredEvents bounds the event tail reloaded into a restored session.
const maxRestoredEvents = 1000

// ErrNotFound is returned when a project does not exist.
var ErrNotFound = errors.New("project not found")

// DB wraps a SQLite connection for project persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		saved_at TEXT NOT NULL,
		size INTEGER NOT NULL,
		climate TEXT NOT NULL,
		terrain TEXT NOT NULL,
		placements INTEGER NOT NULL,
		document TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY,
		frame INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS city_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_frame ON events(frame);
	CREATE INDEX IF NOT EXISTS idx_projects_saved ON projects(saved_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// ProjectInfo summarizes a stored project without its document.
type ProjectInfo struct {
	Name       string `db:"name" json:"name"`
	Version    int    `db:"version" json:"version"`
	SavedAt    string `db:"saved_at" json:"savedAt"`
	Size       int    `db:"size" json:"size"`
	Climate    string `db:"climate" json:"climate"`
	Terrain    string `db:"terrain" json:"terrain"`
	Placements int    `db:"placements" json:"placements"`
}

// SaveProject stores doc under name, replacing any previous version.
func (db *DB) SaveProject(name string, doc project.Document) error {
	var buf bytes.Buffer
	if err := project.Encode(&buf, doc); err != nil {
		return err
	}
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO projects
		(name, version, saved_at, size, climate, terrain, placements, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		name, doc.Version, doc.SavedAt.UTC().Format(savedAtLayout),
		doc.CityData.Size, string(doc.CityData.Climate), string(doc.CityData.Terrain),
		len(doc.Placements), buf.String(),
	)
	if err != nil {
		return fmt.Errorf("save project %q: %w", name, err)
	}
	return nil
}

// LoadProject returns the raw document stored under name, for
// project.Decode.
func (db *DB) LoadProject(name string) ([]byte, error) {
	var doc string
	err := db.conn.Get(&doc, "SELECT document FROM projects WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load project %q: %w", name, err)
	}
	return []byte(doc), nil
}

// ListProjects returns stored projects, most recently saved first.
func (db *DB) ListProjects() ([]ProjectInfo, error) {
	var out []ProjectInfo
	err := db.conn.Select(&out, `SELECT name, version, saved_at, size, climate, terrain, placements
		FROM projects ORDER BY saved_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// DeleteProject removes a stored project.
func (db *DB) DeleteProject(name string) error {
	res, err := db.conn.Exec("DELETE FROM projects WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete project %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveEvents appends events to the log. Events already stored are skipped.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT OR IGNORE INTO events (seq, frame, description, category) VALUES (?, ?, ?, ?)",
			e.Seq, e.Frame, e.Description, e.Category,
		)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT seq, frame, description, category FROM events ORDER BY seq DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return events, nil
}

// SaveMeta stores a key-value pair in city metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO city_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM city_meta WHERE key = ?", key)
	return value, err
}

// SaveState writes the autosave project, the event log and the frame
// counter.
func (db *DB) SaveState(sim *engine.Simulation) error {
	doc := sim.Export()
	snap := sim.Snapshot()
	slog.Info("saving city state", "size", doc.CityData.Size, "placements", len(doc.Placements))

	if err := db.SaveProject(AutosaveName, doc); err != nil {
		return fmt.Errorf("save autosave: %w", err)
	}
	if err := db.SaveEvents(sim.Events(maxRestoredEvents)); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if err := db.SaveMeta("last_frame", strconv.FormatUint(snap.Frame, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("city state saved")
	return nil
}

// RestoreState loads the autosave into sim. It reports false when there is
// no autosave.
func (db *DB) RestoreState(sim *engine.Simulation) (bool, error) {
	data, err := db.LoadProject(AutosaveName)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r, err := project.Decode(data, sim.Params())
	if err != nil {
		return false, fmt.Errorf("decode autosave: %w", err)
	}
	if err := db.resumeLog(sim); err != nil {
		return false, err
	}
	sim.Import(r)
	if len(r.Skipped) > 0 {
		slog.Warn("autosave partially restored", "skipped", r.Skipped)
	}
	return true, nil
}

// resumeLog hands the stored frame counter and event tail back to sim.
func (db *DB) resumeLog(sim *engine.Simulation) error {
	var frame uint64
	v, err := db.GetMeta("last_frame")
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read last frame: %w", err)
	default:
		frame, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse last frame %q: %w", v, err)
		}
	}

	events, err := db.RecentEvents(maxRestoredEvents)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	slices.Reverse(events)
	sim.Resume(frame, events)
	return nil
}
