package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run is the history row of one narration run.
type Run struct {
	ID         string
	NodeID     string
	Source     string
	Voice      string
	State      string
	Artifact   string
	Duration   time.Duration
	Units      int
	Error      string
	Cancelled  bool
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Event is one recorded pipeline event of a run.
type Event struct {
	ID        int64
	RunID     string
	Kind      string
	State     string
	Payload   []byte
	CreatedAt time.Time
}

// Store keeps run history in SQLite. In ephemeral mode it holds no
// database and every call is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "event-store"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    node_id TEXT,
    source TEXT NOT NULL,
    voice TEXT NOT NULL,
    state TEXT NOT NULL,
    artifact TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    units INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    cancelled INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    state TEXT,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_run_created ON events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persistent reports whether history is kept.
func (s *Store) Persistent() bool { return s.db != nil }

// BeginRun inserts or replaces the row for run.ID.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if s.db == nil {
		return nil
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, node_id, source, voice, state, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET node_id=excluded.node_id, source=excluded.source,
		   voice=excluded.voice, state=excluded.state`,
		run.ID, run.NodeID, run.Source, run.Voice, run.State, toMillis(run.CreatedAt))
	return err
}

// SetState records the latest pipeline state of a run.
func (s *Store) SetState(ctx context.Context, runID, state string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET state = ? WHERE run_id = ?`, state, runID)
	return err
}

// FinishRun stores the outcome fields of run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	if s.db == nil {
		return nil
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.clock()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, artifact = ?, duration_ms = ?, units = ?, error = ?, cancelled = ?, finished_at = ?
		 WHERE run_id = ?`,
		run.State, run.Artifact, run.Duration.Milliseconds(), run.Units, run.Error, boolInt(run.Cancelled), toMillis(run.FinishedAt), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(run_id, kind, state, payload, created_at) VALUES(?, ?, ?, ?, ?)`,
		evt.RunID, evt.Kind, evt.State, evt.Payload, toMillis(evt.CreatedAt))
	return err
}

const runColumns = `run_id, COALESCE(node_id, ''), source, voice, state, COALESCE(artifact, ''), duration_ms, units,
	COALESCE(error, ''), cancelled, created_at, COALESCE(finished_at, 0)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                 Run
		durationMS        int64
		cancelled         int
		created, finished int64
	)
	if err := row.Scan(&r.ID, &r.NodeID, &r.Source, &r.Voice, &r.State, &r.Artifact, &durationMS, &r.Units,
		&r.Error, &cancelled, &created, &finished); err != nil {
		return Run{}, err
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.Cancelled = cancelled != 0
	r.CreatedAt = fromMillis(created)
	if finished > 0 {
		r.FinishedAt = fromMillis(finished)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	if s.db == nil {
		return Run{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRunEvents retrieves up to limit events for a run ordered ascending by time.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, kind, COALESCE(state, ''), payload, created_at
		 FROM events WHERE run_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			created int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.State, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and after runs).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, toMillis(cutoff)); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
