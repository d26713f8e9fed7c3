// Package recorder stores conditioned frames in SQLite so sessions can be
// inspected and compared after the fact.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
	"github.com/teslashibe/go-eyeface/pkg/runner"
)

var (
	ErrSessionNotFound = errors.New("recorder: session not found")
	ErrNoSession       = errors.New("recorder: no active session")
)

// DefaultBatchSize is how many frames are buffered before a write.
const DefaultBatchSize = 100

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER,
	source      TEXT NOT NULL,
	config      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS frames (
	session_id    TEXT    NOT NULL,
	cycle         INTEGER NOT NULL,
	frame         INTEGER NOT NULL,
	recorded_at   INTEGER NOT NULL,
	eye           INTEGER NOT NULL,
	confidence    INTEGER NOT NULL,
	raw_openness  DOUBLE  NOT NULL,
	gaze_x        DOUBLE  NOT NULL,
	gaze_y        DOUBLE  NOT NULL,
	tracking      INTEGER NOT NULL,
	hold          INTEGER NOT NULL,
	openness      DOUBLE  NOT NULL,
	squeeze       DOUBLE  NOT NULL,
	widen         DOUBLE  NOT NULL,
	PRIMARY KEY (session_id, cycle, eye),
	FOREIGN KEY (session_id) REFERENCES sessions(id)
);
`

// Session is one recorded run.
type Session struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Source    string          `json:"source"`
	Config    eyetrack.Config `json:"config"`
	Cycles    int64           `json:"cycles"`
}

// EyeRow is one eye of one recorded cycle.
type EyeRow struct {
	Cycle       uint64              `json:"cycle"`
	Frame       int64               `json:"frame"`
	RecordedAt  time.Time           `json:"recorded_at"`
	Eye         eyetrack.Eye        `json:"-"`
	Confidence  eyetrack.Confidence `json:"confidence"`
	RawOpenness float64             `json:"raw_openness"`
	Gaze        eyetrack.Vector2    `json:"gaze"`
	Tracking    bool                `json:"tracking"`
	Hold        bool                `json:"hold"`
	Openness    float64             `json:"openness"`
	Squeeze     float64             `json:"squeeze"`
	Widen       float64             `json:"widen"`
}

// Recorder is a runner.Sink writing to SQLite.
type Recorder struct {
	db        *sql.DB
	log       *slog.Logger
	batchSize int

	mu      sync.Mutex
	session string
	pending []runner.Frame
}

// Open opens (or creates) the database at path.
func Open(path string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open recorder db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create recorder schema: %w", err)
	}
	return &Recorder{db: db, log: logger, batchSize: DefaultBatchSize}, nil
}

// SetBatchSize changes how many frames are buffered between writes.
func (r *Recorder) SetBatchSize(n int) {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	r.batchSize = n
	r.mu.Unlock()
}

// Start begins a new session, ending any active one.
func (r *Recorder) Start(ctx context.Context, source string, cfg eyetrack.Config) (string, error) {
	if err := r.End(ctx); err != nil && !errors.Is(err, ErrNoSession) {
		return "", err
	}
	blob, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode session config: %w", err)
	}
	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, source, config) VALUES (?, ?, ?, ?)`,
		id, time.Now().UnixNano(), source, string(blob))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	r.mu.Lock()
	r.session = id
	r.mu.Unlock()
	r.log.Info("recording session started", "session", id, "source", source)
	return id, nil
}

// Publish buffers f for the active session.
func (r *Recorder) Publish(ctx context.Context, f runner.Frame) error {
	r.mu.Lock()
	if r.session == "" {
		r.mu.Unlock()
		return ErrNoSession
	}
	r.pending = append(r.pending, f)
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()

	if full {
		return r.Flush(ctx)
	}
	return nil
}

// Flush writes buffered frames in one transaction.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	session, frames := r.session, r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(frames) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin frame batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO frames (
		session_id, cycle, frame, recorded_at, eye, confidence, raw_openness,
		gaze_x, gaze_y, tracking, hold, openness, squeeze, widen
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare frame insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		for _, row := range rowsOf(f) {
			_, err := stmt.ExecContext(ctx,
				session, int64(row.Cycle), row.Frame, row.RecordedAt.UnixNano(),
				int(row.Eye), int(row.Confidence), row.RawOpenness,
				row.Gaze.X, row.Gaze.Y, row.Tracking, row.Hold,
				row.Openness, row.Squeeze, row.Widen)
			if err != nil {
				return fmt.Errorf("insert frame %d: %w", row.Cycle, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit frame batch: %w", err)
	}
	return nil
}

// rowsOf splits a frame into one row per eye, taking output weights from
// the eye's squint and wide shapes.
func rowsOf(f runner.Frame) [2]EyeRow {
	var rows [2]EyeRow
	for _, e := range []eyetrack.Eye{eyetrack.Left, eyetrack.Right} {
		in := f.Sample.Eye(e)
		out := f.Expressions.Left
		tracking, lids := f.Verdicts.Left, f.Verdicts.LeftLids
		squeeze, widen := eyetrack.EyeSquintLeft, eyetrack.EyeWideLeft
		if e == eyetrack.Right {
			out = f.Expressions.Right
			tracking, lids = f.Verdicts.Right, f.Verdicts.RightLids
			squeeze, widen = eyetrack.EyeSquintRight, eyetrack.EyeWideRight
		}
		rows[e] = EyeRow{
			Cycle:       f.Cycle,
			Frame:       f.Sample.Frame,
			RecordedAt:  f.Time,
			Eye:         e,
			Confidence:  in.Confidence,
			RawOpenness: in.Openness,
			Gaze:        out.Gaze,
			Tracking:    tracking,
			Hold:        lids.Hold,
			Openness:    out.Openness,
			Squeeze:     f.Expressions.Weight(squeeze),
			Widen:       f.Expressions.Weight(widen),
		}
	}
	return rows
}

// End flushes and closes the active session.
func (r *Recorder) End(ctx context.Context) error {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == "" {
		return ErrNoSession
	}
	if err := r.Flush(ctx); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now().UnixNano(), session); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	r.mu.Lock()
	r.session = ""
	r.mu.Unlock()
	r.log.Info("recording session ended", "session", session)
	return nil
}

// Active returns the current session ID, or "".
func (r *Recorder) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Close ends the active session and closes the database.
func (r *Recorder) Close() error {
	err := r.End(context.Background())
	if errors.Is(err, ErrNoSession) {
		err = nil
	}
	return errors.Join(err, r.db.Close())
}
