package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-eyeface/pkg/eyetrack"
)

// Sessions lists recorded sessions, newest first.
func (r *Recorder) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.started_at, s.ended_at, s.source, s.config,
			(SELECT COUNT(*) FROM frames f WHERE f.session_id = s.id AND f.eye = 0)
		FROM sessions s
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Session returns one session by ID.
func (r *Recorder) Session(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.started_at, s.ended_at, s.source, s.config,
			(SELECT COUNT(*) FROM frames f WHERE f.session_id = s.id AND f.eye = 0)
		FROM sessions s WHERE s.id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
		blob    string
	)
	if err := sc.Scan(&s.ID, &started, &ended, &s.Source, &blob, &s.Cycles); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		s.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(blob), &s.Config); err != nil {
		return Session{}, fmt.Errorf("decode session %s config: %w", s.ID, err)
	}
	if cfg, err := s.Config.Normalize(); err == nil {
		s.Config = cfg
	}
	return s, nil
}

// Frames returns up to limit rows for one eye of a session, oldest first.
// limit <= 0 returns every row.
func (r *Recorder) Frames(ctx context.Context, id string, eye eyetrack.Eye, limit int) ([]EyeRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT cycle, frame, recorded_at, confidence, raw_openness, gaze_x, gaze_y,
			tracking, hold, openness, squeeze, widen
		FROM frames WHERE session_id = ? AND eye = ?
		ORDER BY cycle LIMIT ?`, id, int(eye), limit)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []EyeRow
	for rows.Next() {
		var (
			row      EyeRow
			cycle    int64
			recorded int64
			conf     int
		)
		if err := rows.Scan(&cycle, &row.Frame, &recorded, &conf, &row.RawOpenness,
			&row.Gaze.X, &row.Gaze.Y, &row.Tracking, &row.Hold,
			&row.Openness, &row.Squeeze, &row.Widen); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		row.Cycle = uint64(cycle)
		row.RecordedAt = time.Unix(0, recorded)
		row.Eye = eye
		row.Confidence = eyetrack.Confidence(conf)
		out = append(out, row)
	}
	return out, rows.Err()
}

// EyeStats summarizes one eye over a session.
type EyeStats struct {
	Samples        int     `json:"samples"`
	OpennessMean   float64 `json:"openness_mean"`
	OpennessStdDev float64 `json:"openness_stddev"`
	RawMean        float64 `json:"raw_openness_mean"`
	RawStdDev      float64 `json:"raw_openness_stddev"`
	TrackingRatio  float64 `json:"tracking_ratio"`
	Holds          int     `json:"holds"`
}

// Stats summarizes a session.
type Stats struct {
	SessionID string   `json:"session_id"`
	Left      EyeStats `json:"left"`
	Right     EyeStats `json:"right"`
}

// Stats computes per-eye summary statistics for a session.
func (r *Recorder) Stats(ctx context.Context, id string) (Stats, error) {
	if _, err := r.Session(ctx, id); err != nil {
		return Stats{}, err
	}
	out := Stats{SessionID: id}
	for _, e := range []eyetrack.Eye{eyetrack.Left, eyetrack.Right} {
		rows, err := r.Frames(ctx, id, e, 0)
		if err != nil {
			return Stats{}, err
		}
		st := summarize(rows)
		if e == eyetrack.Left {
			out.Left = st
		} else {
			out.Right = st
		}
	}
	return out, nil
}

func summarize(rows []EyeRow) EyeStats {
	st := EyeStats{Samples: len(rows)}
	if len(rows) == 0 {
		return st
	}
	open := make([]float64, len(rows))
	raw := make([]float64, len(rows))
	tracked := 0
	for i, row := range rows {
		open[i] = row.Openness
		raw[i] = row.RawOpenness
		if row.Tracking {
			tracked++
		}
		if row.Hold {
			st.Holds++
		}
	}
	st.OpennessMean, st.OpennessStdDev = meanStdDev(open)
	st.RawMean, st.RawStdDev = meanStdDev(raw)
	st.TrackingRatio = float64(tracked) / float64(len(rows))
	return st
}

// meanStdDev is stat.MeanStdDev with a zero deviation for single samples.
func meanStdDev(xs []float64) (mean, std float64) {
	if len(xs) < 2 {
		return stat.Mean(xs, nil), 0
	}
	return stat.MeanStdDev(xs, nil)
}
