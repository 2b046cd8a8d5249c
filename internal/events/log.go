package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/relwiz/internal/storage"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Log is the durable event table.
type Log struct {
	db *storage.DB
}

func NewLog(db *storage.DB) *Log {
	return &Log{db: db}
}

// Append stores e and assigns its sequence number.
func (l *Log) Append(ctx context.Context, e *Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data := string(e.Data)
	if data == "" {
		data = "{}"
	}
	var execID any
	if e.BlockExecutionID != "" {
		execID = e.BlockExecutionID
	}
	err := l.db.QueryRowContext(ctx, l.db.Rebind(`
INSERT INTO events(release_id, block_execution_id, type, at, data)
VALUES(?, ?, ?, ?, ?)
RETURNING seq;
`), e.ReleaseID, execID, string(e.Type), e.At.UTC().Format(timeLayout), data).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// After returns up to limit events with seq > afterSeq, oldest first.
// An empty releaseID scans every release.
func (l *Log) After(ctx context.Context, releaseID string, afterSeq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 256
	}
	query := `SELECT seq, release_id, block_execution_id, type, at, data FROM events WHERE seq > ?`
	args := []any{afterSeq}
	if releaseID != "" {
		query += ` AND release_id = ?`
		args = append(args, releaseID)
	}
	query += ` ORDER BY seq ASC LIMIT ?;`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, l.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// LatestStatus returns the newest release.status event of a release.
// ok is false when the release has published none.
func (l *Log) LatestStatus(ctx context.Context, releaseID string) (e Event, ok bool, err error) {
	row := l.db.QueryRowContext(ctx, l.db.Rebind(`
SELECT seq, release_id, block_execution_id, type, at, data FROM events
WHERE release_id = ? AND type = ?
ORDER BY seq DESC LIMIT 1;
`), releaseID, string(TypeReleaseStatus))
	e, err = scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return e, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		e      Event
		execID sql.NullString
		typ    string
		at     string
		data   string
	)
	if err := row.Scan(&e.Seq, &e.ReleaseID, &execID, &typ, &at, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan event: %w", err)
	}
	e.BlockExecutionID = execID.String
	e.Type = Type(typ)
	e.At, _ = time.Parse(time.RFC3339Nano, at)
	e.Data = []byte(data)
	return e, nil
}

// LastSeq returns the highest assigned sequence number, or 0.
func (l *Log) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := l.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events;`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// SeqBefore returns the highest seq recorded strictly before t.
func (l *Log) SeqBefore(ctx context.Context, t time.Time) (int64, error) {
	var seq sql.NullInt64
	err := l.db.QueryRowContext(ctx, l.db.Rebind(`SELECT MAX(seq) FROM events WHERE at < ?;`),
		t.UTC().Format(timeLayout)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("seq before: %w", err)
	}
	return seq.Int64, nil
}
