package release

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/relwiz/internal/storage"
)

// Store persists releases, block executions, logs, and user inputs.
type Store struct {
	db *storage.DB
}

func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for components sharing the database.
func (s *Store) DB() *storage.DB {
	return s.db
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const releaseColumns = `id, project_id, project_version, name, description, parameter_values, status,
  started_by, plan, user_paused, created_at, started_at, completed_at, updated_at`

const executionColumns = `id, release_id, block_id, block_type, position, status, parameter_values,
  manual_values, output_values, metadata, retry_count, max_retries, last_error, next_attempt_at,
  started_at, completed_at, updated_at`

// CreateRelease inserts a release and all of its block executions atomically.
// Empty ids are assigned.
func (s *Store) CreateRelease(ctx context.Context, r *Release) error {
	if r.ProjectID == "" {
		return fmt.Errorf("project_id is empty")
	}
	if len(r.Plan) == 0 {
		return fmt.Errorf("plan is empty")
	}
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.q(`
INSERT INTO releases(`+releaseColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`), r.ID, r.ProjectID, r.ProjectVersion, r.Name, r.Description, encodeMap(r.ParameterValues), r.Status,
		r.StartedBy, string(r.Plan), boolInt(r.UserPaused), formatTime(r.CreatedAt),
		formatTimePtr(r.StartedAt), formatTimePtr(r.CompletedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert release: %w", err)
	}

	for i := range r.BlockExecutions {
		be := &r.BlockExecutions[i]
		if be.ID == "" {
			be.ID = uuid.NewString()
		}
		be.ReleaseID = r.ID
		if be.Status == "" {
			be.Status = BlockWaiting
		}
		be.UpdatedAt = now
		if err := s.insertExecution(ctx, tx, be); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) insertExecution(ctx context.Context, ex execer, be *BlockExecution) error {
	_, err := ex.ExecContext(ctx, s.q(`
INSERT INTO block_executions(`+executionColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`), be.ID, be.ReleaseID, be.BlockID, be.BlockType, be.Position, be.Status, encodeMap(be.ParameterValues),
		encodeMap(be.ManualValues), encodeMap(be.OutputValues), encodeMap(be.Metadata), be.RetryCount, be.MaxRetries,
		be.LastError, formatTimePtr(be.NextAttemptAt), formatTimePtr(be.StartedAt), formatTimePtr(be.CompletedAt),
		formatTime(be.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert block execution %s: %w", be.BlockID, err)
	}
	return nil
}

// GetRelease loads a release with its block executions.
func (s *Store) GetRelease(ctx context.Context, id string) (*Release, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+releaseColumns+` FROM releases WHERE id = ?;`), id)
	r, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("release %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get release: %w", err)
	}
	execs, err := s.ListBlockExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	r.BlockExecutions = execs
	return r, nil
}

// SaveRelease persists the mutable release fields.
func (s *Store) SaveRelease(ctx context.Context, r *Release) error {
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE releases
SET status = ?, user_paused = ?, started_at = ?, completed_at = ?, updated_at = ?
WHERE id = ?;
`), r.Status, boolInt(r.UserPaused), formatTimePtr(r.StartedAt), formatTimePtr(r.CompletedAt), formatTime(r.UpdatedAt), r.ID)
	if err != nil {
		return fmt.Errorf("save release: %w", err)
	}
	return expectOne(res, "release", r.ID)
}

// ListReleases returns a page of releases (without executions) and the total match count.
func (s *Store) ListReleases(ctx context.Context, req ListRequest) ([]Release, int, error) {
	var (
		where []string
		args  []any
	)
	if req.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, req.ProjectID)
	}
	if req.Status != "" {
		where = append(where, "status = ?")
		args = append(args, req.Status)
	}
	if req.Search != "" {
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)")
		pattern := "%" + strings.ToLower(req.Search) + "%"
		args = append(args, pattern, pattern)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	sortColumn := map[string]string{
		"":             "created_at",
		"created_at":   "created_at",
		"name":         "name",
		"started_at":   "started_at",
		"completed_at": "completed_at",
		"status":       "status",
	}[strings.ToLower(req.SortBy)]
	if sortColumn == "" {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidSortSpec, req.SortBy)
	}
	order := "DESC"
	if strings.EqualFold(req.Order, "asc") {
		order = "ASC"
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM releases`+clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count releases: %w", err)
	}

	query := `SELECT ` + releaseColumns + ` FROM releases` + clause +
		fmt.Sprintf(" ORDER BY %s %s, id ASC LIMIT ? OFFSET ?", sortColumn, order)
	rows, err := s.db.QueryContext(ctx, s.q(query), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var out []Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan release: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate releases: %w", err)
	}
	return out, total, nil
}

// ListNonTerminal returns every PENDING, RUNNING, or PAUSED release with its executions.
func (s *Store) ListNonTerminal(ctx context.Context) ([]Release, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT `+releaseColumns+` FROM releases
WHERE status IN (?, ?, ?)
ORDER BY created_at ASC;
`), StatusPending, StatusRunning, StatusPaused)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal releases: %w", err)
	}
	var out []Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan release: %w", err)
		}
		out = append(out, *r)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}

	for i := range out {
		execs, err := s.ListBlockExecutions(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].BlockExecutions = execs
	}
	return out, nil
}

// DeleteRelease removes a release and everything attached to it.
func (s *Store) DeleteRelease(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"events", "execution_logs", "user_inputs", "block_executions"} {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE release_id = ?;`), id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM releases WHERE id = ?;`), id)
	if err != nil {
		return fmt.Errorf("delete release: %w", err)
	}
	if err := expectOne(res, "release", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListBlockExecutions returns a release's executions in plan declaration order.
func (s *Store) ListBlockExecutions(ctx context.Context, releaseID string) ([]BlockExecution, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT `+executionColumns+` FROM block_executions
WHERE release_id = ?
ORDER BY position ASC;
`), releaseID)
	if err != nil {
		return nil, fmt.Errorf("list block executions: %w", err)
	}
	defer rows.Close()

	var out []BlockExecution
	for rows.Next() {
		be, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block execution: %w", err)
		}
		out = append(out, *be)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate block executions: %w", err)
	}
	return out, nil
}

// GetBlockExecution loads one execution by id.
func (s *Store) GetBlockExecution(ctx context.Context, id string) (*BlockExecution, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+executionColumns+` FROM block_executions WHERE id = ?;`), id)
	be, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get block execution: %w", err)
	}
	return be, nil
}

// SaveBlockExecution persists every mutable execution field.
func (s *Store) SaveBlockExecution(ctx context.Context, be *BlockExecution) error {
	be.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE block_executions
SET status = ?, parameter_values = ?, manual_values = ?, output_values = ?, metadata = ?,
    retry_count = ?, max_retries = ?, last_error = ?, next_attempt_at = ?,
    started_at = ?, completed_at = ?, updated_at = ?
WHERE id = ?;
`), be.Status, encodeMap(be.ParameterValues), encodeMap(be.ManualValues), encodeMap(be.OutputValues),
		encodeMap(be.Metadata), be.RetryCount, be.MaxRetries, be.LastError, formatTimePtr(be.NextAttemptAt),
		formatTimePtr(be.StartedAt), formatTimePtr(be.CompletedAt), formatTime(be.UpdatedAt), be.ID)
	if err != nil {
		return fmt.Errorf("save block execution: %w", err)
	}
	return expectOne(res, "block execution", be.ID)
}

// AppendLog writes one immutable log line.
func (s *Store) AppendLog(ctx context.Context, l *ExecutionLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	if l.Source == "" {
		l.Source = "system"
	}
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO execution_logs(id, release_id, block_execution_id, level, message, source, metadata, timestamp)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`), l.ID, l.ReleaseID, l.BlockExecutionID, l.Level, l.Message, l.Source, encodeMap(l.Metadata), formatTime(l.Timestamp))
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLogs returns a page of a block execution's logs ordered by timestamp, and the total.
func (s *Store) ListLogs(ctx context.Context, blockExecutionID string, req LogRequest) ([]ExecutionLog, int, error) {
	where := []string{"block_execution_id = ?"}
	args := []any{blockExecutionID}
	if req.Level != "" {
		where = append(where, "level = ?")
		args = append(args, req.Level)
	}
	if req.Source != "" {
		where = append(where, "source = ?")
		args = append(args, req.Source)
	}
	if req.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(*req.From))
	}
	if req.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTime(*req.To))
	}
	clause := " WHERE " + strings.Join(where, " AND ")
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM execution_logs`+clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, release_id, block_execution_id, level, message, source, metadata, timestamp
FROM execution_logs`+clause+`
ORDER BY timestamp ASC, id ASC
LIMIT ? OFFSET ?;`), append(args, limit, req.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []ExecutionLog
	for rows.Next() {
		var (
			l        ExecutionLog
			level    string
			metadata string
			ts       string
		)
		if err := rows.Scan(&l.ID, &l.ReleaseID, &l.BlockExecutionID, &level, &l.Message, &l.Source, &metadata, &ts); err != nil {
			return nil, 0, fmt.Errorf("scan log: %w", err)
		}
		l.Level = LogLevel(level)
		l.Metadata = decodeMap(metadata)
		l.Timestamp = parseTime(ts)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate logs: %w", err)
	}
	return out, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelease(row rowScanner) (*Release, error) {
	var (
		r          Release
		params     string
		status     string
		plan       string
		userPaused int
		createdAt  string
		startedAt  sql.NullString
		completed  sql.NullString
		updatedAt  string
	)
	if err := row.Scan(&r.ID, &r.ProjectID, &r.ProjectVersion, &r.Name, &r.Description, &params, &status,
		&r.StartedBy, &plan, &userPaused, &createdAt, &startedAt, &completed, &updatedAt); err != nil {
		return nil, err
	}
	r.ParameterValues = decodeMap(params)
	r.Status = Status(status)
	r.Plan = []byte(plan)
	r.UserPaused = userPaused != 0
	r.CreatedAt = parseTime(createdAt)
	r.StartedAt = parseNullTime(startedAt)
	r.CompletedAt = parseNullTime(completed)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func scanExecution(row rowScanner) (*BlockExecution, error) {
	var (
		be          BlockExecution
		status      string
		params      string
		manual      string
		outputs     string
		metadata    string
		lastError   sql.NullString
		nextAttempt sql.NullString
		startedAt   sql.NullString
		completedAt sql.NullString
		updatedAt   string
	)
	if err := row.Scan(&be.ID, &be.ReleaseID, &be.BlockID, &be.BlockType, &be.Position, &status, &params,
		&manual, &outputs, &metadata, &be.RetryCount, &be.MaxRetries, &lastError, &nextAttempt,
		&startedAt, &completedAt, &updatedAt); err != nil {
		return nil, err
	}
	be.Status = BlockStatus(status)
	be.ParameterValues = decodeMap(params)
	be.ManualValues = decodeMap(manual)
	be.OutputValues = decodeMap(outputs)
	be.Metadata = decodeMap(metadata)
	be.LastError = nullString(lastError)
	be.NextAttemptAt = parseNullTime(nextAttempt)
	be.StartedAt = parseNullTime(startedAt)
	be.CompletedAt = parseNullTime(completedAt)
	be.UpdatedAt = parseTime(updatedAt)
	return &be, nil
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
