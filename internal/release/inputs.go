package release

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const inputColumns = `id, release_id, block_execution_id, purpose, prompt, input_type, options, required,
  submitted_value, submitted_by, submitted_at, cancelled_at, created_at`

// CreateInput records a pending request for human input.
func (s *Store) CreateInput(ctx context.Context, in *UserInput) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	if in.Purpose == "" {
		in.Purpose = PurposeAction
	}
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO user_inputs(`+inputColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`), in.ID, in.ReleaseID, in.BlockExecutionID, in.Purpose, in.Prompt, in.InputType, encodeList(in.Options),
		boolInt(in.Required), in.SubmittedValue, in.SubmittedBy, formatTimePtr(in.SubmittedAt),
		formatTimePtr(in.CancelledAt), formatTime(in.CreatedAt))
	if err != nil {
		return fmt.Errorf("create input: %w", err)
	}
	return nil
}

// GetInput loads an input by id.
func (s *Store) GetInput(ctx context.Context, id string) (*UserInput, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+inputColumns+` FROM user_inputs WHERE id = ?;`), id)
	in, err := scanInput(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("input %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get input: %w", err)
	}
	return in, nil
}

// SubmitInput records a submission exactly once. A second submission, or a
// submission against a cancelled input, returns ErrInputClosed.
func (s *Store) SubmitInput(ctx context.Context, id, value, by string, at time.Time) (*UserInput, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE user_inputs
SET submitted_value = ?, submitted_by = ?, submitted_at = ?
WHERE id = ? AND submitted_at IS NULL AND cancelled_at IS NULL;
`), value, by, formatTime(at), id)
	if err != nil {
		return nil, fmt.Errorf("submit input: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	in, err := s.GetInput(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return in, fmt.Errorf("input %s: %w", id, ErrInputClosed)
	}
	return in, nil
}

// CancelOpenInputs closes every open input of a block execution and returns how many were closed.
func (s *Store) CancelOpenInputs(ctx context.Context, blockExecutionID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE user_inputs
SET cancelled_at = ?
WHERE block_execution_id = ? AND submitted_at IS NULL AND cancelled_at IS NULL;
`), formatTime(at), blockExecutionID)
	if err != nil {
		return 0, fmt.Errorf("cancel inputs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// ListInputs returns a release's inputs oldest first; pendingOnly keeps open ones.
func (s *Store) ListInputs(ctx context.Context, releaseID string, pendingOnly bool) ([]UserInput, error) {
	query := `SELECT ` + inputColumns + ` FROM user_inputs WHERE release_id = ?`
	if pendingOnly {
		query += ` AND submitted_at IS NULL AND cancelled_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC;`
	rows, err := s.db.QueryContext(ctx, s.q(query), releaseID)
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	defer rows.Close()

	var out []UserInput
	for rows.Next() {
		in, err := scanInput(rows)
		if err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		out = append(out, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inputs: %w", err)
	}
	return out, nil
}

// OpenInputForBlock returns the newest open input of a block execution, or ErrNotFound.
func (s *Store) OpenInputForBlock(ctx context.Context, blockExecutionID string) (*UserInput, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT `+inputColumns+` FROM user_inputs
WHERE block_execution_id = ? AND submitted_at IS NULL AND cancelled_at IS NULL
ORDER BY created_at DESC
LIMIT 1;
`), blockExecutionID)
	in, err := scanInput(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open input for %s: %w", blockExecutionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return in, nil
}

func scanInput(row rowScanner) (*UserInput, error) {
	var (
		in          UserInput
		purpose     string
		inputType   string
		options     string
		required    int
		value       sql.NullString
		by          sql.NullString
		submittedAt sql.NullString
		cancelledAt sql.NullString
		createdAt   string
	)
	if err := row.Scan(&in.ID, &in.ReleaseID, &in.BlockExecutionID, &purpose, &in.Prompt, &inputType, &options,
		&required, &value, &by, &submittedAt, &cancelledAt, &createdAt); err != nil {
		return nil, err
	}
	in.Purpose = InputPurpose(purpose)
	in.InputType = InputType(inputType)
	in.Options = decodeList(options)
	in.Required = required != 0
	in.SubmittedValue = nullString(value)
	in.SubmittedBy = nullString(by)
	in.SubmittedAt = parseNullTime(submittedAt)
	in.CancelledAt = parseNullTime(cancelledAt)
	in.CreatedAt = parseTime(createdAt)
	return &in, nil
}
