package storage

// Timestamps are RFC3339Nano UTC strings and maps are JSON text on both
// backends, so the release store scans rows the same way everywhere.

var sharedTables = []string{
	`CREATE TABLE IF NOT EXISTS releases (
  id               TEXT PRIMARY KEY,
  project_id       TEXT NOT NULL,
  project_version  INTEGER NOT NULL DEFAULT 1,
  name             TEXT NOT NULL,
  description      TEXT NOT NULL DEFAULT '',
  parameter_values TEXT NOT NULL DEFAULT '{}',
  status           TEXT NOT NULL,
  started_by       TEXT NOT NULL DEFAULT '',
  plan             TEXT NOT NULL,
  user_paused      INTEGER NOT NULL DEFAULT 0,
  created_at       TEXT NOT NULL,
  started_at       TEXT,
  completed_at     TEXT,
  updated_at       TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS block_executions (
  id               TEXT PRIMARY KEY,
  release_id       TEXT NOT NULL REFERENCES releases(id) ON DELETE CASCADE,
  block_id         TEXT NOT NULL,
  block_type       TEXT NOT NULL,
  position         INTEGER NOT NULL,
  status           TEXT NOT NULL,
  parameter_values TEXT NOT NULL DEFAULT '{}',
  manual_values    TEXT NOT NULL DEFAULT '{}',
  output_values    TEXT NOT NULL DEFAULT '{}',
  metadata         TEXT NOT NULL DEFAULT '{}',
  retry_count      INTEGER NOT NULL DEFAULT 0,
  max_retries      INTEGER NOT NULL DEFAULT 3,
  last_error       TEXT,
  next_attempt_at  TEXT,
  started_at       TEXT,
  completed_at     TEXT,
  updated_at       TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS execution_logs (
  id                 TEXT PRIMARY KEY,
  release_id         TEXT NOT NULL REFERENCES releases(id) ON DELETE CASCADE,
  block_execution_id TEXT NOT NULL,
  level              TEXT NOT NULL,
  message            TEXT NOT NULL,
  source             TEXT NOT NULL DEFAULT 'system',
  metadata           TEXT NOT NULL DEFAULT '{}',
  timestamp          TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS user_inputs (
  id                 TEXT PRIMARY KEY,
  release_id         TEXT NOT NULL REFERENCES releases(id) ON DELETE CASCADE,
  block_execution_id TEXT NOT NULL,
  purpose            TEXT NOT NULL DEFAULT 'action',
  prompt             TEXT NOT NULL,
  input_type         TEXT NOT NULL,
  options            TEXT NOT NULL DEFAULT '[]',
  required           INTEGER NOT NULL DEFAULT 1,
  submitted_value    TEXT,
  submitted_by       TEXT,
  submitted_at       TEXT,
  cancelled_at       TEXT,
  created_at         TEXT NOT NULL
);`,
}

var sharedIndexes = []string{
	`CREATE INDEX IF NOT EXISTS releases_status_idx ON releases(status);`,
	`CREATE INDEX IF NOT EXISTS releases_project_created_idx ON releases(project_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS block_executions_release_idx ON block_executions(release_id, position);`,
	`CREATE INDEX IF NOT EXISTS execution_logs_block_ts_idx ON execution_logs(block_execution_id, timestamp);`,
	`CREATE INDEX IF NOT EXISTS user_inputs_release_idx ON user_inputs(release_id);`,
	`CREATE INDEX IF NOT EXISTS events_release_seq_idx ON events(release_id, seq);`,
	`CREATE INDEX IF NOT EXISTS events_block_seq_idx ON events(block_execution_id, seq);`,
}

func sqliteSchema() []string {
	stmts := append([]string{}, sharedTables...)
	stmts = append(stmts, `CREATE TABLE IF NOT EXISTS events (
  seq                INTEGER PRIMARY KEY AUTOINCREMENT,
  release_id         TEXT NOT NULL,
  block_execution_id TEXT,
  type               TEXT NOT NULL,
  at                 TEXT NOT NULL,
  data               TEXT NOT NULL DEFAULT '{}'
);`)
	return append(stmts, sharedIndexes...)
}

func postgresSchema() []string {
	stmts := append([]string{}, sharedTables...)
	stmts = append(stmts, `CREATE TABLE IF NOT EXISTS events (
  seq                BIGSERIAL PRIMARY KEY,
  release_id         TEXT NOT NULL,
  block_execution_id TEXT,
  type               TEXT NOT NULL,
  at                 TEXT NOT NULL,
  data               TEXT NOT NULL DEFAULT '{}'
);`)
	return append(stmts, sharedIndexes...)
}

// Tables lists the tables every backend must carry.
func Tables() []string {
	return []string{"releases", "block_executions", "execution_logs", "user_inputs", "events"}
}
