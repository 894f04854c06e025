package sqlite

// schema is executed once at startup. Every statement is idempotent so that
// re-running it against an existing database never drops data.
const schema = `
CREATE TABLE IF NOT EXISTS task (
	task_id    TEXT PRIMARY KEY,
	prompt     TEXT NOT NULL,
	extra_args TEXT NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT 'pending',
	image_path TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_task_status_created ON task(status, created_at);
`
