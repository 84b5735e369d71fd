package store

// Times are stored as unix nanoseconds; 0 means never.
const schema = `
CREATE TABLE IF NOT EXISTS update_records (
	app_id                       TEXT PRIMARY KEY,
	package_name                 TEXT NOT NULL,
	last_check_time              INTEGER NOT NULL DEFAULT 0,
	last_completion_time         INTEGER NOT NULL DEFAULT 0,
	last_request_succeeded       INTEGER NOT NULL DEFAULT 0,
	last_requested_shell_version INTEGER NOT NULL DEFAULT 0,
	should_force_update          INTEGER NOT NULL DEFAULT 0,
	relaxed_updates              INTEGER NOT NULL DEFAULT 0,
	update_scheduled             INTEGER NOT NULL DEFAULT 0,
	pending_update_request_path  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_update_records_scheduled ON update_records(update_scheduled);
`
