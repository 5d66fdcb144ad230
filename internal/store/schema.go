package store

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id          INTEGER PRIMARY KEY AUTOINCREMENT,
	directory       TEXT NOT NULL,
	status          TEXT NOT NULL,
	start_time      TEXT NOT NULL,
	last_updated    TEXT NOT NULL,
	total_files     INTEGER NOT NULL DEFAULT 0,
	processed_files INTEGER NOT NULL DEFAULT 0,
	error_files     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
	file_id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id                   INTEGER NOT NULL REFERENCES jobs(job_id),
	file_path                TEXT NOT NULL,
	file_type                TEXT NOT NULL,
	size_bytes               INTEGER NOT NULL,
	status                   TEXT NOT NULL,
	processing_started_at    TEXT,
	processing_time_seconds  REAL NOT NULL DEFAULT 0,
	error_message            TEXT NOT NULL DEFAULT '',
	metadata                 TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_files_job_path ON files(job_id, file_path);
CREATE INDEX IF NOT EXISTS idx_files_job_status ON files(job_id, status);

CREATE TABLE IF NOT EXISTS entities (
	entity_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id     INTEGER NOT NULL REFERENCES files(file_id),
	entity_type TEXT NOT NULL,
	text        TEXT NOT NULL,
	score       REAL NOT NULL,
	start_pos   INTEGER NOT NULL,
	end_pos     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_file ON entities(file_id);
`
