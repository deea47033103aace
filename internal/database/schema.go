package database

const schema = `
CREATE TABLE IF NOT EXISTS lookup_run (
	id              UUID PRIMARY KEY,
	strategy        TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	rows_total      INTEGER NOT NULL DEFAULT 0,
	rows_resolved   INTEGER NOT NULL DEFAULT 0,
	rows_degraded   INTEGER NOT NULL DEFAULT 0,
	write_failures  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS jan_lookup (
	run_id       UUID NOT NULL REFERENCES lookup_run(id) ON DELETE CASCADE,
	row_number   INTEGER NOT NULL,
	source_url   TEXT NOT NULL,
	jan          TEXT NOT NULL DEFAULT '',
	identifier   TEXT NOT NULL DEFAULT '',
	image_url    TEXT NOT NULL DEFAULT '',
	target_url   TEXT NOT NULL DEFAULT '',
	lookup_url   TEXT NOT NULL DEFAULT '',
	stage        TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, row_number)
);

CREATE INDEX IF NOT EXISTS idx_jan_lookup_identifier ON jan_lookup (identifier) WHERE identifier <> '';

CREATE TABLE IF NOT EXISTS outbox_event (
	id              UUID PRIMARY KEY,
	aggregate_type  TEXT NOT NULL,
	aggregate_id    TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	payload         JSONB NOT NULL,
	target_stream   TEXT NOT NULL,
	status          TEXT NOT NULL,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	processed_at    TIMESTAMPTZ,
	next_retry_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at);
`
