package store

const postgresMigration = `
CREATE TABLE IF NOT EXISTS source_records (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	source_type  TEXT NOT NULL,
	raw_text     TEXT NOT NULL,
	actor        TEXT,
	actor_email  TEXT,
	title        TEXT,
	channel      TEXT,
	occurred_at  TIMESTAMPTZ,
	metadata     JSONB NOT NULL DEFAULT '{}',
	processed    BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_source_records_ws_created ON source_records(workspace_id, created_at, id);

CREATE TABLE IF NOT EXISTS processing_records (
	id                        TEXT PRIMARY KEY,
	workspace_id              TEXT NOT NULL,
	source_ref                TEXT NOT NULL UNIQUE,
	source_type               TEXT NOT NULL,
	text                      TEXT NOT NULL,
	text_length               INTEGER NOT NULL,
	actor                     TEXT,
	actor_email               TEXT,
	title                     TEXT,
	channel                   TEXT,
	occurred_at               TIMESTAMPTZ,
	metadata                  JSONB NOT NULL DEFAULT '{}',
	removed_elements          JSONB,
	processing_stage          TEXT NOT NULL DEFAULT 'pending'
		CHECK (processing_stage IN ('pending','scored','chunked','classified','extracted','completed')),
	scored_at                 TIMESTAMPTZ,
	chunked_at                TIMESTAMPTZ,
	classified_at             TIMESTAMPTZ,
	extracted_at              TIMESTAMPTZ,
	lock_token                TEXT,
	locked_at                 TIMESTAMPTZ,
	signal_score              DOUBLE PRECISION,
	signal_reasons            JSONB,
	skip_ai_processing        BOOLEAN NOT NULL DEFAULT false,
	is_feature_relevant       BOOLEAN,
	classification_score      DOUBLE PRECISION,
	classification_confidence DOUBLE PRECISION,
	insights                  JSONB,
	feature_request_id        TEXT,
	retry_count               INTEGER NOT NULL DEFAULT 0,
	processing_error          TEXT,
	error_kind                TEXT,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_processing_records_claim
	ON processing_records(processing_stage, created_at, id) WHERE lock_token IS NULL;
CREATE INDEX IF NOT EXISTS idx_processing_records_ws_stage ON processing_records(workspace_id, processing_stage);
CREATE INDEX IF NOT EXISTS idx_processing_records_locked ON processing_records(locked_at) WHERE lock_token IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_processing_records_skip_ai ON processing_records(skip_ai_processing);

CREATE TABLE IF NOT EXISTS record_chunks (
	id                        TEXT PRIMARY KEY,
	record_id                 TEXT NOT NULL REFERENCES processing_records(id) ON DELETE CASCADE,
	workspace_id              TEXT NOT NULL,
	chunk_index               INTEGER NOT NULL,
	text                      TEXT NOT NULL,
	token_estimate            INTEGER NOT NULL,
	start_offset              INTEGER NOT NULL,
	end_offset                INTEGER NOT NULL,
	speakers                  JSONB,
	start_seconds             DOUBLE PRECISION,
	end_seconds               DOUBLE PRECISION,
	strategy                  TEXT NOT NULL,
	classified_at             TIMESTAMPTZ,
	is_feature_relevant       BOOLEAN,
	classification_score      DOUBLE PRECISION,
	classification_confidence DOUBLE PRECISION,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (record_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS normalization_skips (
	source_ref   TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	reason       TEXT NOT NULL,
	text_length  INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feature_requests (
	id             TEXT PRIMARY KEY,
	workspace_id   TEXT NOT NULL,
	feature_key    TEXT NOT NULL,
	title          TEXT NOT NULL,
	product_area   TEXT,
	mention_count  INTEGER NOT NULL DEFAULT 0,
	max_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	first_seen_at  TIMESTAMPTZ NOT NULL,
	last_seen_at   TIMESTAMPTZ NOT NULL,
	notion_page_id TEXT,
	synced_at      TIMESTAMPTZ,
	UNIQUE (workspace_id, feature_key)
);

CREATE TABLE IF NOT EXISTS actor_roles (
	workspace_id TEXT NOT NULL,
	email        TEXT NOT NULL,
	role         TEXT NOT NULL,
	PRIMARY KEY (workspace_id, email)
);
`

// SQLite stores timestamps as fixed-width UTC TEXT (see db.FormatTime) and
// booleans as INTEGER.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS source_records (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	source_type  TEXT NOT NULL,
	raw_text     TEXT NOT NULL,
	actor        TEXT,
	actor_email  TEXT,
	title        TEXT,
	channel      TEXT,
	occurred_at  TEXT,
	metadata     TEXT NOT NULL DEFAULT '{}',
	processed    INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_source_records_ws_created ON source_records(workspace_id, created_at, id);

CREATE TABLE IF NOT EXISTS processing_records (
	id                        TEXT PRIMARY KEY,
	workspace_id              TEXT NOT NULL,
	source_ref                TEXT NOT NULL UNIQUE,
	source_type               TEXT NOT NULL,
	text                      TEXT NOT NULL,
	text_length               INTEGER NOT NULL,
	actor                     TEXT,
	actor_email               TEXT,
	title                     TEXT,
	channel                   TEXT,
	occurred_at               TEXT,
	metadata                  TEXT NOT NULL DEFAULT '{}',
	removed_elements          TEXT,
	processing_stage          TEXT NOT NULL DEFAULT 'pending'
		CHECK (processing_stage IN ('pending','scored','chunked','classified','extracted','completed')),
	scored_at                 TEXT,
	chunked_at                TEXT,
	classified_at             TEXT,
	extracted_at              TEXT,
	lock_token                TEXT,
	locked_at                 TEXT,
	signal_score              REAL,
	signal_reasons            TEXT,
	skip_ai_processing        INTEGER NOT NULL DEFAULT 0,
	is_feature_relevant       INTEGER,
	classification_score      REAL,
	classification_confidence REAL,
	insights                  TEXT,
	feature_request_id        TEXT,
	retry_count               INTEGER NOT NULL DEFAULT 0,
	processing_error          TEXT,
	error_kind                TEXT,
	created_at                TEXT NOT NULL,
	updated_at                TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_records_claim ON processing_records(processing_stage, created_at, id);
CREATE INDEX IF NOT EXISTS idx_processing_records_ws_stage ON processing_records(workspace_id, processing_stage);
CREATE INDEX IF NOT EXISTS idx_processing_records_locked ON processing_records(lock_token, locked_at);
CREATE INDEX IF NOT EXISTS idx_processing_records_skip_ai ON processing_records(skip_ai_processing);

CREATE TABLE IF NOT EXISTS record_chunks (
	id                        TEXT PRIMARY KEY,
	record_id                 TEXT NOT NULL REFERENCES processing_records(id) ON DELETE CASCADE,
	workspace_id              TEXT NOT NULL,
	chunk_index               INTEGER NOT NULL,
	text                      TEXT NOT NULL,
	token_estimate            INTEGER NOT NULL,
	start_offset              INTEGER NOT NULL,
	end_offset                INTEGER NOT NULL,
	speakers                  TEXT,
	start_seconds             REAL,
	end_seconds               REAL,
	strategy                  TEXT NOT NULL,
	classified_at             TEXT,
	is_feature_relevant       INTEGER,
	classification_score      REAL,
	classification_confidence REAL,
	created_at                TEXT NOT NULL,
	UNIQUE (record_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS normalization_skips (
	source_ref   TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	reason       TEXT NOT NULL,
	text_length  INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feature_requests (
	id             TEXT PRIMARY KEY,
	workspace_id   TEXT NOT NULL,
	feature_key    TEXT NOT NULL,
	title          TEXT NOT NULL,
	product_area   TEXT,
	mention_count  INTEGER NOT NULL DEFAULT 0,
	max_confidence REAL NOT NULL DEFAULT 0,
	first_seen_at  TEXT NOT NULL,
	last_seen_at   TEXT NOT NULL,
	notion_page_id TEXT,
	synced_at      TEXT,
	UNIQUE (workspace_id, feature_key)
);

CREATE TABLE IF NOT EXISTS actor_roles (
	workspace_id TEXT NOT NULL,
	email        TEXT NOT NULL,
	role         TEXT NOT NULL,
	PRIMARY KEY (workspace_id, email)
);
`
