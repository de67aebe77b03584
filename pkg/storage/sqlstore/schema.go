package sqlstore

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaSQLite creates the tables on SQLite.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	priority INTEGER NOT NULL,
	is_active INTEGER NOT NULL,
	approval_state TEXT NOT NULL,
	archived INTEGER NOT NULL,
	revision INTEGER NOT NULL,
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_versions (
	policy_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	body TEXT NOT NULL,
	changed_by TEXT NOT NULL,
	note TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (policy_id, version)
);

CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	vendor_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	body TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_vendor ON events (vendor_id, seq);

CREATE TABLE IF NOT EXISTS cases (
	case_number TEXT PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	vendor_id TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	status TEXT NOT NULL,
	severity TEXT NOT NULL,
	assigned_to TEXT NOT NULL,
	sla_deadline TEXT NOT NULL,
	created_at TEXT NOT NULL,
	version INTEGER NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cases_sla ON cases (status, sla_deadline);
CREATE INDEX IF NOT EXISTS idx_cases_vendor ON cases (vendor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_cases_policy ON cases (policy_id);

CREATE TABLE IF NOT EXISTS case_actions (
	id TEXT PRIMARY KEY,
	case_number TEXT NOT NULL REFERENCES cases (case_number),
	seq INTEGER NOT NULL,
	action TEXT NOT NULL,
	performed_by TEXT NOT NULL,
	notes TEXT NOT NULL,
	ts TEXT NOT NULL,
	UNIQUE (case_number, seq)
);

CREATE TABLE IF NOT EXISTS vendor_profiles (
	vendor_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS action_failures (
	id TEXT PRIMARY KEY,
	vendor_id TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	error TEXT NOT NULL,
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_failures_vendor ON action_failures (vendor_id, occurred_at);
`

// schemaPostgres creates the tables on PostgreSQL.
const schemaPostgres = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	priority INTEGER NOT NULL,
	is_active BOOLEAN NOT NULL,
	approval_state TEXT NOT NULL,
	archived BOOLEAN NOT NULL,
	revision BIGINT NOT NULL,
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_versions (
	policy_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	body TEXT NOT NULL,
	changed_by TEXT NOT NULL,
	note TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (policy_id, version)
);

CREATE TABLE IF NOT EXISTS events (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	vendor_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	body TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_vendor ON events (vendor_id, seq);

CREATE TABLE IF NOT EXISTS cases (
	case_number TEXT PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	vendor_id TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	status TEXT NOT NULL,
	severity TEXT NOT NULL,
	assigned_to TEXT NOT NULL,
	sla_deadline TEXT NOT NULL,
	created_at TEXT NOT NULL,
	version BIGINT NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cases_sla ON cases (status, sla_deadline);
CREATE INDEX IF NOT EXISTS idx_cases_vendor ON cases (vendor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_cases_policy ON cases (policy_id);

CREATE TABLE IF NOT EXISTS case_actions (
	id TEXT PRIMARY KEY,
	case_number TEXT NOT NULL REFERENCES cases (case_number),
	seq INTEGER NOT NULL,
	action TEXT NOT NULL,
	performed_by TEXT NOT NULL,
	notes TEXT NOT NULL,
	ts TEXT NOT NULL,
	UNIQUE (case_number, seq)
);

CREATE TABLE IF NOT EXISTS vendor_profiles (
	vendor_id TEXT PRIMARY KEY,
	version BIGINT NOT NULL,
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS action_failures (
	id TEXT PRIMARY KEY,
	vendor_id TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	error TEXT NOT NULL,
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_failures_vendor ON action_failures (vendor_id, occurred_at);
`

const insertSchemaVersion = `INSERT INTO schema_version (version) VALUES (?) ON CONFLICT (version) DO NOTHING`

const getSchemaVersion = `SELECT MAX(version) FROM schema_version`
