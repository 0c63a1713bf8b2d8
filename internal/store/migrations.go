package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails_sync (
	id          TEXT PRIMARY KEY,
	message_key TEXT NOT NULL,
	sender      TEXT NOT NULL,
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'new',
	received_at DATETIME NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source, message_key)
);

CREATE TABLE IF NOT EXISTS watermarks (
	key          TEXT PRIMARY KEY,
	ts           DATETIME NOT NULL,
	uid          INTEGER NOT NULL DEFAULT 0,
	uid_validity INTEGER NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_sync_received_at ON emails_sync(received_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_emails_sync_status
	ON emails_sync(status);

CREATE INDEX IF NOT EXISTS idx_emails_sync_created_at
	ON emails_sync(created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
