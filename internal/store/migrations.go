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

CREATE TABLE IF NOT EXISTS processed_messages (
	message_id     TEXT PRIMARY KEY,
	thread_id      TEXT NOT NULL DEFAULT '',
	sender_address TEXT NOT NULL DEFAULT '',
	subject        TEXT NOT NULL DEFAULT '',
	processed_at   DATETIME NOT NULL,
	responded_at   DATETIME
);

CREATE TABLE IF NOT EXISTS sessions (
	sender_key TEXT PRIMARY KEY,
	handle     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_processed_messages_unanswered
	ON processed_messages(processed_at) WHERE responded_at IS NULL;

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
