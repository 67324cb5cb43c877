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

CREATE TABLE IF NOT EXISTS browse_sessions (
	id         TEXT PRIMARY KEY,
	account    TEXT NOT NULL,
	mailbox    TEXT NOT NULL,
	search     TEXT NOT NULL DEFAULT '',
	cursor     INTEGER CHECK(cursor IS NULL OR cursor >= 0),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account, mailbox, search)
);

CREATE TABLE IF NOT EXISTS sequence_snapshots (
	session_id TEXT PRIMARY KEY REFERENCES browse_sessions(id) ON DELETE CASCADE,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS page_memory (
	account    TEXT NOT NULL,
	mailbox    TEXT NOT NULL,
	page       INTEGER NOT NULL CHECK(page >= 1),
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (account, mailbox)
);

CREATE TABLE IF NOT EXISTS message_cache (
	account    TEXT NOT NULL,
	mailbox    TEXT NOT NULL,
	uid        INTEGER NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	sender     TEXT NOT NULL DEFAULT '',
	recipients TEXT NOT NULL DEFAULT '[]',
	date       DATETIME NOT NULL,
	flags      TEXT NOT NULL DEFAULT '[]',
	size       INTEGER NOT NULL DEFAULT 0,
	fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (account, mailbox, uid)
);

CREATE INDEX IF NOT EXISTS idx_message_cache_mailbox ON message_cache(account, mailbox);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
