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

CREATE TABLE IF NOT EXISTS notifications (
	user_id    INTEGER NOT NULL,
	id         INTEGER NOT NULL,
	position   INTEGER NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL DEFAULT '',
	read_at    DATETIME,
	action_url TEXT NOT NULL DEFAULT '',
	priority   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, id)
);

CREATE INDEX IF NOT EXISTS idx_notifications_position ON notifications(user_id, position);
CREATE INDEX IF NOT EXISTS idx_notifications_read_at ON notifications(user_id, read_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS inbox_state (
	user_id      INTEGER PRIMARY KEY,
	unread_count INTEGER NOT NULL DEFAULT 0 CHECK(unread_count >= 0),
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
