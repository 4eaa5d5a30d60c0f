package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// Message keys are TEXT: before reconciliation an annotation is keyed by the
// correlation id, after reconciliation by the canonical id. Migrate moves
// rows between the two.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create annotations and reactions",
		SQL: `
			CREATE TABLE annotations (
				message_id  TEXT PRIMARY KEY,
				starred     INTEGER NOT NULL DEFAULT 0,
				pinned      INTEGER NOT NULL DEFAULT 0,
				deleted     INTEGER NOT NULL DEFAULT 0,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE reactions (
				message_id  TEXT NOT NULL,
				emoji       TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				PRIMARY KEY (message_id, emoji)
			);
		`,
	},
	{
		Version: 2,
		Name:    "create reply links",
		SQL: `
			CREATE TABLE reply_links (
				message_id  TEXT PRIMARY KEY,
				reply_to_id TEXT NOT NULL,
				preview     TEXT NOT NULL DEFAULT ''
			);
		`,
	},
	{
		Version: 3,
		Name:    "create blocked users",
		SQL: `
			CREATE TABLE blocked_users (
				user_id     INTEGER PRIMARY KEY,
				blocked_at  TEXT NOT NULL
			);
		`,
	},
}
