package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Flags are the per-message boolean annotations.
type Flags struct {
	Starred      bool
	Pinned       bool
	DeletedForMe bool
}

// SetStarred flips the star marker on a message.
func (db *DB) SetStarred(messageID string, v bool) error {
	return db.setFlag(messageID, "starred", v)
}

// SetPinned flips the pin marker on a message.
func (db *DB) SetPinned(messageID string, v bool) error {
	return db.setFlag(messageID, "pinned", v)
}

// SetDeletedForMe hides a message locally. The canonical log is untouched.
func (db *DB) SetDeletedForMe(messageID string, v bool) error {
	return db.setFlag(messageID, "deleted", v)
}

func (db *DB) setFlag(messageID, column string, v bool) error {
	val := 0
	if v {
		val = 1
	}
	// column is one of the fixed flag names above, never user input
	q := fmt.Sprintf(`
		INSERT INTO annotations (message_id, %[1]s, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(message_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at
	`, column)
	if _, err := db.sql.Exec(q, messageID, val); err != nil {
		return fmt.Errorf("setting %s: %w", column, err)
	}
	return nil
}

// GetFlags returns the annotation flags for a message. Unannotated messages
// return the zero value.
func (db *DB) GetFlags(messageID string) (Flags, error) {
	var f Flags
	err := db.sql.QueryRow(
		"SELECT starred, pinned, deleted FROM annotations WHERE message_id = ?",
		messageID,
	).Scan(&f.Starred, &f.Pinned, &f.DeletedForMe)
	if err == sql.ErrNoRows {
		return Flags{}, nil
	}
	if err != nil {
		return Flags{}, fmt.Errorf("loading flags: %w", err)
	}
	return f, nil
}

// ToggleReaction adds or removes an emoji reaction on a message and reports
// whether it is present afterwards.
func (db *DB) ToggleReaction(messageID, emoji string) (bool, error) {
	res, err := db.sql.Exec(
		"DELETE FROM reactions WHERE message_id = ? AND emoji = ?",
		messageID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("removing reaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	if _, err := db.sql.Exec(
		"INSERT INTO reactions (message_id, emoji) VALUES (?, ?)",
		messageID, emoji,
	); err != nil {
		return false, fmt.Errorf("adding reaction: %w", err)
	}
	return true, nil
}

// Reactions lists the reactions on a message in insertion order.
func (db *DB) Reactions(messageID string) ([]string, error) {
	rows, err := db.sql.Query(
		"SELECT emoji FROM reactions WHERE message_id = ? ORDER BY created_at, emoji",
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing reactions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetReplyLink records that messageID quotes replyToID, with a text preview.
func (db *DB) SetReplyLink(messageID, replyToID, preview string) error {
	_, err := db.sql.Exec(`
		INSERT INTO reply_links (message_id, reply_to_id, preview)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET reply_to_id = excluded.reply_to_id, preview = excluded.preview
	`, messageID, replyToID, preview)
	if err != nil {
		return fmt.Errorf("setting reply link: %w", err)
	}
	return nil
}

// ReplyLink returns the quoted message id and preview for messageID, or
// ok=false when the message carries no reply link.
func (db *DB) ReplyLink(messageID string) (replyToID, preview string, ok bool, err error) {
	err = db.sql.QueryRow(
		"SELECT reply_to_id, preview FROM reply_links WHERE message_id = ?",
		messageID,
	).Scan(&replyToID, &preview)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("loading reply link: %w", err)
	}
	return replyToID, preview, true, nil
}

// Migrate moves every annotation keyed by a correlation id onto the
// canonical id assigned at reconciliation. Reactions merge; flag and reply
// rows move only if the canonical key has none yet.
func (db *DB) Migrate(correlationID, canonicalID string) error {
	tx, err := db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin migrate: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE OR IGNORE annotations SET message_id = ? WHERE message_id = ?",
		canonicalID, correlationID,
	); err != nil {
		return fmt.Errorf("migrating flags: %w", err)
	}
	if _, err := tx.Exec(
		"UPDATE OR IGNORE reactions SET message_id = ? WHERE message_id = ?",
		canonicalID, correlationID,
	); err != nil {
		return fmt.Errorf("migrating reactions: %w", err)
	}
	if _, err := tx.Exec(
		"UPDATE OR IGNORE reply_links SET message_id = ? WHERE message_id = ?",
		canonicalID, correlationID,
	); err != nil {
		return fmt.Errorf("migrating reply links: %w", err)
	}
	// leftovers are rows whose canonical twin already existed
	for _, table := range []string{"annotations", "reactions", "reply_links"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE message_id = ?", correlationID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// Block records userID as blocked at the given cutoff time. Inbound messages
// from the user timestamped after the cutoff are dropped by the router.
func (db *DB) Block(userID int64, at time.Time) error {
	_, err := db.sql.Exec(`
		INSERT INTO blocked_users (user_id, blocked_at)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET blocked_at = excluded.blocked_at
	`, userID, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("blocking user %d: %w", userID, err)
	}
	return nil
}

// Unblock removes userID from the blocked set.
func (db *DB) Unblock(userID int64) error {
	if _, err := db.sql.Exec("DELETE FROM blocked_users WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("unblocking user %d: %w", userID, err)
	}
	return nil
}

// Blocks loads the whole blocked set with cutoff times. The session keeps
// a mirror of it in memory and serves the inbound path from that copy.
func (db *DB) Blocks() (map[int64]time.Time, error) {
	rows, err := db.sql.Query("SELECT user_id, blocked_at FROM blocked_users")
	if err != nil {
		return nil, fmt.Errorf("loading blocked users: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]time.Time)
	for rows.Next() {
		var userID int64
		var raw string
		if err := rows.Scan(&userID, &raw); err != nil {
			return nil, fmt.Errorf("scanning blocked user: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing block time for user %d: %w", userID, err)
		}
		out[userID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading blocked users: %w", err)
	}
	return out, nil
}

// BlockedAt returns the block cutoff for userID, or ok=false when the user
// is not blocked.
func (db *DB) BlockedAt(userID int64) (time.Time, bool, error) {
	var raw string
	err := db.sql.QueryRow(
		"SELECT blocked_at FROM blocked_users WHERE user_id = ?", userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("loading block for user %d: %w", userID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing block time for user %d: %w", userID, err)
	}
	return t, true, nil
}
