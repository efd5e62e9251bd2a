package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/taskdesk/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and
	// serialises writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var v int
	if err := s.db.Get(&v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// ReplaceNotifications swaps the mirrored list in a single transaction.
func (s *SQLiteStore) ReplaceNotifications(
	ctx context.Context,
	userID int64,
	ns []model.Notification,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}

	const query = `
		INSERT OR REPLACE INTO notifications (
			user_id, id, position,
			type, title, message, data,
			read_at, action_url, priority, created_at
		) VALUES (
			?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, n := range ns {
		_, err = stmt.ExecContext(ctx,
			userID, n.ID, i,
			n.Type, n.Title, n.Message, string(n.Data),
			nullTime(n.ReadAt), n.ActionURL, string(n.Priority), n.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("inserting notification %d: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

// GetNotifications returns the mirrored list in stored order.
func (s *SQLiteStore) GetNotifications(
	ctx context.Context,
	userID int64,
) ([]model.Notification, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, type, title, message, data, read_at, action_url, priority, created_at
		FROM notifications WHERE user_id = ? ORDER BY position`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	notifications := []model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// SetReadAt updates the read timestamp of ids, or of every notification
// when ids is nil.
func (s *SQLiteStore) SetReadAt(
	ctx context.Context,
	userID int64,
	ids []int64,
	readAt *time.Time,
) error {
	if ids == nil {
		_, err := s.db.ExecContext(ctx,
			"UPDATE notifications SET read_at = ? WHERE user_id = ?",
			nullTime(readAt), userID,
		)
		if err != nil {
			return fmt.Errorf("updating read state: %w", err)
		}
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		"UPDATE notifications SET read_at = ? WHERE user_id = ? AND id IN (?)",
		nullTime(readAt), userID, ids,
	)
	if err != nil {
		return fmt.Errorf("building read state update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("updating read state: %w", err)
	}
	return nil
}

// DeleteNotifications removes ids from the mirror.
func (s *SQLiteStore) DeleteNotifications(
	ctx context.Context,
	userID int64,
	ids []int64,
) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		"DELETE FROM notifications WHERE user_id = ? AND id IN (?)",
		userID, ids,
	)
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("deleting notifications: %w", err)
	}
	return nil
}

// DeleteReadNotifications removes every read notification.
func (s *SQLiteStore) DeleteReadNotifications(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE user_id = ? AND read_at IS NOT NULL", userID,
	)
	if err != nil {
		return fmt.Errorf("deleting read notifications: %w", err)
	}
	return nil
}

// SetUnreadCount records the last known unread counter.
func (s *SQLiteStore) SetUnreadCount(ctx context.Context, userID int64, count int) error {
	if count < 0 {
		count = 0
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_state (user_id, unread_count, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		userID, count, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving unread count: %w", err)
	}
	return nil
}

// GetUnreadCount returns the last known unread counter, or 0.
func (s *SQLiteStore) GetUnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT unread_count FROM inbox_state WHERE user_id = ?", userID,
	)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading unread count: %w", err)
	}
	return count, nil
}

// Clear drops every mirrored row for userID.
func (s *SQLiteStore) Clear(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM inbox_state WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing inbox state: %w", err)
	}

	return tx.Commit()
}

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n        model.Notification
		data     string
		priority string
		readAt   sql.NullTime
	)

	err := rows.Scan(
		&n.ID, &n.Type, &n.Title, &n.Message, &data,
		&readAt, &n.ActionURL, &priority, &n.CreatedAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Priority = model.Priority(priority)
	if data != "" {
		n.Data = []byte(data)
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}

	return n, nil
}

// nullTime converts an optional timestamp for SQLite storage.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
