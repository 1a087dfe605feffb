package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = errors.New("notification: not found")

const timeLayout = "2006-01-02T15:04:05.000Z"

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Notification is a stored user-facing message.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	RuleID    string     `json:"rule_id,omitempty"`
	RuleName  string     `json:"rule_name,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Filter controls which notifications ListByUser returns.
type Filter struct {
	UnreadOnly bool
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult is one page of notifications.
type ListResult struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	Unread        int            `json:"unread"`
	Limit         int            `json:"limit"`
	Offset        int            `json:"offset"`
}

// Repository defines notification persistence.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, filter Filter) (*ListResult, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
}

// SQLiteRepository stores notifications in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new notification repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts n. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, n *Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("notification: user id is required")
	}
	if n.ID == "" {
		n.ID = "ntf-" + uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, rule_id, rule_name, read_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body,
		nullableString(n.RuleID), nullableString(n.RuleName),
		nullableTime(n.ReadAt),
		n.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListByUser returns the user's notifications, newest first.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	conditions := []string{"user_id = ?"}
	args := []any{userID}
	if filter.UnreadOnly {
		conditions = append(conditions, "read_at IS NULL")
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	result := &ListResult{Limit: filter.Limit, Offset: filter.Offset}

	//nolint:gosec // WHERE built from fixed conditions with ? placeholders
	countQuery := "SELECT COUNT(*), COALESCE(SUM(CASE WHEN read_at IS NULL THEN 1 ELSE 0 END), 0) FROM notifications " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&result.Total, &result.Unread); err != nil {
		return nil, fmt.Errorf("counting notifications: %w", err)
	}

	//nolint:gosec // WHERE built from fixed conditions with ? placeholders
	query := `SELECT id, user_id, type, title, body, rule_id, rule_name, read_at, created_at
		FROM notifications ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	result.Notifications = make([]Notification, 0, filter.Limit)
	for rows.Next() {
		var (
			n                Notification
			ruleID, ruleName sql.NullString
			readAt           sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &ruleID, &ruleName, &readAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.RuleID = ruleID.String
		n.RuleName = ruleName.String
		n.CreatedAt, _ = time.Parse(timeLayout, createdAt) //nolint:errcheck // written by Create
		if readAt.Valid {
			if t, err := time.Parse(timeLayout, readAt.String); err == nil {
				n.ReadAt = &t
			}
		}
		result.Notifications = append(result.Notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return result, nil
}

// MarkRead sets read_at on an unread notification owned by userID.
// Marking an already read notification is a no-op.
func (r *SQLiteRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ? AND user_id = ?`,
		at.UTC().Format(timeLayout), id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
