package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Default and maximum page sizes for ListByRule.
const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// SQLiteLogStore implements ExecutionLogStore using SQLite.
type SQLiteLogStore struct {
	db *sql.DB
}

// NewSQLiteLogStore creates a new SQLite-backed execution log store.
func NewSQLiteLogStore(db *sql.DB) *SQLiteLogStore {
	return &SQLiteLogStore{db: db}
}

// Create inserts an execution log entry. A missing ID or timestamp is filled in.
func (s *SQLiteLogStore) Create(ctx context.Context, entry *ExecutionLogEntry) error {
	if entry.ID == "" {
		entry.ID = GenerateID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	steps := entry.StepResults
	if steps == nil {
		steps = []StepResult{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshalling step results: %w", err)
	}

	query := `
		INSERT INTO execution_logs (
			id, rule_id, rule_name, user_id, trigger_slug, path, status,
			step_results, output_text, error_text, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.RuleID,
		entry.RuleName,
		entry.UserID,
		entry.TriggerSlug,
		string(entry.Path),
		string(entry.Status),
		string(stepsJSON),
		nullableString(entry.Output),
		nullableString(entry.Error),
		entry.DurationMS,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting execution log: %w", err)
	}
	return nil
}

// GetStats aggregates a user's execution history. A user with no runs gets
// zero values rather than an error.
func (s *SQLiteLogStore) GetStats(ctx context.Context, userID string) (*ExecutionStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(duration_ms), 0.0)
		FROM execution_logs WHERE user_id = ?`

	var total, succeeded int
	var avg float64
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&total, &succeeded, &avg); err != nil {
		return nil, fmt.Errorf("querying execution stats: %w", err)
	}

	stats := &ExecutionStats{TotalRuns: total, AvgDurationMS: avg}
	if total > 0 {
		stats.SuccessRate = float64(succeeded) / float64(total)
	}
	return stats, nil
}

// ListByRule returns the most recent executions for a rule, newest first.
func (s *SQLiteLogStore) ListByRule(ctx context.Context, ruleID string, limit int) ([]ExecutionLogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	query := `
		SELECT id, rule_id, rule_name, user_id, trigger_slug, path, status,
		       step_results, output_text, error_text, duration_ms, created_at
		FROM execution_logs WHERE rule_id = ?
		ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying execution logs: %w", err)
	}
	defer rows.Close()

	var entries []ExecutionLogEntry
	for rows.Next() {
		entry, scanErr := scanLogRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution log: %w", scanErr)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution logs: %w", err)
	}
	return entries, nil
}

func scanLogRow(scanner rowScanner) (*ExecutionLogEntry, error) {
	var e ExecutionLogEntry
	var path, status, stepsJSON, createdAt string
	var output, errText sql.NullString

	err := scanner.Scan(
		&e.ID,
		&e.RuleID,
		&e.RuleName,
		&e.UserID,
		&e.TriggerSlug,
		&path,
		&status,
		&stepsJSON,
		&output,
		&errText,
		&e.DurationMS,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.Path = InvocationPath(path)
	e.Status = ExecutionStatus(status)
	e.Output = output.String
	e.Error = errText.String
	e.CreatedAt = parseTime(createdAt)
	if stepsJSON != "" {
		if jsonErr := json.Unmarshal([]byte(stepsJSON), &e.StepResults); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling step results: %w", jsonErr)
		}
	}
	return &e, nil
}
