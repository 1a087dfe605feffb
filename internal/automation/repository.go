package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is the fixed-width UTC format used for every stored timestamp,
// so that lexical comparison in SQL matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z"

// ruleColumns is the SELECT column list for rule queries.
const ruleColumns = `id, user_id, name, description, priority, accepted_triggers, topic_condition,
			execution_steps, output_config, activation_mode, schedule_enabled, schedule_interval,
			schedule_next_run, schedule_last_run, is_active, execution_count, last_executed_at,
			created_at, updated_at`

// SQLiteRuleStore implements RuleStore using SQLite.
type SQLiteRuleStore struct {
	db *sql.DB
}

// NewSQLiteRuleStore creates a new SQLite-backed rule store.
func NewSQLiteRuleStore(db *sql.DB) *SQLiteRuleStore {
	return &SQLiteRuleStore{db: db}
}

// GetByID retrieves a rule by its unique identifier regardless of owner.
func (r *SQLiteRuleStore) GetByID(ctx context.Context, id string) (*ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM execution_rules WHERE id = ?`
	return r.queryOne(ctx, query, id)
}

// GetByIDAndUser retrieves a rule only if it belongs to userID.
func (r *SQLiteRuleStore) GetByIDAndUser(ctx context.Context, id, userID string) (*ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM execution_rules WHERE id = ? AND user_id = ?`
	return r.queryOne(ctx, query, id, userID)
}

// GetActiveByUserID returns the user's active rules ordered by priority, highest first.
func (r *SQLiteRuleStore) GetActiveByUserID(ctx context.Context, userID string) ([]ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM execution_rules
		WHERE user_id = ? AND is_active = 1
		ORDER BY priority DESC, created_at, id`
	return r.queryRules(ctx, query, userID)
}

// ListByUser returns every rule owned by userID, active or not.
func (r *SQLiteRuleStore) ListByUser(ctx context.Context, userID string) ([]ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM execution_rules
		WHERE user_id = ? ORDER BY priority DESC, name`
	return r.queryRules(ctx, query, userID)
}

// GetScheduledRulesDue returns active, schedule-enabled rules whose next run
// is unset or at or before now, across all users.
func (r *SQLiteRuleStore) GetScheduledRulesDue(ctx context.Context, now time.Time) ([]ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM execution_rules
		WHERE is_active = 1
		  AND schedule_enabled = 1
		  AND activation_mode IN ('scheduled', 'all')
		  AND (schedule_next_run IS NULL OR schedule_next_run <= ?)
		ORDER BY schedule_next_run, priority DESC`
	return r.queryRules(ctx, query, formatTime(now))
}

// Create inserts a new rule. Missing ID and timestamps are filled in.
func (r *SQLiteRuleStore) Create(ctx context.Context, rule *ExecutionRule) error {
	if rule.ID == "" {
		rule.ID = GenerateID()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	cols, err := encodeRuleColumns(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO execution_rules (
			id, user_id, name, description, priority, accepted_triggers, topic_condition,
			execution_steps, output_config, activation_mode, schedule_enabled, schedule_interval,
			schedule_next_run, schedule_last_run, is_active, execution_count, last_executed_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.UserID,
		rule.Name,
		nullableString(rule.Description),
		rule.Priority,
		cols.triggers,
		rule.TopicCondition,
		cols.steps,
		cols.output,
		string(rule.ActivationMode),
		boolToInt(rule.ScheduleEnabled),
		nullableString(string(rule.ScheduleInterval)),
		nullableTime(rule.ScheduleNextRun),
		nullableTime(rule.ScheduleLastRun),
		boolToInt(rule.IsActive),
		rule.ExecutionCount,
		nullableTime(rule.LastExecutedAt),
		formatTime(rule.CreatedAt),
		formatTime(rule.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule's definition. Counters and schedule run
// times are left to IncrementExecutionCount and UpdateScheduleRun.
func (r *SQLiteRuleStore) Update(ctx context.Context, rule *ExecutionRule) error {
	cols, err := encodeRuleColumns(rule)
	if err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE execution_rules SET
			name = ?, description = ?, priority = ?, accepted_triggers = ?, topic_condition = ?,
			execution_steps = ?, output_config = ?, activation_mode = ?, schedule_enabled = ?,
			schedule_interval = ?, is_active = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rule.Name,
		nullableString(rule.Description),
		rule.Priority,
		cols.triggers,
		rule.TopicCondition,
		cols.steps,
		cols.output,
		string(rule.ActivationMode),
		boolToInt(rule.ScheduleEnabled),
		nullableString(string(rule.ScheduleInterval)),
		boolToInt(rule.IsActive),
		formatTime(rule.UpdatedAt),
		rule.ID,
		rule.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes a rule owned by userID.
func (r *SQLiteRuleStore) Delete(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM execution_rules WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return expectOneRow(result)
}

// IncrementExecutionCount bumps execution_count and sets last_executed_at.
func (r *SQLiteRuleStore) IncrementExecutionCount(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE execution_rules
		SET execution_count = execution_count + 1, last_executed_at = ?
		WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("incrementing execution count: %w", err)
	}
	return expectOneRow(result)
}

// UpdateScheduleRun records a scheduled attempt.
func (r *SQLiteRuleStore) UpdateScheduleRun(ctx context.Context, id string, run ScheduleRun) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE execution_rules
		SET schedule_last_run = ?, schedule_next_run = ?
		WHERE id = ?`, formatTime(run.LastRun), formatTime(run.NextRun), id)
	if err != nil {
		return fmt.Errorf("updating schedule run: %w", err)
	}
	return expectOneRow(result)
}

func (r *SQLiteRuleStore) queryOne(ctx context.Context, query string, args ...any) (*ExecutionRule, error) {
	rule, err := scanRuleRow(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule: %w", err)
	}
	return rule, nil
}

func (r *SQLiteRuleStore) queryRules(ctx context.Context, query string, args ...any) ([]ExecutionRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []ExecutionRule
	for rows.Next() {
		rule, scanErr := scanRuleRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type ruleJSONColumns struct {
	triggers string
	steps    string
	output   string
}

func encodeRuleColumns(rule *ExecutionRule) (ruleJSONColumns, error) {
	triggers := rule.AcceptedTriggers
	if triggers == nil {
		triggers = []string{}
	}
	triggersJSON, err := json.Marshal(triggers)
	if err != nil {
		return ruleJSONColumns{}, fmt.Errorf("marshalling accepted triggers: %w", err)
	}
	steps := rule.ExecutionSteps
	if steps == nil {
		steps = Steps{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return ruleJSONColumns{}, fmt.Errorf("marshalling execution steps: %w", err)
	}
	outputJSON, err := json.Marshal(rule.OutputConfig)
	if err != nil {
		return ruleJSONColumns{}, fmt.Errorf("marshalling output config: %w", err)
	}
	return ruleJSONColumns{
		triggers: string(triggersJSON),
		steps:    string(stepsJSON),
		output:   string(outputJSON),
	}, nil
}

func scanRuleRow(scanner rowScanner) (*ExecutionRule, error) {
	var rule ExecutionRule
	var description, interval, nextRun, lastRun, lastExecuted sql.NullString
	var triggersJSON, stepsJSON, outputJSON, mode string
	var scheduleEnabled, isActive int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.Name,
		&description,
		&rule.Priority,
		&triggersJSON,
		&rule.TopicCondition,
		&stepsJSON,
		&outputJSON,
		&mode,
		&scheduleEnabled,
		&interval,
		&nextRun,
		&lastRun,
		&isActive,
		&rule.ExecutionCount,
		&lastExecuted,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.ActivationMode = ActivationMode(mode)
	rule.ScheduleEnabled = scheduleEnabled != 0
	rule.ScheduleInterval = ScheduleInterval(interval.String)
	rule.IsActive = isActive != 0
	rule.ScheduleNextRun = parseNullableTime(nextRun)
	rule.ScheduleLastRun = parseNullableTime(lastRun)
	rule.LastExecutedAt = parseNullableTime(lastExecuted)
	rule.CreatedAt = parseTime(createdAt)
	rule.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(triggersJSON), &rule.AcceptedTriggers); err != nil {
		return nil, fmt.Errorf("unmarshalling accepted triggers: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &rule.ExecutionSteps); err != nil {
		return nil, fmt.Errorf("unmarshalling execution steps: %w", err)
	}
	if outputJSON != "" {
		if err := json.Unmarshal([]byte(outputJSON), &rule.OutputConfig); err != nil {
			return nil, fmt.Errorf("unmarshalling output config: %w", err)
		}
	}
	return &rule, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
