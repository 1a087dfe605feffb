package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/triggerflow-core/internal/automation"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	// Matches migrations/20260301_000002_notifications.up.sql
	_, err = db.Exec(`
		CREATE TABLE notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			rule_id TEXT,
			rule_name TEXT,
			read_at TEXT,
			created_at TEXT NOT NULL
		) STRICT;`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRepository(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, title := range []string{"first", "second", "third"} {
		n := &Notification{UserID: "u1", Type: "execution_success", Title: title, RuleID: "r1", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, repo.Create(ctx, n))
		assert.NotEmpty(t, n.ID)
	}
	require.NoError(t, repo.Create(ctx, &Notification{UserID: "u2", Type: "execution_failure", Title: "other"}))

	page, err := repo.ListByUser(ctx, "u1", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 3, page.Unread)
	assert.Equal(t, defaultLimit, page.Limit)
	require.Len(t, page.Notifications, 3)
	assert.Equal(t, "third", page.Notifications[0].Title, "newest first")
	assert.Equal(t, "r1", page.Notifications[0].RuleID)
	assert.Empty(t, page.Notifications[0].RuleName)

	require.NoError(t, repo.MarkRead(ctx, page.Notifications[0].ID, "u1", base.Add(time.Hour)))
	require.NoError(t, repo.MarkRead(ctx, page.Notifications[0].ID, "u1", base.Add(2*time.Hour)), "idempotent")

	unread, err := repo.ListByUser(ctx, "u1", Filter{UnreadOnly: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, unread.Total)
	assert.Equal(t, 2, unread.Unread)
	require.Len(t, unread.Notifications, 1)
	assert.Equal(t, "second", unread.Notifications[0].Title)

	all, err := repo.ListByUser(ctx, "u1", Filter{Limit: 1000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, all.Limit)
	assert.Zero(t, all.Offset)
	require.NotNil(t, all.Notifications[0].ReadAt)
	assert.True(t, all.Notifications[0].ReadAt.Equal(base.Add(time.Hour)), "first read time kept")

	err = repo.MarkRead(ctx, page.Notifications[1].ID, "u2", base)
	assert.ErrorIs(t, err, ErrNotFound, "other users cannot mark")

	assert.Error(t, repo.Create(ctx, &Notification{Title: "orphan"}))
}

type fakeBroker struct {
	mu       sync.Mutex
	topic    string
	payload  []byte
	retained bool
	err      error
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topic, b.payload, b.retained = topic, payload, retained
	return b.err
}

type memRepo struct {
	created []*Notification
	err     error
}

func (m *memRepo) Create(_ context.Context, n *Notification) error {
	if m.err != nil {
		return m.err
	}
	n.ID = "ntf-test"
	m.created = append(m.created, n)
	return nil
}

func (m *memRepo) ListByUser(context.Context, string, Filter) (*ListResult, error) {
	return &ListResult{}, nil
}

func (m *memRepo) MarkRead(context.Context, string, string, time.Time) error { return nil }

type warnLogger struct{ warned int }

func (l *warnLogger) Warn(string, ...any) { l.warned++ }

func TestFanoutPersistsThenPushes(t *testing.T) {
	repo := &memRepo{}
	broker := &fakeBroker{}
	pub := NewMQTTPublisher(broker, func(userID string) string { return "triggerflow/notify/" + userID })
	sink := NewFanout(repo, pub, nil)

	err := sink.Notify(context.Background(), automation.Notification{
		UserID: "u1", Type: "execution_success", Title: `Rule "Billing" completed`, Body: "ok", RuleID: "r1", RuleName: "Billing",
	})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)

	assert.Equal(t, "triggerflow/notify/u1", broker.topic)
	assert.False(t, broker.retained)
	var pushed Notification
	require.NoError(t, json.Unmarshal(broker.payload, &pushed))
	assert.Equal(t, "ntf-test", pushed.ID)
	assert.Equal(t, "Billing", pushed.RuleName)
}

func TestFanoutPushFailureIsLogged(t *testing.T) {
	logger := &warnLogger{}
	broker := &fakeBroker{err: errors.New("not connected")}
	sink := NewFanout(&memRepo{}, NewMQTTPublisher(broker, func(u string) string { return u }), logger)

	require.NoError(t, sink.Notify(context.Background(), automation.Notification{UserID: "u1"}))
	assert.Equal(t, 1, logger.warned)
}

func TestFanoutStoreFailureIsReturned(t *testing.T) {
	broker := &fakeBroker{}
	sink := NewFanout(&memRepo{err: errors.New("disk full")}, NewMQTTPublisher(broker, func(u string) string { return u }), nil)

	err := sink.Notify(context.Background(), automation.Notification{UserID: "u1"})
	assert.Error(t, err)
	assert.Empty(t, broker.topic, "nothing pushed when storage fails")

	require.NoError(t, NewFanout(&memRepo{}, nil, nil).Notify(context.Background(), automation.Notification{UserID: "u1"}))
}
