package eventlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alex/internal/config"
	"alex/internal/store"
	"alex/internal/task"
)

func TestNullableString(t *testing.T) {
	require.Nil(t, nullableString(""))
	require.Equal(t, "x", nullableString("x"))
}

func TestEventTypeStrings(t *testing.T) {
	got := eventTypeStrings([]task.EventType{task.EventCreated, task.EventUpdated})
	require.Equal(t, []string{"CREATED", "UPDATED"}, got)
}

// setupTestLog mirrors the teacher's TEST_DATABASE_URL skip pattern
// (internal/infra/kernel/postgres_store_test.go) for the one test below
// that needs a live database.
func setupTestLog(t *testing.T) (*Log, *store.Store) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	ctx := context.Background()
	db, err := store.Open(ctx, config.Database{DSN: dsn, MinConns: 1, MaxConns: 4, TLSMode: config.TLSPrefer}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return New(db, nil), db
}

func TestAppendIdempotencyKeyDedup(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()

	var first, second task.Event
	err := db.WithTransaction(ctx, 5*time.Second, func(ctx context.Context, q store.Queryer) error {
		var err error
		first, err = log.Append(ctx, q, task.Event{
			TaskID: "T1", EventType: task.EventCreated, IdempotencyKey: "key-1",
		})
		return err
	})
	require.NoError(t, err)

	err = db.WithTransaction(ctx, 5*time.Second, func(ctx context.Context, q store.Queryer) error {
		var err error
		second, err = log.Append(ctx, q, task.Event{
			TaskID: "T1", EventType: task.EventCreated, IdempotencyKey: "key-1",
		})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}
