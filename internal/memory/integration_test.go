//go:build integration
// +build integration

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrachat/intrachat/internal/testutil"
)

func setupStore(t *testing.T, maxSize int) (*Store, func()) {
	t.Helper()

	dbContainer, cleanup := testutil.SetupTestDB(t)

	store := NewStore(dbContainer.Pool, maxSize, slog.Default())
	if err := store.Bootstrap(context.Background()); err != nil {
		cleanup()
		t.Fatalf("Bootstrap failed: %v", err)
	}
	return store, cleanup
}

func TestStore_CreateAndGet_Integration(t *testing.T) {
	store, cleanup := setupStore(t, 100)
	defer cleanup()

	ctx := context.Background()

	session, err := store.Create(ctx, 42)
	require.NoError(t, err, "Create should not return error")
	require.NotNil(t, session)
	assert.NotEmpty(t, session.SessionID, "session ID should be assigned")
	assert.Equal(t, int64(42), session.UserID)
	assert.Empty(t, session.Messages, "new session starts empty")
	assert.NotZero(t, session.CreatedAt)

	retrieved, err := store.Get(ctx, 42, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, retrieved.SessionID)
	assert.Equal(t, session.UserID, retrieved.UserID)
	assert.Empty(t, retrieved.Messages)
}

func TestStore_GetUnknownSession_Integration(t *testing.T) {
	store, cleanup := setupStore(t, 100)
	defer cleanup()

	_, err := store.Get(context.Background(), 42, uuid.NewString())
	assert.True(t, errors.Is(err, ErrSessionNotFound), "expected ErrSessionNotFound, got %v", err)
}

func TestStore_GetWrongUser_Integration(t *testing.T) {
	store, cleanup := setupStore(t, 100)
	defer cleanup()

	ctx := context.Background()

	session, err := store.Create(ctx, 1)
	require.NoError(t, err)

	// Another user must not see the session.
	_, err = store.Get(ctx, 2, session.SessionID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestStore_AppendTurn_Integration(t *testing.T) {
	store, cleanup := setupStore(t, 100)
	defer cleanup()

	ctx := context.Background()

	session, err := store.Create(ctx, 7)
	require.NoError(t, err)

	messages, err := store.AppendTurn(ctx, session.SessionID, "hello", "hi there")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, RoleAssistant, messages[1].Role)
	assert.Equal(t, "hi there", messages[1].Content)

	// Round-trip through JSONB.
	retrieved, err := store.Get(ctx, 7, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, messages, retrieved.Messages)
}

func TestStore_AppendTurn_TrimsToMaxSize_Integration(t *testing.T) {
	store, cleanup := setupStore(t, 6)
	defer cleanup()

	ctx := context.Background()

	session, err := store.Create(ctx, 7)
	require.NoError(t, err)

	for i := range 5 {
		_, err := store.AppendTurn(ctx, session.SessionID,
			fmt.Sprintf("q-%d", i), fmt.Sprintf("a-%d", i))
		require.NoError(t, err)
	}

	retrieved, err := store.Get(ctx, 7, session.SessionID)
	require.NoError(t, err)
	require.Len(t, retrieved.Messages, 6, "history trimmed to max size")
	assert.Equal(t, "q-2", retrieved.Messages[0].Content, "oldest turns dropped")
	assert.Equal(t, "a-4", retrieved.Messages[5].Content, "newest turn at the tail")
}

func TestStore_AppendTurn_ConcurrentWriters_Integration(t *testing.T) {
	store, cleanup := setupStore(t, 100)
	defer cleanup()

	ctx := context.Background()

	session, err := store.Create(ctx, 7)
	require.NoError(t, err)

	// Concurrent appends to the same session serialize on the row lock,
	// so no turn is lost.
	const writers = 8
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.AppendTurn(ctx, session.SessionID,
				fmt.Sprintf("q-%d", n), fmt.Sprintf("a-%d", n))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	retrieved, err := store.Get(ctx, 7, session.SessionID)
	require.NoError(t, err)
	assert.Len(t, retrieved.Messages, writers*2)
}

func TestStore_AppendTurn_UnknownSession_Integration(t *testing.T) {
	store, cleanup := setupStore(t, 100)
	defer cleanup()

	_, err := store.AppendTurn(context.Background(), uuid.NewString(), "q", "a")
	assert.True(t, errors.Is(err, ErrSessionNotFound), "expected ErrSessionNotFound, got %v", err)
}
