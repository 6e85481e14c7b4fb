package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipatrol/patrol/internal/logger"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	return NewStorage(setupTestManager(t), logger.NewNopLogger())
}

func TestStorage_SaveAndGetEvent(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	event := NewEvent(EventTypeMotionDetected, "events/bob_1.jpg", "bob")
	id, err := storage.SaveEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, id, event.ID)

	got, err := storage.GetEvent(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bob", got.PersonName)
	assert.Equal(t, "events/bob_1.jpg", got.FilePath)
}

func TestStorage_SaveEvent_Nil(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.SaveEvent(context.Background(), nil)
	assert.Error(t, err)
}

func TestStorage_GetEvent_NotFound(t *testing.T) {
	storage := setupTestStorage(t)

	got, err := storage.GetEvent(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStorage_ListAndCount(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	for _, et := range []string{EventTypeMotionDetected, EventTypeMotionRecorded, EventTypeMotionDetected} {
		_, err := storage.SaveEvent(ctx, NewEvent(et, "", ""))
		require.NoError(t, err)
	}

	events, total, err := storage.ListEvents(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, events, 2)
	assert.Greater(t, events[0].ID, events[1].ID)

	count, err := storage.CountEvents(ctx, EventTypeMotionDetected)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = storage.CountEvents(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
