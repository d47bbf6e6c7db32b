package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

func encode(t *testing.T, item crawler.QueueItem) string {
	t.Helper()
	data, err := json.Marshal(item)
	require.NoError(t, err)
	return string(data)
}

func TestEnqueuePushesJSON(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	q := New(db, Config{})
	item := crawler.QueueItem{ID: "run-1", Request: crawler.RunRequest{CompanyID: "c-1", Mode: crawler.ModeVerify}, Attempt: 1}

	mock.ExpectLPush(DefaultKey, encode(t, item)).SetVal(1)
	require.NoError(t, q.Enqueue(context.Background(), item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueError(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	q := New(db, Config{Key: "runs"})
	item := crawler.QueueItem{ID: "run-1"}

	mock.ExpectLPush("runs", encode(t, item)).SetErr(errors.New("READONLY"))
	err := q.Enqueue(context.Background(), item)
	assert.ErrorContains(t, err, "READONLY")
}

func TestDequeueRetriesOnTimeout(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	q := New(db, Config{Key: "runs", PollTimeout: 50 * time.Millisecond})
	item := crawler.QueueItem{ID: "run-2", Request: crawler.RunRequest{CompanyName: "Acme", Mode: crawler.ModeDiscover}}

	mock.ExpectBRPop(50*time.Millisecond, "runs").RedisNil()
	mock.ExpectBRPop(50*time.Millisecond, "runs").SetVal([]string{"runs", encode(t, item)})

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, item, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueBadPayload(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	q := New(db, Config{Key: "runs", PollTimeout: time.Second})
	mock.ExpectBRPop(time.Second, "runs").SetVal([]string{"runs", "{not json"})

	_, err := q.Dequeue(context.Background())
	assert.ErrorContains(t, err, "decode queue item")
}

func TestDequeueCanceled(t *testing.T) {
	t.Parallel()

	db, _ := redismock.NewClientMock()
	q := New(db, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLen(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	q := New(db, Config{})
	mock.ExpectLLen(DefaultKey).SetVal(3)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
