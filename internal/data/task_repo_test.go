package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/testutil"
)

func newTaskRequest(priority int) *model.CreateTaskRequest {
	return &model.CreateTaskRequest{
		Type:     model.TaskTypeResize,
		Payload:  json.RawMessage(`{"job_id":"x"}`),
		Priority: priority,
	}
}

func TestTaskRepo_CreateValidation(t *testing.T) {
	repo := NewTaskRepo(nil, RepoConfig{})

	_, err := repo.Create(context.Background(), nil)
	require.Error(t, err)

	_, err = repo.Create(context.Background(), &model.CreateTaskRequest{Type: "bogus", Payload: json.RawMessage(`{}`)})
	require.ErrorContains(t, err, "invalid task type")

	_, err = repo.ReserveNext(context.Background(), model.TaskTypeResize, 0)
	require.ErrorContains(t, err, "leaseSeconds")
}

func TestTaskRepo_ReserveOrdersByPriority(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewTaskRepo(db, RepoConfig{})

	low, err := repo.Create(ctx, newTaskRequest(10))
	require.NoError(t, err)
	high, err := repo.Create(ctx, newTaskRequest(90))
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, low.Status)
	assert.Equal(t, 3, low.MaxRetries)

	first, err := repo.ReserveNext(ctx, model.TaskTypeResize, 30)
	require.NoError(t, err)
	assert.Equal(t, high.ID, first.ID)
	assert.Equal(t, model.TaskStatusRunning, first.Status)
	require.NotNil(t, first.LeaseExpiresAt)

	second, err := repo.ReserveNext(ctx, model.TaskTypeResize, 30)
	require.NoError(t, err)
	assert.Equal(t, low.ID, second.ID)

	_, err = repo.ReserveNext(ctx, model.TaskTypeResize, 30)
	require.ErrorIs(t, err, model.ErrNoTasksAvailable)

	stats, err := repo.Stats(ctx, model.TaskTypeResize)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Running)
}

func TestTaskRepo_CompleteAndHeartbeat(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewTaskRepo(db, RepoConfig{})

	_, err := repo.Create(ctx, newTaskRequest(0))
	require.NoError(t, err)
	task, err := repo.ReserveNext(ctx, model.TaskTypeResize, 30)
	require.NoError(t, err)

	ok, err := repo.Heartbeat(ctx, task.ID, 60)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Complete(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Complete(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second completion must not match a non-running row")

	ok, err = repo.Heartbeat(ctx, task.ID, 60)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestTaskRepo_FailRetriesThenGivesUp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	clock := NewFixedTimeProvider(testutil.TestTime())
	repo := NewTaskRepo(db, RepoConfig{TimeProvider: clock, RetryDelaySeconds: 5})

	req := newTaskRequest(0)
	req.MaxRetries = 2
	_, err := repo.Create(ctx, req)
	require.NoError(t, err)

	task, err := repo.ReserveNext(ctx, model.TaskTypeResize, 30)
	require.NoError(t, err)
	ok, err := repo.Fail(ctx, task.ID, "first")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = repo.ReserveNext(ctx, model.TaskTypeResize, 30)
	require.ErrorIs(t, err, model.ErrNoTasksAvailable, "retry delay not yet elapsed")

	clock.AddTime(6 * time.Second)
	task, err = repo.ReserveNext(ctx, model.TaskTypeResize, 30)
	require.NoError(t, err)
	ok, err = repo.Fail(ctx, task.ID, "second")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "second", *got.LastError)
}

func TestTaskRepo_ExpiredLeaseIsRequeued(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	clock := NewFixedTimeProvider(testutil.TestTime())
	repo := NewTaskRepo(db, RepoConfig{TimeProvider: clock})

	_, err := repo.Create(ctx, newTaskRequest(0))
	require.NoError(t, err)
	first, err := repo.ReserveNext(ctx, model.TaskTypeResize, 10)
	require.NoError(t, err)

	clock.AddTime(11 * time.Second)
	again, err := repo.ReserveNext(ctx, model.TaskTypeResize, 10)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestTaskRepo_WaitForNotification(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTaskRepo(db, RepoConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- repo.WaitForNotification(ctx, model.TaskTypeResize) }()

	// Keep inserting until the listener has subscribed and picks one up.
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			return
		case <-tick.C:
			_, err := repo.Create(context.Background(), newTaskRequest(0))
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("no notification received")
		}
	}
}

func TestTaskRepo_GetByIDNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTaskRepo(db, RepoConfig{})
	_, err := repo.GetByID(context.Background(), "7f1c2a9e-0d55-4c1b-8d6e-5b1a2c3d4e5f")
	require.ErrorIs(t, err, ErrTaskNotFound)
}
