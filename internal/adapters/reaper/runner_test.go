package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/smart-resizer/config"
	"github.com/target/smart-resizer/internal/mocks"
)

func testConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:         time.Minute,
		PendingMaxAge:    time.Hour,
		ProcessingMaxAge: 2 * time.Hour,
		TaskRetention:    24 * time.Hour,
		BatchSize:        10,
	}
}

func TestNewRunner_RequiresDatabaseOrRepo(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Config: testConfig()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection is required")
}

func TestNewRunner_RejectsInvalidConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := testConfig()
	cfg.Interval = 0

	_, err := NewRunner(RunnerOptions{Config: cfg, Repo: mocks.NewMockReaperRepository(ctrl)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire reaper service")
}

func TestRunner_RunOnceUsesInjectedRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().FailStaleJobs(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
	repo.EXPECT().FailStalePendingTasks(gomock.Any(), time.Hour, 10).Return(int64(0), nil)
	gomock.InOrder(
		repo.EXPECT().DeleteOldTasks(gomock.Any(), gomock.Any()).Return(int64(3), nil),
		repo.EXPECT().DeleteOldTasks(gomock.Any(), gomock.Any()).Return(int64(0), nil),
	)

	r, err := NewRunner(RunnerOptions{Config: testConfig(), Repo: repo})
	require.NoError(t, err)
	require.NoError(t, r.RunOnce(context.Background()))
}
