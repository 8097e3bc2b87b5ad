// Package mocks provides mock implementations of the core ports for testing the resize pipeline.
//
// This package uses go.uber.org/mock (gomock). The mocks are generated from internal/core with
// the go:generate directives below and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	jobs := mocks.NewMockJobRepository(ctrl)
//	jobs.EXPECT().Settle(gomock.Any(), "job-1").Return(settlement, nil)
package mocks

// Generate mock for TaskRepository interface from internal/core package.
// Methods: Create, GetByID, ReserveNext, WaitForNotification, Heartbeat, Complete, Fail, Stats
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_repository_mock.go github.com/target/smart-resizer/internal/core TaskRepository

// Generate mock for JobRepository interface from internal/core package.
// Methods: Create, GetByID, GetForOwner, MarkProcessing, MarkFailed, Settle, ReopenForRetry
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/smart-resizer/internal/core JobRepository

// Generate mock for ResultRepository interface from internal/core package.
// Methods: Upsert, ListByJob
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=result_repository_mock.go github.com/target/smart-resizer/internal/core ResultRepository

// Generate mock for ReaperRepository interface from internal/core package.
// Methods: FailStaleJobs, FailStalePendingTasks, DeleteOldTasks
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/smart-resizer/internal/core ReaperRepository

// Generate mock for ObjectStore interface from internal/core package.
// Methods: Put, Get, PublicURL
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=object_store_mock.go github.com/target/smart-resizer/internal/core ObjectStore

// Generate mock for Transformer interface from internal/core package.
// Methods: DetectContentType, ReadMetadata, Resize
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=transformer_mock.go github.com/target/smart-resizer/internal/core Transformer

// Generate mock for RateLimiter interface from internal/core package.
// Methods: Allow
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=rate_limiter_mock.go github.com/target/smart-resizer/internal/core RateLimiter

// Generate mock for TaskQueue interface from internal/core package.
// Methods: Enqueue
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_queue_mock.go github.com/target/smart-resizer/internal/core TaskQueue

// Generate mock for JobNotifier interface from internal/core package.
// Methods: NotifyJobEvent
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_notifier_mock.go github.com/target/smart-resizer/internal/core JobNotifier
