package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/data"
	"github.com/target/smart-resizer/internal/domain/format"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/mocks"
	"github.com/target/smart-resizer/internal/observability/notify"
)

var masterBytes = []byte("master-image")

type workerFixture struct {
	jobs        *mocks.MockJobRepository
	results     *mocks.MockResultRepository
	store       *mocks.MockObjectStore
	transformer *mocks.MockTransformer
	notifier    *mocks.MockJobNotifier
	sink        *recordingSink
	worker      *ResizeWorker
}

func newWorkerFixture(t *testing.T, timeout time.Duration) *workerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &workerFixture{
		jobs:        mocks.NewMockJobRepository(ctrl),
		results:     mocks.NewMockResultRepository(ctrl),
		store:       mocks.NewMockObjectStore(ctrl),
		transformer: mocks.NewMockTransformer(ctrl),
		notifier:    mocks.NewMockJobNotifier(ctrl),
		sink:        &recordingSink{},
	}
	w, err := NewResizeWorker(ResizeWorkerOptions{
		Jobs:              f.jobs,
		Results:           f.results,
		Store:             f.store,
		Transformer:       f.transformer,
		Catalog:           format.Builtin(),
		Notifier:          f.notifier,
		Metrics:           f.sink,
		FormatConcurrency: 2,
		FormatTimeout:     timeout,
	})
	require.NoError(t, err)
	f.worker = w
	return f
}

func resizeTask(t *testing.T, attempt int, keys ...string) *model.Task {
	t.Helper()
	payload, err := json.Marshal(model.ResizePayload{
		JobID:       "job-1",
		OwnerID:     "owner-1",
		MasterRef:   "masters/owner-1/job-1.png",
		ContentType: "image/png",
		FormatKeys:  keys,
		Quality:     85,
		Workflow:    json.RawMessage(`{"workflow_type":"smart_resizer","fit":"contain","background":"#ffffff"}`),
		Attempt:     attempt,
	})
	require.NoError(t, err)
	return &model.Task{ID: "task-1", Type: model.TaskTypeResize, Payload: payload, MaxRetries: 3}
}

func rendered(req core.ResizeRequest) *core.ResizeOutput {
	return &core.ResizeOutput{
		Data:        []byte("jpeg"),
		ContentType: "image/jpeg",
		Ext:         "jpg",
		Width:       req.Width,
		Height:      req.Height,
	}
}

// collectUpserts records every result the worker writes.
func (f *workerFixture) collectUpserts() (func() map[string]model.UpsertResultParams, *gomock.Call) {
	var mu sync.Mutex
	got := map[string]model.UpsertResultParams{}
	call := f.results.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p model.UpsertResultParams) (*model.Result, error) {
			mu.Lock()
			defer mu.Unlock()
			got[p.FormatKey] = p
			return &model.Result{JobID: p.JobID, FormatKey: p.FormatKey, Status: p.Status}, nil
		}).AnyTimes()
	return func() map[string]model.UpsertResultParams {
		mu.Lock()
		defer mu.Unlock()
		return got
	}, call
}

func settlement(status model.JobStatus, changed bool, p model.Progress) *core.Settlement {
	return &core.Settlement{
		Job: &model.Job{
			ID:               "job-1",
			OwnerID:          "owner-1",
			RequestedFormats: []string{"instagram_square", "twitter_post"},
			Workflow:         json.RawMessage(`{"workflow_type":"smart_resizer"}`),
			Status:           status,
		},
		Progress: p,
		Changed:  changed,
	}
}

func TestResizeWorker_Handle_RendersEveryFormat(t *testing.T) {
	f := newWorkerFixture(t, time.Second)
	ctx := context.Background()

	f.jobs.EXPECT().MarkProcessing(ctx, "job-1").Return(true, nil)
	f.results.EXPECT().ListByJob(ctx, "job-1").Return(nil, nil)
	f.store.EXPECT().Get(ctx, "masters/owner-1/job-1.png").Return(masterBytes, nil).Times(1)
	f.transformer.EXPECT().Resize(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req core.ResizeRequest) (*core.ResizeOutput, error) {
			assert.Equal(t, masterBytes, req.Source)
			assert.Equal(t, "contain", req.Fit)
			assert.Equal(t, "#ffffff", req.Background)
			assert.Equal(t, 85, req.Quality)
			return rendered(req), nil
		}).Times(2)
	f.store.EXPECT().Put(gomock.Any(), "outputs/job-1/instagram_square.jpg", []byte("jpeg"), "image/jpeg").
		Return("outputs/job-1/instagram_square.jpg", nil)
	f.store.EXPECT().Put(gomock.Any(), "outputs/job-1/twitter_post.jpg", []byte("jpeg"), "image/jpeg").
		Return("outputs/job-1/twitter_post.jpg", nil)
	upserts, _ := f.collectUpserts()
	f.jobs.EXPECT().Settle(ctx, "job-1").Return(
		settlement(model.JobStatusCompleted, true, model.Progress{Total: 2, Completed: 2, Percent: 100}), nil)
	f.notifier.EXPECT().NotifyJobEvent(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, e notify.JobEvent) {
			assert.Equal(t, notify.StatusCompleted, e.Status)
			assert.Equal(t, 2, e.Completed)
			assert.Empty(t, e.FailedFormats)
		})

	require.NoError(t, f.worker.Handle(ctx, resizeTask(t, 0, "instagram_square", "twitter_post")))

	got := upserts()
	require.Len(t, got, 2)
	sq := got["instagram_square"]
	assert.Equal(t, model.ResultStatusCompleted, sq.Status)
	require.NotNil(t, sq.OutputRef)
	assert.Equal(t, "outputs/job-1/instagram_square.jpg", *sq.OutputRef)
	assert.Equal(t, 1080, sq.Width)
	assert.Equal(t, 1080, sq.Height)
	assert.Equal(t, int64(4), sq.SizeBytes)
	assert.Equal(t, 900, got["twitter_post"].Height)

	assert.Len(t, f.sink.named("resize.format"), 2)
	assert.Len(t, f.sink.named("job.settled"), 1)
}

func TestResizeWorker_Handle_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newWorkerFixture(t, time.Second)
	f.jobs.EXPECT().MarkProcessing(gomock.Any(), "job-1").Return(false, nil)

	require.NoError(t, f.worker.Handle(context.Background(), resizeTask(t, 0, "instagram_square")))
}

func TestResizeWorker_Handle_MissingJobIsDropped(t *testing.T) {
	f := newWorkerFixture(t, time.Second)
	f.jobs.EXPECT().MarkProcessing(gomock.Any(), "job-1").Return(false, data.ErrJobNotFound)

	require.NoError(t, f.worker.Handle(context.Background(), resizeTask(t, 0, "instagram_square")))
}

func TestResizeWorker_Handle_SkipsCompletedFormats(t *testing.T) {
	f := newWorkerFixture(t, time.Second)
	ctx := context.Background()
	ref := "outputs/job-1/instagram_square.jpg"

	f.jobs.EXPECT().MarkProcessing(ctx, "job-1").Return(true, nil)
	f.results.EXPECT().ListByJob(ctx, "job-1").Return([]*model.Result{
		{JobID: "job-1", FormatKey: "instagram_square", Status: model.ResultStatusCompleted, OutputRef: &ref},
		{JobID: "job-1", FormatKey: "twitter_post", Status: model.ResultStatusFailed},
	}, nil)
	f.store.EXPECT().Get(ctx, gomock.Any()).Return(masterBytes, nil)
	f.transformer.EXPECT().Resize(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req core.ResizeRequest) (*core.ResizeOutput, error) {
			assert.Equal(t, 1600, req.Width)
			return rendered(req), nil
		}).Times(1)
	f.store.EXPECT().Put(gomock.Any(), "outputs/job-1/twitter_post.jpg", gomock.Any(), gomock.Any()).
		Return("outputs/job-1/twitter_post.jpg", nil)
	upserts, _ := f.collectUpserts()
	f.jobs.EXPECT().Settle(ctx, "job-1").Return(settlement(model.JobStatusProcessing, false, model.Progress{}), nil)

	require.NoError(t, f.worker.Handle(ctx, resizeTask(t, 1, "instagram_square", "twitter_post")))
	got := upserts()
	require.Len(t, got, 1)
	assert.Equal(t, model.ResultStatusCompleted, got["twitter_post"].Status)
}

func TestResizeWorker_Handle_UnitErrorsBecomeFailedResults(t *testing.T) {
	f := newWorkerFixture(t, 20*time.Millisecond)
	ctx := context.Background()

	f.jobs.EXPECT().MarkProcessing(ctx, "job-1").Return(true, nil)
	f.results.EXPECT().ListByJob(ctx, "job-1").Return(nil, nil)
	f.store.EXPECT().Get(ctx, gomock.Any()).Return(masterBytes, nil)
	f.transformer.EXPECT().Resize(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req core.ResizeRequest) (*core.ResizeOutput, error) {
			switch req.Width {
			case 1600: // twitter_post
				return nil, errors.New("decode: corrupt")
			case 1280: // youtube_thumbnail
				panic("nil dereference")
			case 1000: // pinterest_pin
				<-ctx.Done()
				return nil, ctx.Err()
			default: // instagram_square
				return rendered(req), nil
			}
		}).Times(4)
	f.store.EXPECT().Put(gomock.Any(), "outputs/job-1/instagram_square.jpg", gomock.Any(), gomock.Any()).
		Return("", errors.New("disk full"))
	upserts, _ := f.collectUpserts()
	f.jobs.EXPECT().Settle(ctx, "job-1").Return(
		settlement(model.JobStatusFailed, true, model.Progress{Total: 5, Failed: 5}), nil)
	f.notifier.EXPECT().NotifyJobEvent(ctx, gomock.Any())

	task := resizeTask(t, 0, "instagram_square", "twitter_post", "youtube_thumbnail", "pinterest_pin", "ghost")
	require.NoError(t, f.worker.Handle(ctx, task))

	got := upserts()
	require.Len(t, got, 5)
	reason := func(key string) string {
		p := got[key]
		assert.Equal(t, model.ResultStatusFailed, p.Status, key)
		require.NotNil(t, p.ErrorReason, key)
		return *p.ErrorReason
	}
	assert.Contains(t, reason("instagram_square"), "store output")
	assert.Contains(t, reason("twitter_post"), "decode: corrupt")
	assert.Contains(t, reason("youtube_thumbnail"), "panic")
	assert.Equal(t, "timed out after 20ms", reason("pinterest_pin"))
	assert.Contains(t, reason("ghost"), "unknown format")

	var timedOut int
	for _, m := range f.sink.named("resize.format") {
		if m.tags["timeout"] == "true" {
			timedOut++
		}
	}
	assert.Equal(t, 1, timedOut)
}

func TestResizeWorker_Handle_ResultWriteErrorIsReturned(t *testing.T) {
	f := newWorkerFixture(t, time.Second)
	ctx := context.Background()
	boom := errors.New("connection reset")

	f.jobs.EXPECT().MarkProcessing(ctx, "job-1").Return(true, nil)
	f.results.EXPECT().ListByJob(ctx, "job-1").Return(nil, nil)
	f.store.EXPECT().Get(ctx, gomock.Any()).Return(masterBytes, nil)
	f.transformer.EXPECT().Resize(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req core.ResizeRequest) (*core.ResizeOutput, error) {
			return rendered(req), nil
		})
	f.store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("ref", nil)
	f.results.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil, boom)

	err := f.worker.Handle(ctx, resizeTask(t, 0, "instagram_square"))
	require.ErrorIs(t, err, boom)
}

func TestResizeWorker_Handle_MasterUnavailable(t *testing.T) {
	t.Run("retried while attempts remain", func(t *testing.T) {
		f := newWorkerFixture(t, time.Second)
		f.jobs.EXPECT().MarkProcessing(gomock.Any(), "job-1").Return(true, nil)
		f.results.EXPECT().ListByJob(gomock.Any(), "job-1").Return(nil, nil)
		f.store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errors.New("no such file"))

		err := f.worker.Handle(context.Background(), resizeTask(t, 0, "instagram_square"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read master image")
	})

	t.Run("final attempt fails every format", func(t *testing.T) {
		f := newWorkerFixture(t, time.Second)
		f.jobs.EXPECT().MarkProcessing(gomock.Any(), "job-1").Return(true, nil)
		f.results.EXPECT().ListByJob(gomock.Any(), "job-1").Return(nil, nil)
		f.store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errors.New("no such file"))
		upserts, _ := f.collectUpserts()
		f.jobs.EXPECT().Settle(gomock.Any(), "job-1").Return(settlement(model.JobStatusFailed, false, model.Progress{}), nil)

		task := resizeTask(t, 0, "instagram_square", "twitter_post")
		task.RetryCount = 2
		require.NoError(t, f.worker.Handle(context.Background(), task))
		got := upserts()
		require.Len(t, got, 2)
		assert.Contains(t, *got["twitter_post"].ErrorReason, "master image unavailable")
	})
}

func TestResizeWorker_Handle_RejectsBadPayload(t *testing.T) {
	f := newWorkerFixture(t, time.Second)
	err := f.worker.Handle(context.Background(), &model.Task{ID: "t", Payload: json.RawMessage(`{"job_id":""}`)})
	require.Error(t, err)
}

func TestPendingKeys(t *testing.T) {
	results := []*model.Result{
		{FormatKey: "a", Status: model.ResultStatusCompleted},
		{FormatKey: "b", Status: model.ResultStatusFailed},
		nil,
	}
	assert.Equal(t, []string{"b", "c"}, pendingKeys([]string{"a", "b", "c", "b"}, results))
}
