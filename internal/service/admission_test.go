package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/smart-resizer/config"
	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/domain/format"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/domain/pricing"
	"github.com/target/smart-resizer/internal/mocks"
	"github.com/target/smart-resizer/internal/observability/notify"
)

var testImage = []byte("not-really-a-png")

type admissionFixture struct {
	jobs        *mocks.MockJobRepository
	store       *mocks.MockObjectStore
	transformer *mocks.MockTransformer
	queue       *mocks.MockTaskQueue
	limiter     *mocks.MockRateLimiter
	notifier    *mocks.MockJobNotifier
	sink        *recordingSink
	svc         *AdmissionService
}

func newAdmissionFixture(t *testing.T, cfg config.AdmissionConfig) *admissionFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &admissionFixture{
		jobs:        mocks.NewMockJobRepository(ctrl),
		store:       mocks.NewMockObjectStore(ctrl),
		transformer: mocks.NewMockTransformer(ctrl),
		queue:       mocks.NewMockTaskQueue(ctrl),
		limiter:     mocks.NewMockRateLimiter(ctrl),
		notifier:    mocks.NewMockJobNotifier(ctrl),
		sink:        &recordingSink{},
	}
	if cfg.MaxDimension == 0 {
		cfg.MaxDimension = 8192
	}
	svc, err := NewAdmissionService(AdmissionServiceOptions{
		Jobs:        f.jobs,
		Store:       f.store,
		Transformer: f.transformer,
		Queue:       f.queue,
		Catalog:     format.Builtin(),
		Pricing:     pricing.MustNewCalculator(pricing.DefaultTable()),
		Limiter:     f.limiter,
		Notifier:    f.notifier,
		Metrics:     f.sink,
		Config:      cfg,
		NewID:       func() string { return "job-1" },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *admissionFixture) expectImage(contentType string, width, height int) {
	f.transformer.EXPECT().DetectContentType(testImage).Return(contentType)
	f.transformer.EXPECT().ReadMetadata(testImage).Return(core.ImageMetadata{Width: width, Height: height, Format: "png"}, nil)
	f.transformer.EXPECT().Verify(testImage).Return(nil).AnyTimes()
}

func (f *admissionFixture) expectStored() {
	f.store.EXPECT().Put(gomock.Any(), "masters/owner-1/job-1.png", testImage, "image/png").
		Return("masters/owner-1/job-1.png", nil)
}

func (f *admissionFixture) expectCreate() *model.CreateJobParams {
	var captured model.CreateJobParams
	f.jobs.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p model.CreateJobParams) (*model.Job, error) {
			captured = p
			return jobFromParams(p), nil
		})
	return &captured
}

func jobFromParams(p model.CreateJobParams) *model.Job {
	return &model.Job{
		ID:               p.ID,
		OwnerID:          p.OwnerID,
		Master:           p.Master,
		RequestedFormats: p.RequestedFormats,
		Quality:          p.Quality,
		Priority:         p.Priority,
		Workflow:         p.Workflow,
		Quote:            p.Quote,
		Status:           model.JobStatusPending,
		CreatedAt:        time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func requireAdmissionKind(t *testing.T, err error, kind AdmissionKind) *AdmissionError {
	t.Helper()
	ae, ok := AsAdmissionError(err)
	require.True(t, ok, "expected AdmissionError, got %v", err)
	assert.Equal(t, kind, ae.Kind)
	return ae
}

func TestAdmissionService_Admit_Success(t *testing.T) {
	f := newAdmissionFixture(t, config.AdmissionConfig{DefaultQuality: 85})
	f.expectImage("image/png", 800, 600)
	f.expectStored()
	created := f.expectCreate()

	f.queue.EXPECT().Enqueue(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
			assert.Equal(t, model.TaskTypeResize, req.Type)
			assert.Equal(t, 7, req.Priority)
			require.NotNil(t, req.JobID)
			assert.Equal(t, "job-1", *req.JobID)

			p, err := model.DecodeResizePayload(req.Payload)
			require.NoError(t, err)
			assert.Equal(t, 0, p.Attempt)
			assert.Equal(t, []string{"instagram_square", "twitter_post"}, p.FormatKeys)
			assert.Equal(t, "masters/owner-1/job-1.png", p.MasterRef)
			return &model.Task{ID: "task-1"}, nil
		})
	f.store.EXPECT().PublicURL("masters/owner-1/job-1.png").Return("/files/masters/owner-1/job-1.png")

	got, err := f.svc.Admit(context.Background(), AdmissionRequest{
		OwnerID:  "owner-1",
		Image:    testImage,
		Formats:  []string{"instagram_square", " twitter_post", "instagram_square"},
		Priority: ptr(7),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.Job.ID)
	assert.Equal(t, model.JobStatusPending, got.Job.Status)
	assert.Equal(t, "/files/masters/owner-1/job-1.png", got.MasterURL)

	assert.Equal(t, []string{"instagram_square", "twitter_post"}, created.RequestedFormats)
	assert.Equal(t, 85, created.Quality)
	assert.Equal(t, 800, created.Master.Width)
	assert.Equal(t, int64(len(testImage)), created.Master.SizeBytes)
	assert.Nil(t, created.Quote, "smart_resizer is not priced")
	assert.JSONEq(t, `{"workflow_type":"smart_resizer","fit":"cover"}`, string(created.Workflow))

	outcomes := f.sink.named("job.admission")
	require.Len(t, outcomes, 1)
	assert.Equal(t, "OK", outcomes[0].tags["outcome"])
}

func TestAdmissionService_Admit_ReportsEveryUnknownFormat(t *testing.T) {
	f := newAdmissionFixture(t, config.AdmissionConfig{})
	f.expectImage("image/png", 800, 600)
	// No Put, Create, or Enqueue expectations: any call fails the test.

	_, err := f.svc.Admit(context.Background(), AdmissionRequest{
		OwnerID: "owner-1",
		Image:   testImage,
		Formats: []string{"instagram_square", "bogus", "twitter_post", "nope", "bogus"},
	})
	ae := requireAdmissionKind(t, err, KindInvalidFormats)
	assert.Equal(t, []string{"bogus", "nope"}, ae.InvalidFormats)
}

func TestAdmissionService_Admit_PackWithPricedWorkflow(t *testing.T) {
	f := newAdmissionFixture(t, config.AdmissionConfig{})
	f.expectImage("image/png", 800, 600)
	f.expectStored()
	created := f.expectCreate()
	f.queue.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(&model.Task{ID: "task-1"}, nil)
	f.store.EXPECT().PublicURL(gomock.Any()).Return("/files/x")

	_, err := f.svc.Admit(context.Background(), AdmissionRequest{
		OwnerID:  "owner-1",
		Image:    testImage,
		Pack:     "stories",
		Formats:  []string{"instagram_story", "twitter_post"},
		Workflow: json.RawMessage(`{"workflow_type":"nano_banana","model_tier":"pro","resolution":"2K"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"instagram_story", "facebook_story", "tiktok_cover", "twitter_post"}, created.RequestedFormats)
	require.NotNil(t, created.Quote)
	assert.Equal(t, pricing.TierPro, created.Quote.Tier)
	assert.Equal(t, pricing.Resolution2K, created.Quote.Resolution)
	assert.Equal(t, 4, created.Quote.UnitCount)
	assert.Equal(t, created.Quote.TotalRevenue-created.Quote.TotalCost, created.Quote.Profit)
}

func TestAdmissionService_Admit_ValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		ct     string
		width  int
		req    AdmissionRequest
		kind   AdmissionKind
		noMeta bool
	}{
		{
			name:   "missing file",
			req:    AdmissionRequest{Formats: []string{"instagram_square"}},
			kind:   KindMissingFile,
			noMeta: true,
		},
		{
			name:   "unsupported type",
			ct:     "application/pdf",
			req:    AdmissionRequest{Image: testImage, Formats: []string{"instagram_square"}},
			kind:   KindInvalidFileType,
			noMeta: true,
		},
		{
			name:  "too wide",
			ct:    "image/png",
			width: 9000,
			req:   AdmissionRequest{Image: testImage, Formats: []string{"instagram_square"}},
			kind:  KindImageTooLarge,
		},
		{
			name: "unknown pack",
			ct:   "image/png",
			req:  AdmissionRequest{Image: testImage, Pack: "everything"},
			kind: KindInvalidFormats,
		},
		{
			name: "no formats",
			ct:   "image/png",
			req:  AdmissionRequest{Image: testImage, Formats: []string{" ", ""}},
			kind: KindNoFormats,
		},
		{
			name: "quality out of range",
			ct:   "image/png",
			req:  AdmissionRequest{Image: testImage, Formats: []string{"instagram_square"}, Quality: ptr(0)},
			kind: KindInvalidQuality,
		},
		{
			name: "priority out of range",
			ct:   "image/png",
			req:  AdmissionRequest{Image: testImage, Formats: []string{"instagram_square"}, Priority: ptr(101)},
			kind: KindInvalidPriority,
		},
		{
			name: "unknown workflow",
			ct:   "image/png",
			req: AdmissionRequest{
				Image:    testImage,
				Formats:  []string{"instagram_square"},
				Workflow: json.RawMessage(`{"workflow_type":"teleport"}`),
			},
			kind: KindInvalidWorkflow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdmissionFixture(t, config.AdmissionConfig{})
			switch {
			case tt.req.Image == nil:
			case tt.noMeta:
				f.transformer.EXPECT().DetectContentType(testImage).Return(tt.ct)
			default:
				width := tt.width
				if width == 0 {
					width = 800
				}
				f.expectImage(tt.ct, width, 600)
			}

			tt.req.OwnerID = "owner-1"
			_, err := f.svc.Admit(context.Background(), tt.req)
			requireAdmissionKind(t, err, tt.kind)

			outcomes := f.sink.named("job.admission")
			require.Len(t, outcomes, 1)
			assert.Equal(t, string(tt.kind), outcomes[0].tags["outcome"])
		})
	}
}

func TestAdmissionService_Admit_UndecodableImage(t *testing.T) {
	f := newAdmissionFixture(t, config.AdmissionConfig{})
	f.transformer.EXPECT().DetectContentType(testImage).Return("image/png")
	f.transformer.EXPECT().ReadMetadata(testImage).Return(core.ImageMetadata{}, errors.New("png: invalid format"))

	_, err := f.svc.Admit(context.Background(), AdmissionRequest{OwnerID: "owner-1", Image: testImage, Formats: []string{"instagram_square"}})
	requireAdmissionKind(t, err, KindInvalidFileType)
}

func TestAdmissionService_Admit_TruncatedImage(t *testing.T) {
	f := newAdmissionFixture(t, config.AdmissionConfig{})
	f.transformer.EXPECT().DetectContentType(testImage).Return("image/png")
	f.transformer.EXPECT().ReadMetadata(testImage).Return(core.ImageMetadata{Width: 800, Height: 600, Format: "png"}, nil)
	f.transformer.EXPECT().Verify(testImage).Return(errors.New("unexpected EOF"))

	_, err := f.svc.Admit(context.Background(), AdmissionRequest{OwnerID: "owner-1", Image: testImage, Formats: []string{"instagram_square"}})
	requireAdmissionKind(t, err, KindInvalidFileType)
}

func TestAdmissionService_Admit_StorageFailureCreatesNothing(t *testing.T) {
	f := newAdmissionFixture(t, config.AdmissionConfig{})
	f.expectImage("image/png", 800, 600)
	f.store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("disk full"))

	_, err := f.svc.Admit(context.Background(), AdmissionRequest{OwnerID: "owner-1", Image: testImage, Formats: []string{"instagram_square"}})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "disk full")
}

func TestAdmissionService_Admit_EnqueueFailureFailsJob(t *testing.T) {
	f := newAdmissionFixture(t, config.AdmissionConfig{})
	f.expectImage("image/png", 800, 600)
	f.expectStored()
	f.expectCreate()
	f.queue.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(nil, errors.New("queue offline"))
	f.jobs.EXPECT().MarkFailed(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p core.MarkJobFailedParams) (bool, error) {
			assert.Equal(t, "job-1", p.ID)
			assert.True(t, strings.HasPrefix(p.Reason, "enqueue failed: "), p.Reason)
			return true, nil
		})
	f.notifier.EXPECT().NotifyJobEvent(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e notify.JobEvent) {
			assert.Equal(t, "job-1", e.JobID)
			assert.Equal(t, notify.StatusFailed, e.Status)
			assert.Equal(t, []string{"instagram_square"}, e.FailedFormats)
			assert.Equal(t, "smart_resizer", e.Workflow)
		})

	_, err := f.svc.Admit(context.Background(), AdmissionRequest{OwnerID: "owner-1", Image: testImage, Formats: []string{"instagram_square"}})
	require.ErrorIs(t, err, ErrEnqueueFailed)
	assert.Len(t, f.sink.named("job.settled"), 1)
}

func TestAdmissionService_Admit_RateLimit(t *testing.T) {
	cfg := config.AdmissionConfig{RateLimit: 2, RateWindow: time.Minute}

	t.Run("blocked", func(t *testing.T) {
		f := newAdmissionFixture(t, cfg)
		f.limiter.EXPECT().Allow(gomock.Any(), "admission:owner-1", 2, time.Minute).Return(false, nil)

		_, err := f.svc.Admit(context.Background(), AdmissionRequest{OwnerID: "owner-1", Image: testImage})
		require.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("limiter outage fails open", func(t *testing.T) {
		f := newAdmissionFixture(t, cfg)
		f.limiter.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))
		f.expectImage("image/png", 800, 600)

		_, err := f.svc.Admit(context.Background(), AdmissionRequest{OwnerID: "owner-1", Image: testImage})
		requireAdmissionKind(t, err, KindNoFormats)
	})
}

func TestNewAdmissionService_RequiresDependencies(t *testing.T) {
	_, err := NewAdmissionService(AdmissionServiceOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JobRepository is required")
}
