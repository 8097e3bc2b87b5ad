package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/smart-resizer/internal/domain/format"
	"github.com/target/smart-resizer/internal/domain/pricing"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Admission JobAdmitter
	Progress  JobReader
	Retries   JobRetrier
	Catalog   *format.Catalog
	Pricing   *pricing.Calculator // Optional: enables /api/pricing/quote

	// Files serves stored objects under FilesPath when set.
	Files     http.Handler
	FilesPath string

	// HealthChecks gate /healthz, e.g. a database ping.
	HealthChecks []HealthCheck

	OwnerHeader    string
	MaxUploadBytes int64
	Compression    *CompressionConfig // Optional: gzip JSON responses
	Logger         *slog.Logger
}

// NewRouter creates the API handler with recovery and request logging applied.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	jobs := &JobHandlers{
		Admission:      services.Admission,
		Progress:       services.Progress,
		Retries:        services.Retries,
		MaxUploadBytes: services.MaxUploadBytes,
		Logger:         logger,
	}
	registerJobRoutes(mux, jobs, services.OwnerHeader)

	if services.Catalog != nil {
		catalog := &CatalogHandlers{Catalog: services.Catalog, Pricing: services.Pricing}
		mux.HandleFunc("GET /api/formats", catalog.ListFormats)
		if services.Pricing != nil {
			mux.HandleFunc("GET /api/pricing/quote", catalog.Quote)
		}
	}

	if services.Files != nil && services.FilesPath != "" {
		mux.Handle("GET "+services.FilesPath+"/", services.Files)
	}

	health := healthHandler(services.HealthChecks...)
	mux.HandleFunc("GET /healthz", health)
	mux.HandleFunc("HEAD /healthz", health)

	var handler http.Handler = mux
	if services.Compression != nil {
		handler = Compression(*services.Compression)(handler)
	}
	return Recover(logger)(Logging(logger)(handler))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers, ownerHeader string) {
	owner := RequireOwner(ownerHeader)
	if h.Admission != nil {
		mux.Handle("POST /api/jobs", owner(http.HandlerFunc(h.CreateJob)))
	}
	if h.Progress != nil {
		mux.Handle("GET /api/jobs/{id}", owner(http.HandlerFunc(h.GetJob)))
	}
	if h.Retries != nil {
		mux.Handle("POST /api/jobs/{id}/retry", owner(http.HandlerFunc(h.RetryJob)))
	}
}
