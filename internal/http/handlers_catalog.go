package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/target/smart-resizer/internal/domain/format"
	"github.com/target/smart-resizer/internal/domain/pricing"
)

// CatalogHandlers serves the format catalog and price quotes.
type CatalogHandlers struct {
	Catalog *format.Catalog
	Pricing *pricing.Calculator
}

type formatsResponse struct {
	Formats []format.Spec `json:"formats"`
	Packs   []format.Pack `json:"packs"`
}

// ListFormats handles GET /api/formats?platform=.
func (h *CatalogHandlers) ListFormats(w http.ResponseWriter, r *http.Request) {
	var platform format.Platform
	if raw := strings.TrimSpace(r.URL.Query().Get("platform")); raw != "" {
		p, err := format.ParsePlatform(raw)
		if err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: CodeInvalidPlatform, Err: err})
			return
		}
		platform = p
	}
	specs, err := h.Catalog.Entries(platform)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: CodeInvalidPlatform, Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, formatsResponse{Formats: specs, Packs: h.packsFor(platform, specs)})
}

// packsFor keeps packs whose formats all belong to the listed specs.
func (h *CatalogHandlers) packsFor(platform format.Platform, specs []format.Spec) []format.Pack {
	packs := h.Catalog.Packs()
	if platform == "" {
		return packs
	}
	listed := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		listed[s.Key] = struct{}{}
	}
	out := make([]format.Pack, 0, len(packs))
	for _, p := range packs {
		all := len(p.FormatKeys) > 0
		for _, k := range p.FormatKeys {
			if _, ok := listed[k]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, p)
		}
	}
	return out
}

// Quote handles GET /api/pricing/quote?tier=&resolution=&units=.
func (h *CatalogHandlers) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tier, err := pricing.ParseTier(q.Get("tier"))
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: CodeInvalidPricing, Err: err})
		return
	}
	units := 1
	if raw := strings.TrimSpace(q.Get("units")); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: CodeInvalidPricing,
				Err:     errors.New("units must be an integer"),
			})
			return
		}
		units = n
	}
	quote, err := h.Pricing.Quote(tier, pricing.NormalizeResolution(q.Get("resolution")), units)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: CodeInvalidPricing, Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, quote)
}
