package config

import (
	"strings"
	"time"
)

// StorageConfig controls the filesystem object store.
type StorageConfig struct {
	// Root is the directory masters and outputs are written under.
	Root string `env:"STORAGE_ROOT" envDefault:"./data/objects"`

	// PublicPath is the URL path prefix stored objects are served from.
	PublicPath string `env:"STORAGE_PUBLIC_PATH" envDefault:"/files"`

	// ServeFiles mounts GET {PublicPath}/ on the API server.
	ServeFiles bool `env:"STORAGE_SERVE_FILES" envDefault:"true"`
}

// Sanitize normalises paths.
func (s *StorageConfig) Sanitize() {
	if s.Root = strings.TrimSpace(s.Root); s.Root == "" {
		s.Root = "./data/objects"
	}
	s.PublicPath = "/" + strings.Trim(strings.TrimSpace(s.PublicPath), "/")
	if s.PublicPath == "/" {
		s.PublicPath = "/files"
	}
}

// AdmissionConfig bounds what uploads are accepted.
type AdmissionConfig struct {
	// MaxUploadBytes caps the multipart request body.
	MaxUploadBytes int64 `env:"ADMISSION_MAX_UPLOAD_BYTES" envDefault:"26214400"` // 25 MiB

	// MaxDimension caps both the width and the height of the master image.
	MaxDimension int `env:"ADMISSION_MAX_DIMENSION" envDefault:"8192"`

	// AllowedTypes lists accepted sniffed MIME types.
	AllowedTypes []string `env:"ADMISSION_ALLOWED_TYPES" envDefault:"image/jpeg,image/png,image/webp"`

	// DefaultQuality applies when the request omits quality.
	DefaultQuality int `env:"ADMISSION_DEFAULT_QUALITY" envDefault:"85"`

	// RateLimit is the number of jobs one owner may create per RateWindow. 0 disables it.
	RateLimit  int           `env:"ADMISSION_RATE_LIMIT"  envDefault:"0"`
	RateWindow time.Duration `env:"ADMISSION_RATE_WINDOW" envDefault:"1m"`
}

// Sanitize applies guardrails to admission limits.
func (a *AdmissionConfig) Sanitize() {
	if a.MaxUploadBytes < 1024 {
		a.MaxUploadBytes = 1024
	}
	if a.MaxDimension < 1 {
		a.MaxDimension = 8192
	}
	if a.DefaultQuality < 1 || a.DefaultQuality > 100 {
		a.DefaultQuality = 85
	}
	if a.RateLimit < 0 {
		a.RateLimit = 0
	}
	if a.RateWindow < time.Second {
		a.RateWindow = time.Minute
	}
	types := make([]string, 0, len(a.AllowedTypes))
	for _, t := range a.AllowedTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		types = []string{"image/jpeg", "image/png", "image/webp"}
	}
	a.AllowedTypes = types
}

// CatalogConfig points at optional YAML overrides for the built-in format and pricing tables.
type CatalogConfig struct {
	FormatsFile string `env:"CATALOG_FORMATS_FILE"`
	PricingFile string `env:"PRICING_FILE"`
}

// Sanitize trims the file paths.
func (c *CatalogConfig) Sanitize() {
	c.FormatsFile = strings.TrimSpace(c.FormatsFile)
	c.PricingFile = strings.TrimSpace(c.PricingFile)
}
