// Package imagetransform decodes uploads and renders format renditions with disintegration/imaging.
package imagetransform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp" // registers the webp decoder with image.Decode

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/domain/workflow"
)

const (
	defaultQuality    = 85
	defaultBackground = "#ffffff"

	// MaxSide bounds each side of a rendition.
	MaxSide = 16384
)

// ErrInvalidDimensions is returned for target sizes outside 1..MaxSide.
var ErrInvalidDimensions = errors.New("imagetransform: target dimensions out of range")

// renderFunc is swapped in tests.
var renderFunc = render

// Transformer implements core.Transformer. The zero value is ready to use.
type Transformer struct{}

var _ core.Transformer = Transformer{}

// New returns a Transformer.
func New() Transformer { return Transformer{} }

// DetectContentType sniffs data and returns its MIME type without parameters.
func (Transformer) DetectContentType(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// ReadMetadata reads the header only; pixel data is not decoded.
func (Transformer) ReadMetadata(data []byte) (core.ImageMetadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return core.ImageMetadata{}, fmt.Errorf("decode image header: %w", err)
	}
	return core.ImageMetadata{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Verify fully decodes data, catching truncated or corrupt pixel data that a header read
// accepts. Call it only after ReadMetadata has bounded the dimensions.
func (Transformer) Verify(data []byte) error {
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	return nil
}

// Resize renders one rendition. The work runs on its own goroutine so a cancelled ctx
// returns promptly. That goroutine is not interrupted: it finishes in the background and
// its result is dropped, so abandoned renders still hold CPU beyond the caller's
// concurrency limit until they return. A panic while rendering is returned as an error.
func (t Transformer) Resize(ctx context.Context, req core.ResizeRequest) (*core.ResizeOutput, error) {
	if req.Width <= 0 || req.Height <= 0 || req.Width > MaxSide || req.Height > MaxSide {
		return nil, ErrInvalidDimensions
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		out *core.ResizeOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic while rendering: %v", r)}
			}
		}()
		out, err := renderFunc(req)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.out, r.err
	}
}

func render(req core.ResizeRequest) (*core.ResizeOutput, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(req.Source))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	src, err := imaging.Decode(bytes.NewReader(req.Source), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var dst image.Image
	switch workflow.FitMode(strings.ToLower(req.Fit)) {
	case workflow.FitContain:
		background := req.Background
		if strings.TrimSpace(background) == "" {
			background = defaultBackground
		}
		bg, err := workflow.ParseHexColor(background)
		if err != nil {
			return nil, fmt.Errorf("background: %w", err)
		}
		fitted := imaging.Fit(src, req.Width, req.Height, imaging.Lanczos)
		canvas := imaging.New(req.Width, req.Height, bg)
		dst = imaging.PasteCenter(canvas, fitted)
	default:
		dst = imaging.Fill(src, req.Width, req.Height, imaging.Center, imaging.Lanczos)
	}

	b := dst.Bounds()
	out := &core.ResizeOutput{Width: b.Dx(), Height: b.Dy()}
	var buf bytes.Buffer
	if format == "png" {
		// PNG sources keep their alpha channel.
		if err := imaging.Encode(&buf, dst, imaging.PNG, imaging.PNGCompressionLevel(png.BestSpeed)); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		out.ContentType, out.Ext = "image/png", "png"
	} else {
		quality := req.Quality
		if quality < 1 || quality > 100 {
			quality = defaultQuality
		}
		if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		out.ContentType, out.Ext = "image/jpeg", "jpg"
	}
	out.Data = buf.Bytes()
	return out, nil
}
