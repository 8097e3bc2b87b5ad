package testutil

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/google/uuid"

	"github.com/target/smart-resizer/internal/domain/model"
)

// PNG renders a w×h gradient so resizes produce non-trivial output.
func PNG(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		panic(err) //nolint:forbidigo // fixture encoding of an in-memory image cannot fail
	}
	return buf.Bytes()
}

// JPEG renders a w×h gradient at quality 90.
func JPEG(w, h int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}); err != nil {
		panic(err) //nolint:forbidigo // fixture encoding of an in-memory image cannot fail
	}
	return buf.Bytes()
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// JobParamsBuilder builds CreateJobParams with sensible defaults.
type JobParamsBuilder struct {
	p model.CreateJobParams
}

// NewJobParams starts a pending smart_resizer job for owner-1 with a single format.
func NewJobParams() *JobParamsBuilder {
	id := uuid.NewString()
	return &JobParamsBuilder{p: model.CreateJobParams{
		ID:      id,
		OwnerID: "owner-1",
		Master: model.ImageRef{
			Path:        "masters/owner-1/" + id + ".png",
			ContentType: "image/png",
			Width:       1200,
			Height:      800,
			SizeBytes:   2048,
		},
		RequestedFormats: []string{"instagram_square"},
		Quality:          85,
		Workflow:         json.RawMessage(`{"workflow_type":"smart_resizer","fit":"cover"}`),
	}}
}

func (b *JobParamsBuilder) WithOwner(owner string) *JobParamsBuilder {
	b.p.OwnerID = owner
	return b
}

func (b *JobParamsBuilder) WithFormats(keys ...string) *JobParamsBuilder {
	b.p.RequestedFormats = keys
	return b
}

func (b *JobParamsBuilder) WithPriority(p int) *JobParamsBuilder {
	b.p.Priority = p
	return b
}

func (b *JobParamsBuilder) WithWorkflow(raw string) *JobParamsBuilder {
	b.p.Workflow = json.RawMessage(raw)
	return b
}

// Build returns a copy of the params.
func (b *JobParamsBuilder) Build() model.CreateJobParams {
	out := b.p
	out.RequestedFormats = append([]string(nil), b.p.RequestedFormats...)
	return out
}
