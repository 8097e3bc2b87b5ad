package imagetransform

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/smart-resizer/internal/core"
	"github.com/target/smart-resizer/internal/testutil"
)

func TestDetectContentType(t *testing.T) {
	tr := New()
	assert.Equal(t, "image/png", tr.DetectContentType(testutil.PNG(4, 4)))
	assert.Equal(t, "image/jpeg", tr.DetectContentType(testutil.JPEG(4, 4)))
	assert.Equal(t, "text/plain", tr.DetectContentType([]byte("hello world")))
}

func TestReadMetadata(t *testing.T) {
	tr := New()
	meta, err := tr.ReadMetadata(testutil.JPEG(120, 80))
	require.NoError(t, err)
	assert.Equal(t, core.ImageMetadata{Width: 120, Height: 80, Format: "jpeg"}, meta)

	_, err = tr.ReadMetadata([]byte("not an image"))
	require.Error(t, err)
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestResize_CoverCropsToExactBox(t *testing.T) {
	out, err := New().Resize(context.Background(), core.ResizeRequest{
		Source:  testutil.JPEG(400, 200),
		Width:   100,
		Height:  100,
		Quality: 80,
		Fit:     "cover",
	})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", out.ContentType)
	assert.Equal(t, "jpg", out.Ext)
	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 100, out.Height)

	b := decode(t, out.Data).Bounds()
	assert.Equal(t, 100, b.Dx())
	assert.Equal(t, 100, b.Dy())
}

func TestResize_ContainPadsWithBackground(t *testing.T) {
	out, err := New().Resize(context.Background(), core.ResizeRequest{
		Source:     testutil.PNG(200, 100),
		Width:      100,
		Height:     100,
		Fit:        "contain",
		Background: "#ff0000",
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.ContentType)

	img, err := png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())

	// The source letterboxes to 100x50, so the top row is padding.
	r, g, b, a := img.At(50, 2).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), b)
	assert.Equal(t, uint32(0xffff), a)
}

func TestResize_Errors(t *testing.T) {
	tr := New()
	_, err := tr.Resize(context.Background(), core.ResizeRequest{Source: testutil.PNG(10, 10), Width: 0, Height: 10})
	require.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = tr.Resize(context.Background(), core.ResizeRequest{Source: []byte("garbage"), Width: 10, Height: 10})
	require.Error(t, err)

	_, err = tr.Resize(context.Background(), core.ResizeRequest{
		Source: testutil.PNG(10, 10), Width: 10, Height: 10, Fit: "contain", Background: "blue",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "background")
}

func TestResize_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Resize(ctx, core.ResizeRequest{Source: testutil.PNG(10, 10), Width: 5, Height: 5})
	require.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err = New().Resize(ctx, core.ResizeRequest{Source: testutil.PNG(10, 10), Width: 5, Height: 5})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResize_RejectsOversizedTarget(t *testing.T) {
	for _, req := range []core.ResizeRequest{
		{Source: testutil.PNG(4, 4), Width: 1 << 31, Height: 1 << 31, Fit: "contain"},
		{Source: testutil.PNG(4, 4), Width: MaxSide + 1, Height: 10},
		{Source: testutil.PNG(4, 4), Width: 10, Height: MaxSide + 1},
	} {
		_, err := New().Resize(context.Background(), req)
		require.ErrorIs(t, err, ErrInvalidDimensions)
	}
}

func TestResize_RecoversRenderPanic(t *testing.T) {
	orig := renderFunc
	renderFunc = func(core.ResizeRequest) (*core.ResizeOutput, error) {
		panic("bytes: Repeat output length overflow")
	}
	t.Cleanup(func() { renderFunc = orig })

	out, err := New().Resize(context.Background(), core.ResizeRequest{Source: testutil.PNG(4, 4), Width: 2, Height: 2})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "panic while rendering")
	assert.Contains(t, err.Error(), "Repeat output length overflow")
}

func TestVerify_RejectsTruncatedBody(t *testing.T) {
	tr := New()
	full := testutil.PNG(64, 64)
	require.NoError(t, tr.Verify(full))

	truncated := full[:len(full)/2]
	meta, err := tr.ReadMetadata(truncated)
	require.NoError(t, err)
	assert.Equal(t, 64, meta.Width)

	require.Error(t, tr.Verify(truncated))
}
