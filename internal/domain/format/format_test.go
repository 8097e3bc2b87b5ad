package format

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_IsValid(t *testing.T) {
	c := Builtin()
	keys := c.Keys()
	require.NotEmpty(t, keys)
	assert.True(t, sort.StringsAreSorted(keys))

	for _, p := range c.Packs() {
		assert.Empty(t, c.Unknown(p.FormatKeys), "pack %s", p.Name)
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c := Builtin()

	t.Run("known key", func(t *testing.T) {
		s, err := c.Lookup("instagram_story")
		require.NoError(t, err)
		assert.Equal(t, 1080, s.Width)
		assert.Equal(t, 1920, s.Height)
		assert.Equal(t, PlatformInstagram, s.Platform)
		assert.InDelta(t, 0.5625, s.AspectRatio(), 0.0001)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := c.Lookup("nope")
		require.ErrorIs(t, err, ErrUnknownFormat)
	})
}

func TestCatalog_ByPlatform(t *testing.T) {
	c := Builtin()

	keys, err := c.ByPlatform(PlatformTwitter)
	require.NoError(t, err)
	assert.Equal(t, []string{"twitter_post", "twitter_header"}, keys)

	_, err = c.ByPlatform(Platform("myspace"))
	require.ErrorIs(t, err, ErrUnknownPlatform)

	all, err := c.Entries("")
	require.NoError(t, err)
	assert.Len(t, all, len(c.Keys()))
}

func TestCatalog_Unknown(t *testing.T) {
	c := Builtin()
	got := c.Unknown([]string{"instagram_square", "B", "facebook_feed", "Z", "B"})
	assert.Equal(t, []string{"B", "Z"}, got)
	assert.Empty(t, c.Unknown([]string{"instagram_square"}))
}

func TestCatalog_Expand(t *testing.T) {
	c := Builtin()

	got, err := c.Expand([]string{"youtube_thumbnail", "instagram_story"}, "stories")
	require.NoError(t, err)
	assert.Equal(t, []string{"instagram_story", "facebook_story", "tiktok_cover", "youtube_thumbnail"}, got)

	_, err = c.Expand(nil, "missing")
	require.ErrorIs(t, err, ErrUnknownPack)
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	c := Builtin()
	p, err := c.Pack("stories")
	require.NoError(t, err)
	p.FormatKeys[0] = "mutated"

	again, err := c.Pack("stories")
	require.NoError(t, err)
	assert.Equal(t, "instagram_story", again.FormatKeys[0])

	entries, err := c.Entries("")
	require.NoError(t, err)
	entries[0].Width = 1
	s, err := c.Lookup(entries[0].Key)
	require.NoError(t, err)
	assert.NotEqual(t, 1, s.Width)
}

func TestNew_Rejects(t *testing.T) {
	valid := Spec{Key: "a", Width: 10, Height: 10, Platform: PlatformTikTok}

	tests := []struct {
		name  string
		specs []Spec
		packs []Pack
	}{
		{name: "empty key", specs: []Spec{{Width: 1, Height: 1, Platform: PlatformTikTok}}},
		{name: "zero width", specs: []Spec{{Key: "a", Height: 1, Platform: PlatformTikTok}}},
		{name: "oversized width", specs: []Spec{{Key: "a", Width: MaxSide + 1, Height: 1, Platform: PlatformTikTok}}},
		{name: "oversized height", specs: []Spec{{Key: "a", Width: 1, Height: 1 << 31, Platform: PlatformTikTok}}},
		{name: "bad platform", specs: []Spec{{Key: "a", Width: 1, Height: 1, Platform: "fax"}}},
		{name: "duplicate key", specs: []Spec{valid, valid}},
		{name: "pack with unknown key", specs: []Spec{valid}, packs: []Pack{{Name: "p", FormatKeys: []string{"b"}}}},
		{name: "empty pack", specs: []Spec{valid}, packs: []Pack{{Name: "p"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.specs, tt.packs)
			assert.Error(t, err)
		})
	}
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" Instagram ")
	require.NoError(t, err)
	assert.Equal(t, PlatformInstagram, p)

	_, err = ParsePlatform("vine")
	require.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	doc := `
formats:
  - key: banner
    width: 728
    height: 90
    platform: google_display
    description: Banner
  - key: square
    width: 1080
    height: 1080
    platform: instagram
packs:
  - name: both
    format_keys: [square, banner]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"banner", "square"}, c.Keys())

	p, err := c.Pack("both")
	require.NoError(t, err)
	assert.Equal(t, []string{"square", "banner"}, p.FormatKeys)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("formats:\n  - key: a\n    width: 1\n    height: 1\n    platform: tiktok\n    depth: 3\n"))
	assert.Error(t, err)
}
