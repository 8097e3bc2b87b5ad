// Package format holds the immutable catalog of named output formats and platform packs.
package format

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	// ErrUnknownFormat is returned when a format key is not in the catalog.
	ErrUnknownFormat = errors.New("unknown format")
	// ErrUnknownPlatform is returned when a platform name is not recognised.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrUnknownPack is returned when a pack name is not in the catalog.
	ErrUnknownPack = errors.New("unknown pack")
)

// Platform groups formats by their publishing destination.
type Platform string

const (
	PlatformInstagram     Platform = "instagram"
	PlatformFacebook      Platform = "facebook"
	PlatformTwitter       Platform = "twitter"
	PlatformLinkedIn      Platform = "linkedin"
	PlatformYouTube       Platform = "youtube"
	PlatformPinterest     Platform = "pinterest"
	PlatformTikTok        Platform = "tiktok"
	PlatformGoogleDisplay Platform = "google_display"
)

var knownPlatforms = []Platform{
	PlatformInstagram,
	PlatformFacebook,
	PlatformTwitter,
	PlatformLinkedIn,
	PlatformYouTube,
	PlatformPinterest,
	PlatformTikTok,
	PlatformGoogleDisplay,
}

// Platforms returns every recognised platform in display order.
func Platforms() []Platform {
	return slices.Clone(knownPlatforms)
}

// ParsePlatform normalises s and reports whether it names a known platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
	}
	return p, nil
}

// Valid reports whether p is a recognised platform.
func (p Platform) Valid() bool {
	return slices.Contains(knownPlatforms, p)
}

// MaxSide is the largest width or height a format may declare.
const MaxSide = 16384

// Spec describes one named output size.
type Spec struct {
	Key         string   `json:"key"         yaml:"key"`
	Width       int      `json:"width"       yaml:"width"`
	Height      int      `json:"height"      yaml:"height"`
	Platform    Platform `json:"platform"    yaml:"platform"`
	Description string   `json:"description" yaml:"description"`
}

// AspectRatio returns width divided by height.
func (s Spec) AspectRatio() float64 {
	if s.Height == 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

func (s Spec) validate() error {
	if strings.TrimSpace(s.Key) == "" {
		return errors.New("format key is required")
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("format %q: dimensions must be positive, got %dx%d", s.Key, s.Width, s.Height)
	}
	if s.Width > MaxSide || s.Height > MaxSide {
		return fmt.Errorf("format %q: dimensions exceed %d, got %dx%d", s.Key, MaxSide, s.Width, s.Height)
	}
	if !s.Platform.Valid() {
		return fmt.Errorf("format %q: %w: %q", s.Key, ErrUnknownPlatform, s.Platform)
	}
	return nil
}

// Pack is a named bundle of format keys.
type Pack struct {
	Name        string   `json:"name"        yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	FormatKeys  []string `json:"format_keys" yaml:"format_keys"`
}

// Catalog is a read-only registry of formats and packs. It is safe for concurrent use.
type Catalog struct {
	specs  []Spec
	index  map[string]int
	packs  []Pack
	byPack map[string]int
}

// New validates specs and packs and builds a Catalog. Inputs are copied.
func New(specs []Spec, packs []Pack) (*Catalog, error) {
	c := &Catalog{
		specs:  make([]Spec, 0, len(specs)),
		index:  make(map[string]int, len(specs)),
		packs:  make([]Pack, 0, len(packs)),
		byPack: make(map[string]int, len(packs)),
	}
	for _, s := range specs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.index[s.Key]; dup {
			return nil, fmt.Errorf("duplicate format key %q", s.Key)
		}
		c.index[s.Key] = len(c.specs)
		c.specs = append(c.specs, s)
	}

	for _, p := range packs {
		if strings.TrimSpace(p.Name) == "" {
			return nil, errors.New("pack name is required")
		}
		if _, dup := c.byPack[p.Name]; dup {
			return nil, fmt.Errorf("duplicate pack %q", p.Name)
		}
		if len(p.FormatKeys) == 0 {
			return nil, fmt.Errorf("pack %q has no formats", p.Name)
		}
		if unknown := c.Unknown(p.FormatKeys); len(unknown) > 0 {
			return nil, fmt.Errorf("pack %q: %w: %s", p.Name, ErrUnknownFormat, strings.Join(unknown, ", "))
		}
		p.FormatKeys = slices.Clone(p.FormatKeys)
		c.byPack[p.Name] = len(c.packs)
		c.packs = append(c.packs, p)
	}
	return c, nil
}

// Keys returns every format key, sorted.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.specs))
	for _, s := range c.specs {
		keys = append(keys, s.Key)
	}
	sort.Strings(keys)
	return keys
}

// ByPlatform returns the keys for platform in catalog order.
func (c *Catalog) ByPlatform(p Platform) ([]string, error) {
	entries, err := c.Entries(p)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, s := range entries {
		keys = append(keys, s.Key)
	}
	return keys, nil
}

// Entries returns full specs in catalog order, filtered by platform when p is non-empty.
func (c *Catalog) Entries(p Platform) ([]Spec, error) {
	if p == "" {
		return slices.Clone(c.specs), nil
	}
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	out := make([]Spec, 0)
	for _, s := range c.specs {
		if s.Platform == p {
			out = append(out, s)
		}
	}
	return out, nil
}

// Lookup returns the spec for key.
func (c *Catalog) Lookup(key string) (Spec, error) {
	i, ok := c.index[key]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownFormat, key)
	}
	return c.specs[i], nil
}

// Has reports whether key exists.
func (c *Catalog) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Unknown returns every key not present in the catalog, in input order without duplicates.
func (c *Catalog) Unknown(keys []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if c.Has(k) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Packs returns all packs in catalog order.
func (c *Catalog) Packs() []Pack {
	out := make([]Pack, 0, len(c.packs))
	for _, p := range c.packs {
		p.FormatKeys = slices.Clone(p.FormatKeys)
		out = append(out, p)
	}
	return out
}

// Pack returns the named pack.
func (c *Catalog) Pack(name string) (Pack, error) {
	i, ok := c.byPack[name]
	if !ok {
		return Pack{}, fmt.Errorf("%w: %q", ErrUnknownPack, name)
	}
	p := c.packs[i]
	p.FormatKeys = slices.Clone(p.FormatKeys)
	return p, nil
}

// Expand merges the keys of the named packs with explicit keys. Order follows first
// appearance: pack keys in pack order, then explicit keys. Duplicates are dropped.
// Explicit keys are not checked against the catalog.
func (c *Catalog) Expand(keys []string, packs ...string) ([]string, error) {
	var merged []string
	for _, name := range packs {
		if strings.TrimSpace(name) == "" {
			continue
		}
		p, err := c.Pack(name)
		if err != nil {
			return nil, err
		}
		merged = append(merged, p.FormatKeys...)
	}
	merged = append(merged, keys...)
	return Dedupe(merged), nil
}

// Dedupe trims keys and removes empties and repeats, preserving first occurrence.
func Dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
