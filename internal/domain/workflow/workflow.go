// Package workflow models the per-job workflow configuration as a closed set of typed variants.
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/target/smart-resizer/internal/domain/pricing"
)

// Kind names a workflow variant on the wire.
type Kind string

const (
	KindSmartResizer   Kind = "smart_resizer"
	KindNanoBanana     Kind = "nano_banana"
	KindRoomRedesigner Kind = "room_redesigner"
)

// ErrUnknownKind is returned when decoding a workflow with an unrecognised workflow_type.
var ErrUnknownKind = errors.New("unknown workflow type")

// Config is implemented only by the variant types in this package.
type Config interface {
	Kind() Kind
	Validate() error
	sealed()
}

// FitMode selects how a source image is mapped onto the target box.
type FitMode string

const (
	// FitCover fills the box and crops overflow around the centre.
	FitCover FitMode = "cover"
	// FitContain scales to fit inside the box and pads the remainder.
	FitContain FitMode = "contain"
)

// SmartResizerConfig drives plain deterministic resizing.
type SmartResizerConfig struct {
	Fit FitMode `json:"fit,omitempty"`
	// Background is the padding colour for FitContain as #rrggbb.
	Background string `json:"background,omitempty"`
}

// NanoBananaConfig bills each output against a generation model tier.
type NanoBananaConfig struct {
	ModelTier  pricing.Tier       `json:"model_tier"`
	Resolution pricing.Resolution `json:"resolution,omitempty"`
	Prompt     string             `json:"prompt,omitempty"`
}

// RoomRedesignerConfig is a priced workflow carrying an interior style.
type RoomRedesignerConfig struct {
	ModelTier  pricing.Tier       `json:"model_tier"`
	Resolution pricing.Resolution `json:"resolution,omitempty"`
	Style      string             `json:"style"`
}

func (SmartResizerConfig) Kind() Kind   { return KindSmartResizer }
func (NanoBananaConfig) Kind() Kind     { return KindNanoBanana }
func (RoomRedesignerConfig) Kind() Kind { return KindRoomRedesigner }

func (SmartResizerConfig) sealed()   {}
func (NanoBananaConfig) sealed()     {}
func (RoomRedesignerConfig) sealed() {}

func (c SmartResizerConfig) Validate() error {
	switch c.Fit {
	case "", FitCover, FitContain:
	default:
		return fmt.Errorf("smart_resizer: unknown fit %q", c.Fit)
	}
	if c.Background != "" {
		if _, err := ParseHexColor(c.Background); err != nil {
			return fmt.Errorf("smart_resizer: %w", err)
		}
	}
	return nil
}

func (c NanoBananaConfig) Validate() error {
	return validateTier("nano_banana", c.ModelTier, c.Resolution)
}

func (c RoomRedesignerConfig) Validate() error {
	if strings.TrimSpace(c.Style) == "" {
		return errors.New("room_redesigner: style is required")
	}
	return validateTier("room_redesigner", c.ModelTier, c.Resolution)
}

func validateTier(kind string, tier pricing.Tier, res pricing.Resolution) error {
	switch tier {
	case pricing.TierFlash:
		return nil
	case pricing.TierPro:
		switch pricing.NormalizeResolution(string(res)) {
		case pricing.Resolution1K, pricing.Resolution2K, pricing.Resolution4K:
			return nil
		default:
			return fmt.Errorf("%s: %w: %q", kind, pricing.ErrUnknownResolution, res)
		}
	default:
		return fmt.Errorf("%s: %w: %q", kind, pricing.ErrUnknownTier, tier)
	}
}

// Default is the workflow used when a job does not specify one.
func Default() Config {
	return SmartResizerConfig{Fit: FitCover}
}

// PricingInputs reports the model tier and resolution to quote for cfg. ok is false for
// unpriced workflows.
func PricingInputs(cfg Config) (tier pricing.Tier, res pricing.Resolution, ok bool) {
	switch c := cfg.(type) {
	case SmartResizerConfig:
		return "", "", false
	case NanoBananaConfig:
		return c.ModelTier, c.Resolution, true
	case RoomRedesignerConfig:
		return c.ModelTier, c.Resolution, true
	default:
		panic(fmt.Sprintf("workflow: unhandled config %T", cfg)) //nolint:forbidigo // closed union
	}
}

// Fit returns the resize fit mode for cfg. Priced workflows always cover.
func Fit(cfg Config) FitMode {
	switch c := cfg.(type) {
	case SmartResizerConfig:
		if c.Fit == "" {
			return FitCover
		}
		return c.Fit
	case NanoBananaConfig, RoomRedesignerConfig:
		return FitCover
	default:
		panic(fmt.Sprintf("workflow: unhandled config %T", cfg)) //nolint:forbidigo // closed union
	}
}

type envelope struct {
	Type Kind `json:"workflow_type"`
}

// Decode parses a JSON object tagged by workflow_type. Empty input yields Default().
func Decode(raw []byte) (Config, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Default(), nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}

	var (
		cfg Config
		err error
	)
	switch env.Type {
	case KindSmartResizer, "":
		cfg, err = decodeStrict[SmartResizerConfig](raw)
	case KindNanoBanana:
		cfg, err = decodeStrict[NanoBananaConfig](raw)
	case KindRoomRedesigner:
		cfg, err = decodeStrict[RoomRedesignerConfig](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s workflow: %w", env.Type, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStrict[T Config](raw []byte) (Config, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "workflow_type")
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var v T
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode renders cfg with its workflow_type tag.
func Encode(cfg Config) ([]byte, error) {
	if cfg == nil {
		cfg = Default()
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	tag, err := json.Marshal(cfg.Kind())
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	fields["workflow_type"] = tag
	return json.Marshal(fields)
}
