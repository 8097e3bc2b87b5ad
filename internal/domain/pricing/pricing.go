// Package pricing computes per-unit cost and revenue for model-backed workflows.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrUnknownTier is returned for a model tier outside the table.
	ErrUnknownTier = errors.New("unknown model tier")
	// ErrUnknownResolution is returned when a tier priced by resolution gets an unknown one.
	ErrUnknownResolution = errors.New("unknown resolution")
	// ErrInvalidUnitCount is returned for negative unit counts and for counts whose totals
	// would overflow.
	ErrInvalidUnitCount = errors.New("invalid unit count")
)

// Tier selects the generation model.
type Tier string

const (
	TierFlash Tier = "flash"
	TierPro   Tier = "pro"
)

// ParseTier normalises s into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TierFlash, TierPro:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// Resolution is the output resolution class for the pro tier.
type Resolution string

const (
	Resolution1K Resolution = "1k"
	Resolution2K Resolution = "2k"
	Resolution4K Resolution = "4k"
)

// Resolutions lists the resolution classes every pro table must price.
var Resolutions = []Resolution{Resolution1K, Resolution2K, Resolution4K}

// NormalizeResolution lower-cases and trims r.
func NormalizeResolution(r string) Resolution {
	return Resolution(strings.ToLower(strings.TrimSpace(r)))
}

// Micros is an amount of US dollars in millionths. It encodes to JSON as decimal dollars.
type Micros int64

// Dollars returns m as a float for display.
func (m Micros) Dollars() float64 {
	return float64(m) / 1e6
}

// MarshalJSON renders m as a JSON number in dollars.
func (m Micros) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(m.Dollars(), 'f', -1, 64)), nil
}

// UnmarshalJSON parses a dollars JSON number.
func (m *Micros) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	*m = DollarsToMicros(f)
	return nil
}

// DollarsToMicros converts a dollar amount, rounding to the nearest micro.
func DollarsToMicros(d float64) Micros {
	if d < 0 {
		return Micros(d*1e6 - 0.5)
	}
	return Micros(d*1e6 + 0.5)
}

// Rate is the per-unit price pair.
type Rate struct {
	Cost    Micros `json:"cost_per_unit"`
	Revenue Micros `json:"revenue_per_unit"`
}

// Table is the immutable price list.
type Table struct {
	Flash Rate
	Pro   map[Resolution]Rate
}

// DefaultTable returns the compiled-in price list.
func DefaultTable() Table {
	return Table{
		Flash: Rate{Cost: 39_000, Revenue: 100_000},
		Pro: map[Resolution]Rate{
			Resolution1K: {Cost: 134_000, Revenue: 250_000},
			Resolution2K: {Cost: 134_000, Revenue: 350_000},
			Resolution4K: {Cost: 240_000, Revenue: 500_000},
		},
	}
}

// Quote is the derived price for a batch of units.
type Quote struct {
	Tier           Tier       `json:"model_tier"`
	Resolution     Resolution `json:"resolution,omitempty"`
	UnitCount      int        `json:"unit_count"`
	CostPerUnit    Micros     `json:"cost_per_unit"`
	RevenuePerUnit Micros     `json:"revenue_per_unit"`
	TotalCost      Micros     `json:"total_cost"`
	TotalRevenue   Micros     `json:"total_revenue"`
	Profit         Micros     `json:"profit"`
}

// Calculator prices units against a fixed table.
type Calculator struct {
	flash Rate
	pro   map[Resolution]Rate
}

// NewCalculator validates t and returns a Calculator holding a private copy of it.
func NewCalculator(t Table) (*Calculator, error) {
	if err := validateRate("flash", t.Flash); err != nil {
		return nil, err
	}
	pro := make(map[Resolution]Rate, len(t.Pro))
	for _, r := range Resolutions {
		rate, ok := t.Pro[r]
		if !ok {
			return nil, fmt.Errorf("pricing table: pro tier missing resolution %q", r)
		}
		if err := validateRate("pro/"+string(r), rate); err != nil {
			return nil, err
		}
		pro[r] = rate
	}
	for r := range t.Pro {
		if _, ok := pro[r]; !ok {
			return nil, fmt.Errorf("pricing table: %w: %q", ErrUnknownResolution, r)
		}
	}
	return &Calculator{flash: t.Flash, pro: pro}, nil
}

// MustNewCalculator is like NewCalculator but panics on error.
func MustNewCalculator(t Table) *Calculator {
	c, err := NewCalculator(t)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor panics by convention
	}
	return c
}

func validateRate(name string, r Rate) error {
	if r.Cost < 0 || r.Revenue < 0 {
		return fmt.Errorf("pricing table: %s rates must be non-negative", name)
	}
	return nil
}

// Rate returns the per-unit rate for tier at resolution. Flash ignores resolution.
func (c *Calculator) Rate(tier Tier, res Resolution) (Rate, error) {
	switch tier {
	case TierFlash:
		return c.flash, nil
	case TierPro:
		rate, ok := c.pro[NormalizeResolution(string(res))]
		if !ok {
			return Rate{}, fmt.Errorf("%w: %q", ErrUnknownResolution, res)
		}
		return rate, nil
	default:
		return Rate{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
}

// Quote prices n units. The result depends only on the arguments and the table.
func (c *Calculator) Quote(tier Tier, res Resolution, n int) (Quote, error) {
	if n < 0 {
		return Quote{}, ErrInvalidUnitCount
	}
	rate, err := c.Rate(tier, res)
	if err != nil {
		return Quote{}, err
	}
	if limit := maxUnits(rate); Micros(n) > limit {
		return Quote{}, fmt.Errorf("%w: %d exceeds %d", ErrInvalidUnitCount, n, limit)
	}
	q := Quote{
		Tier:           tier,
		UnitCount:      n,
		CostPerUnit:    rate.Cost,
		RevenuePerUnit: rate.Revenue,
		TotalCost:      rate.Cost * Micros(n),
		TotalRevenue:   rate.Revenue * Micros(n),
	}
	if tier == TierPro {
		q.Resolution = NormalizeResolution(string(res))
	}
	q.Profit = q.TotalRevenue - q.TotalCost
	return q, nil
}

// maxUnits is the largest count whose totals fit in Micros.
func maxUnits(r Rate) Micros {
	top := max(r.Cost, r.Revenue)
	if top <= 0 {
		return math.MaxInt64
	}
	return math.MaxInt64 / top
}
