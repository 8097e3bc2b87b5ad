// Package queue holds queue-side policies: task lease sizing and wake-up fan-out.
package queue

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidDefaultLease indicates a non-positive default lease.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// LeaseSource records how a lease length was chosen.
type LeaseSource string

const (
	LeaseSourceExplicit LeaseSource = "explicit"
	LeaseSourceDefault  LeaseSource = "default"
	LeaseSourceClamped  LeaseSource = "clamped"
)

// LeaseDecision is the resolved lease length in whole seconds.
type LeaseDecision struct {
	Seconds   int
	Source    LeaseSource
	Requested time.Duration
}

// Clamped reports whether the request had to be raised or lowered to fit.
func (d LeaseDecision) Clamped() bool { return d.Source == LeaseSourceClamped }

// UsedDefault reports whether the default lease was applied.
func (d LeaseDecision) UsedDefault() bool { return d.Source == LeaseSourceDefault }

// LeasePolicy converts requested lease durations into the whole seconds the store accepts.
type LeasePolicy struct {
	fallback time.Duration
}

// NewLeasePolicy builds a policy whose zero request resolves to fallback.
func NewLeasePolicy(fallback time.Duration) (*LeasePolicy, error) {
	if fallback <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{fallback: fallback}, nil
}

// Default returns the fallback lease.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.fallback
}

// Resolve maps request to seconds. Zero means the default; negative and sub-second values
// are clamped to one second.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	d := LeaseDecision{Requested: request, Source: LeaseSourceExplicit}
	if p == nil {
		d.Source = LeaseSourceDefault
		return d
	}
	target := request
	if request == 0 {
		target = p.fallback
		d.Source = LeaseSourceDefault
	}

	secs := int64(target / time.Second)
	switch {
	case secs < 1:
		secs = 1
		d.Source = LeaseSourceClamped
	case secs > math.MaxInt32:
		secs = math.MaxInt32
		d.Source = LeaseSourceClamped
	}
	d.Seconds = int(secs)
	return d
}
