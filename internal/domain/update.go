package domain

import (
	"math"
	"time"
)

// PriceUpdate is a raw tick emitted by an exchange adapter. It is never
// mutated after emission.
type PriceUpdate struct {
	Symbol     string
	Price      float64
	TimestampMs int64
	Source     string
	Volume     float64
	HasVolume  bool
	Confidence float64
}

// Freshness returns now - timestamp, the staleness of the update.
func (u PriceUpdate) Freshness(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(u.TimestampMs))
}

// IsFinitePositivePrice reports whether Price is a finite, strictly positive
// number.
func (u PriceUpdate) IsFinitePositivePrice() bool {
	return !math.IsNaN(u.Price) && !math.IsInf(u.Price, 0) && u.Price > 0
}

// ErrorKind classifies a validation error for severity/propagation purposes.
type ErrorKind string

const (
	ErrKindStale      ErrorKind = "stale"
	ErrKindOutOfRange ErrorKind = "out_of_range"
	ErrKindBadType    ErrorKind = "bad_type"
	ErrKindOutlier    ErrorKind = "outlier"
)

// Severity is the impact level of a validation error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidationError describes one rule failure.
type ValidationError struct {
	Kind      ErrorKind
	Severity  Severity
	Operation string
	Message   string
}

func (e ValidationError) Error() string {
	return e.Operation + ": " + e.Message
}

// ValidationResult is the outcome of running the validator's rules against
// one PriceUpdate.
type ValidationResult struct {
	IsValid        bool
	Errors         []ValidationError
	Warnings       []string
	Confidence     float64
	AdjustedUpdate *PriceUpdate
	Timestamp      time.Time
}

// Resolved returns the update that should flow downstream: the adjusted form
// when present and valid, otherwise the original input.
func (r ValidationResult) Resolved(original PriceUpdate) PriceUpdate {
	if r.IsValid && r.AdjustedUpdate != nil {
		return *r.AdjustedUpdate
	}
	return original
}

// AggregatedPrice is the fused output of the aggregator for one feed.
type AggregatedPrice struct {
	Symbol         string
	Price          float64
	TimestampMs    int64
	Sources        []string
	Confidence     float64
	ConsensusScore float64
	VotingRound    *VotingRound
}
