// Package validate decides, for every freshly read meter sample, whether the
// value should be published, rejected, or whether the previously published
// value should stay in place.
//
// Two validators are provided. The monotonic accumulator guard protects
// counters (energy) from appearing to decrease or reset. The transient spike
// filter protects instantaneous measurements (power) from single-sample bus
// noise, which shows up as near-zero denormalized floats. Validators never
// log; they return a Result whose Reason tells the caller why a decision was
// made.
package validate

import (
	"fmt"
	"strings"
)

// Reason explains a validation decision.
type Reason int

const (
	// Missing means the driver could not produce a value this tick.
	Missing Reason = iota
	// NonPositive means an accumulator reading was zero or negative.
	NonPositive
	// Decreased means an accumulator reading was below the last accepted value.
	Decreased
	// InsufficientHistory means a low instantaneous reading arrived before
	// enough samples were recorded to confirm it.
	InsufficientHistory
	// SpikeRejected means a low instantaneous reading was not backed by
	// enough recent low readings.
	SpikeRejected
	// Initial is the first accepted accumulator reading.
	Initial
	// Accepted is an ordinary accepted reading.
	Accepted
	// ConfirmedLow is a low instantaneous reading confirmed by recent history.
	ConfirmedLow
)

var reasonNames = [...]string{
	Missing:             "missing",
	NonPositive:         "non_positive",
	Decreased:           "decreased",
	InsufficientHistory: "insufficient_history",
	SpikeRejected:       "spike_rejected",
	Initial:             "initial",
	Accepted:            "accepted",
	ConfirmedLow:        "confirmed_low",
}

// Reasons lists every reason in declaration order.
func Reasons() []Reason {
	return []Reason{Missing, NonPositive, Decreased, InsufficientHistory, SpikeRejected, Initial, Accepted, ConfirmedLow}
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("reason(%d)", int(r))
	}
	return reasonNames[r]
}

// MarshalText renders the reason as its snake_case name so it reads well in
// JSON, MessagePack and structured logs.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a reason name.
func (r *Reason) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range reasonNames {
		if n == name {
			*r = Reason(i)
			return nil
		}
	}
	return fmt.Errorf("unknown validation reason %q", string(text))
}

// IsUpdate reports whether the reason belongs to an accepted value.
func (r Reason) IsUpdate() bool {
	return r == Initial || r == Accepted || r == ConfirmedLow
}

// Result is the outcome of validating one sample. Value is only meaningful
// when Updated is true; when Updated is false the caller must leave the
// published value untouched.
type Result struct {
	Value   float64 `json:"value"`
	Updated bool    `json:"updated"`
	Reason  Reason  `json:"reason"`
}

func accept(v float64, reason Reason) Result {
	return Result{Value: v, Updated: true, Reason: reason}
}

func reject(reason Reason) Result {
	return Result{Reason: reason}
}

// Raw is a raw reading that may be absent. Absence is distinct from zero.
type Raw struct {
	Value float64
	Valid bool
}

// Present wraps a value that was read successfully.
func Present(v float64) Raw {
	return Raw{Value: v, Valid: true}
}

// Absent is the raw reading of a failed read.
var Absent = Raw{}

func (r Raw) String() string {
	if !r.Valid {
		return "absent"
	}
	return fmt.Sprintf("%g", r.Value)
}
