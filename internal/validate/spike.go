package validate

import (
	"errors"
	"fmt"
	"math"
)

// Defaults for the transient spike filter. The magnitude threshold is one
// watt on the kilowatt scale the meter reports power in.
const (
	DefaultMinValidMagnitude      = 0.001
	DefaultConsecutiveLowRequired = 2
	DefaultWindowSize             = 3
)

// SpikeParams tunes the transient spike filter.
type SpikeParams struct {
	// MinValidMagnitude is the threshold below which a reading is suspiciously low.
	MinValidMagnitude float64 `json:"min_valid_magnitude"`
	// ConsecutiveLowRequired is the number of low readings, the current one
	// included, that must appear among the trailing window entries before a
	// low reading is accepted.
	ConsecutiveLowRequired int `json:"consecutive_low_required"`
	// WindowSize bounds the history of raw readings.
	WindowSize int `json:"window_size"`
}

// DefaultSpikeParams returns the stock spike filter parameters.
func DefaultSpikeParams() SpikeParams {
	return SpikeParams{
		MinValidMagnitude:      DefaultMinValidMagnitude,
		ConsecutiveLowRequired: DefaultConsecutiveLowRequired,
		WindowSize:             DefaultWindowSize,
	}
}

// Validate checks that the parameters describe a usable filter.
func (p SpikeParams) Validate() error {
	if math.IsNaN(p.MinValidMagnitude) || p.MinValidMagnitude < 0 {
		return fmt.Errorf("min_valid_magnitude must be a non-negative number, got %v", p.MinValidMagnitude)
	}
	if p.ConsecutiveLowRequired < 1 {
		return fmt.Errorf("consecutive_low_required must be at least 1, got %d", p.ConsecutiveLowRequired)
	}
	if p.WindowSize < p.ConsecutiveLowRequired {
		return fmt.Errorf("window_size (%d) must be >= consecutive_low_required (%d)", p.WindowSize, p.ConsecutiveLowRequired)
	}
	return nil
}

func (p SpikeParams) isLow(v float64) bool {
	return math.Abs(v) < p.MinValidMagnitude
}

// SpikeFilterState is the per-channel record of the transient spike filter.
// The window holds raw readings, not accepted values. Initialized becomes true
// with the first present reading; LastAccepted only changes on acceptance.
type SpikeFilterState struct {
	LastAccepted float64
	Initialized  bool

	params SpikeParams
	window []float64
}

// ErrInvalidSpikeParams is returned when a spike filter is built from
// unusable parameters.
var ErrInvalidSpikeParams = errors.New("invalid spike filter parameters")

// NewSpikeFilterState builds an empty filter state for one channel.
func NewSpikeFilterState(params SpikeParams) (*SpikeFilterState, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpikeParams, err)
	}
	return &SpikeFilterState{
		params: params,
		window: make([]float64, 0, params.WindowSize+1),
	}, nil
}

// Params returns the parameters the state was built with.
func (s *SpikeFilterState) Params() SpikeParams {
	return s.params
}

// Window returns a copy of the recorded raw readings, oldest first.
func (s *SpikeFilterState) Window() []float64 {
	w := make([]float64, len(s.window))
	copy(w, s.window)
	return w
}

// record appends a raw reading and evicts the oldest one once the window is full.
func (s *SpikeFilterState) record(v float64) {
	s.window = append(s.window, v)
	if over := len(s.window) - s.params.WindowSize; over > 0 {
		n := copy(s.window, s.window[over:])
		s.window = s.window[:n]
	}
}

// trailingLows counts low readings among the last n window entries.
func (s *SpikeFilterState) trailingLows(n int) int {
	count := 0
	for _, v := range s.window[len(s.window)-n:] {
		if s.params.isLow(v) {
			count++
		}
	}
	return count
}

// ValidateInstantaneous decides whether an instantaneous reading may be
// published. Readings whose magnitude is at or above the threshold are always
// accepted; implausibly high spikes are not filtered. A low reading is only
// accepted once enough of the trailing window entries are low as well, so a
// single corrupt near-zero sample never reaches the gauge.
func ValidateInstantaneous(raw Raw, state *SpikeFilterState) Result {
	if !raw.Valid {
		return reject(Missing)
	}

	// The first present reading moves the channel to tracking, even when it
	// is not accepted.
	state.Initialized = true
	state.record(raw.Value)

	if !state.params.isLow(raw.Value) {
		state.LastAccepted = raw.Value
		return accept(raw.Value, Accepted)
	}

	required := state.params.ConsecutiveLowRequired
	if len(state.window) < required {
		return reject(InsufficientHistory)
	}

	if state.trailingLows(required) >= required {
		state.LastAccepted = raw.Value
		return accept(raw.Value, ConfirmedLow)
	}

	return reject(SpikeRejected)
}
