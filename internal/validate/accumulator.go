package validate

// AccumulatorState is the per-channel record of the monotonic accumulator
// guard. Once Initialized, LastAccepted never decreases and is always
// positive.
type AccumulatorState struct {
	LastAccepted float64 `json:"last_accepted"`
	Initialized  bool    `json:"initialized"`
}

// ValidateAccumulator decides whether a counter reading may be published.
// Published counter values never decrease and are never zero or negative.
// A reading below the last accepted value is dropped; the caller is expected
// to warn about it with both the rejected and the retained value.
func ValidateAccumulator(raw Raw, state *AccumulatorState) Result {
	if !raw.Valid {
		return reject(Missing)
	}

	// Written as !(v > 0) so that NaN is rejected along with zero and negatives.
	if !(raw.Value > 0) {
		return reject(NonPositive)
	}

	if !state.Initialized {
		state.LastAccepted = raw.Value
		state.Initialized = true
		return accept(raw.Value, Initial)
	}

	if raw.Value >= state.LastAccepted {
		state.LastAccepted = raw.Value
		return accept(raw.Value, Accepted)
	}

	return reject(Decreased)
}
