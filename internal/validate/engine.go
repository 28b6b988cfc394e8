package validate

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Kind selects the validator a channel is run through.
type Kind int

const (
	// Accumulator channels only ever increase (energy counters).
	Accumulator Kind = iota + 1
	// Instantaneous channels reflect current conditions (live power).
	Instantaneous
)

func (k Kind) String() string {
	switch k {
	case Accumulator:
		return "accumulator"
	case Instantaneous:
		return "instantaneous"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses "accumulator" or "instantaneous".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accumulator":
		return Accumulator, nil
	case "instantaneous":
		return Instantaneous, nil
	default:
		return 0, fmt.Errorf("unknown channel kind %q", s)
	}
}

// Channel names a monitored value and the validator it runs through.
// Spike overrides the engine-wide spike filter parameters for this channel
// and is ignored for accumulators.
type Channel struct {
	Name  string
	Kind  Kind
	Spike *SpikeParams
}

// Sample is one reading of one channel at one tick.
type Sample struct {
	Channel string
	Raw     Raw
	Tick    uint64
}

// ErrUnknownChannel is returned when a sample names a channel the engine was
// not built with.
var ErrUnknownChannel = errors.New("unknown channel")

type channelState struct {
	mu          sync.Mutex
	channel     Channel
	accumulator *AccumulatorState
	spike       *SpikeFilterState
	last        Result
	lastRaw     Raw
	lastTick    uint64
	samples     uint64
}

// Engine owns the validation state of every configured channel. Validations
// of different channels may run concurrently; validations of one channel are
// serialized and must be submitted in the order the samples were observed.
type Engine struct {
	channels []Channel
	states   map[string]*channelState
}

// NewEngine builds an engine with fresh, uninitialized state for each
// channel. defaults applies to every instantaneous channel without its own
// spike parameters.
func NewEngine(channels []Channel, defaults SpikeParams) (*Engine, error) {
	if len(channels) == 0 {
		return nil, errors.New("no channels configured")
	}

	e := &Engine{
		channels: make([]Channel, 0, len(channels)),
		states:   make(map[string]*channelState, len(channels)),
	}

	for _, ch := range channels {
		if ch.Name == "" {
			return nil, errors.New("channel with empty name")
		}
		if _, exists := e.states[ch.Name]; exists {
			return nil, fmt.Errorf("duplicate channel %q", ch.Name)
		}

		cs := &channelState{channel: ch}
		switch ch.Kind {
		case Accumulator:
			cs.accumulator = &AccumulatorState{}
		case Instantaneous:
			params := defaults
			if ch.Spike != nil {
				params = *ch.Spike
			}
			spike, err := NewSpikeFilterState(params)
			if err != nil {
				return nil, fmt.Errorf("channel %q: %w", ch.Name, err)
			}
			cs.spike = spike
		default:
			return nil, fmt.Errorf("channel %q: unknown kind %v", ch.Name, ch.Kind)
		}

		e.states[ch.Name] = cs
		e.channels = append(e.channels, ch)
	}

	return e, nil
}

// Channels returns the configured channels in configuration order.
func (e *Engine) Channels() []Channel {
	out := make([]Channel, len(e.channels))
	copy(out, e.channels)
	return out
}

// Validate runs a sample through its channel's validator.
func (e *Engine) Validate(s Sample) (Result, error) {
	cs, ok := e.states[s.Channel]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownChannel, s.Channel)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	var r Result
	if cs.accumulator != nil {
		r = ValidateAccumulator(s.Raw, cs.accumulator)
	} else {
		r = ValidateInstantaneous(s.Raw, cs.spike)
	}

	cs.last = r
	cs.lastRaw = s.Raw
	cs.lastTick = s.Tick
	cs.samples++

	return r, nil
}

// ChannelSnapshot is a point-in-time copy of one channel's state.
type ChannelSnapshot struct {
	Name         string       `json:"name"`
	Kind         Kind         `json:"kind"`
	Initialized  bool         `json:"initialized"`
	LastAccepted float64      `json:"last_accepted"`
	Window       []float64    `json:"window,omitempty"`
	Spike        *SpikeParams `json:"spike,omitempty"`
	LastRaw      *float64     `json:"last_raw,omitempty"`
	LastResult   *Result      `json:"last_result,omitempty"`
	LastTick     uint64       `json:"last_tick"`
	Samples      uint64       `json:"samples"`
}

// Snapshot copies the state of every channel, in configuration order.
func (e *Engine) Snapshot() []ChannelSnapshot {
	out := make([]ChannelSnapshot, 0, len(e.channels))
	for _, ch := range e.channels {
		out = append(out, e.states[ch.Name].snapshot())
	}
	return out
}

// ChannelSnapshot copies the state of a single channel.
func (e *Engine) ChannelSnapshot(name string) (ChannelSnapshot, error) {
	cs, ok := e.states[name]
	if !ok {
		return ChannelSnapshot{}, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return cs.snapshot(), nil
}

func (cs *channelState) snapshot() ChannelSnapshot {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	snap := ChannelSnapshot{
		Name:     cs.channel.Name,
		Kind:     cs.channel.Kind,
		LastTick: cs.lastTick,
		Samples:  cs.samples,
	}

	if cs.accumulator != nil {
		snap.Initialized = cs.accumulator.Initialized
		snap.LastAccepted = cs.accumulator.LastAccepted
	} else {
		params := cs.spike.Params()
		snap.Initialized = cs.spike.Initialized
		snap.LastAccepted = cs.spike.LastAccepted
		snap.Window = cs.spike.Window()
		snap.Spike = &params
	}

	if cs.samples > 0 {
		last := cs.last
		snap.LastResult = &last
		if cs.lastRaw.Valid {
			v := cs.lastRaw.Value
			snap.LastRaw = &v
		}
	}

	return snap
}
