package validate

import (
	"errors"
	"reflect"
	"testing"
)

func newSpikeState(t *testing.T, p SpikeParams) *SpikeFilterState {
	t.Helper()
	s, err := NewSpikeFilterState(p)
	if err != nil {
		t.Fatalf("NewSpikeFilterState(%+v): %v", p, err)
	}
	return s
}

func TestValidateInstantaneous(t *testing.T) {
	stock := SpikeParams{MinValidMagnitude: 0.001, ConsecutiveLowRequired: 2, WindowSize: 3}

	tests := []struct {
		name        string
		params      SpikeParams
		raws        []Raw
		wantUpdated []bool
		wantReasons []Reason
		wantLast    float64
	}{
		{
			name:        "single denormal spike is debounced",
			params:      stock,
			raws:        []Raw{Present(2.5), Present(3.67e-27), Present(2.4)},
			wantUpdated: []bool{true, false, true},
			wantReasons: []Reason{Accepted, SpikeRejected, Accepted},
			wantLast:    2.4,
		},
		{
			name:        "sustained zero is confirmed on the second low reading",
			params:      stock,
			raws:        []Raw{Present(2.5), Present(0), Present(0)},
			wantUpdated: []bool{true, false, true},
			wantReasons: []Reason{Accepted, SpikeRejected, ConfirmedLow},
			wantLast:    0,
		},
		{
			name:        "sustained zero keeps being confirmed",
			params:      stock,
			raws:        []Raw{Present(2.5), Present(0), Present(0), Present(0), Present(0.0004)},
			wantUpdated: []bool{true, false, true, true, true},
			wantReasons: []Reason{Accepted, SpikeRejected, ConfirmedLow, ConfirmedLow, ConfirmedLow},
			wantLast:    0.0004,
		},
		{
			name:        "low first reading has insufficient history",
			params:      stock,
			raws:        []Raw{Present(0), Present(0)},
			wantUpdated: []bool{false, true},
			wantReasons: []Reason{InsufficientHistory, ConfirmedLow},
			wantLast:    0,
		},
		{
			name:        "first normal reading is accepted",
			params:      stock,
			raws:        []Raw{Present(1.2)},
			wantUpdated: []bool{true},
			wantReasons: []Reason{Accepted},
			wantLast:    1.2,
		},
		{
			name:        "low reading after a normal one in a short history is a spike",
			params:      stock,
			raws:        []Raw{Present(0), Present(5), Present(0)},
			wantUpdated: []bool{false, true, false},
			wantReasons: []Reason{InsufficientHistory, Accepted, SpikeRejected},
			wantLast:    5,
		},
		{
			name:        "negative power above threshold is accepted",
			params:      stock,
			raws:        []Raw{Present(-3.1), Present(-0.0001)},
			wantUpdated: []bool{true, false},
			wantReasons: []Reason{Accepted, SpikeRejected},
			wantLast:    -3.1,
		},
		{
			name:        "high spikes are not filtered",
			params:      stock,
			raws:        []Raw{Present(2.5), Present(1e9), Present(2.6)},
			wantUpdated: []bool{true, true, true},
			wantReasons: []Reason{Accepted, Accepted, Accepted},
			wantLast:    2.6,
		},
		{
			name:        "replay of accepted value is accepted",
			params:      stock,
			raws:        []Raw{Present(2.5), Present(2.5)},
			wantUpdated: []bool{true, true},
			wantReasons: []Reason{Accepted, Accepted},
			wantLast:    2.5,
		},
		{
			name:        "reading exactly at threshold is not low",
			params:      stock,
			raws:        []Raw{Present(0.001)},
			wantUpdated: []bool{true},
			wantReasons: []Reason{Accepted},
			wantLast:    0.001,
		},
		{
			name:        "missing readings do not break a low run",
			params:      stock,
			raws:        []Raw{Present(2.5), Present(0), Absent, Present(0)},
			wantUpdated: []bool{true, false, false, true},
			wantReasons: []Reason{Accepted, SpikeRejected, Missing, ConfirmedLow},
			wantLast:    0,
		},
		{
			name:        "three lows required",
			params:      SpikeParams{MinValidMagnitude: 0.001, ConsecutiveLowRequired: 3, WindowSize: 3},
			raws:        []Raw{Present(1), Present(0), Present(0), Present(0)},
			wantUpdated: []bool{true, false, false, true},
			wantReasons: []Reason{Accepted, InsufficientHistory, SpikeRejected, ConfirmedLow},
			wantLast:    0,
		},
		{
			name:        "one low required accepts low readings immediately",
			params:      SpikeParams{MinValidMagnitude: 0.001, ConsecutiveLowRequired: 1, WindowSize: 1},
			raws:        []Raw{Present(1), Present(0)},
			wantUpdated: []bool{true, true},
			wantReasons: []Reason{Accepted, ConfirmedLow},
			wantLast:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newSpikeState(t, tt.params)
			for i, raw := range tt.raws {
				r := ValidateInstantaneous(raw, state)
				if r.Updated != tt.wantUpdated[i] {
					t.Errorf("sample %d (%v): updated = %v, want %v", i, raw, r.Updated, tt.wantUpdated[i])
				}
				if r.Reason != tt.wantReasons[i] {
					t.Errorf("sample %d (%v): reason = %v, want %v", i, raw, r.Reason, tt.wantReasons[i])
				}
			}
			if state.LastAccepted != tt.wantLast {
				t.Errorf("last accepted = %v, want %v", state.LastAccepted, tt.wantLast)
			}
		})
	}
}

func TestSpikeFilterWindowEviction(t *testing.T) {
	state := newSpikeState(t, DefaultSpikeParams())

	for i, v := range []float64{1, 2, 3, 4, 5} {
		ValidateInstantaneous(Present(v), state)
		if n := len(state.Window()); n > 3 {
			t.Fatalf("after sample %d window holds %d entries", i, n)
		}
	}

	if got, want := state.Window(), []float64{3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("window = %v, want %v", got, want)
	}
}

func TestSpikeFilterWindowHoldsRawReadings(t *testing.T) {
	state := newSpikeState(t, DefaultSpikeParams())

	ValidateInstantaneous(Present(2.5), state)
	ValidateInstantaneous(Present(3.67e-27), state)

	if got, want := state.Window(), []float64{2.5, 3.67e-27}; !reflect.DeepEqual(got, want) {
		t.Errorf("window = %v, want %v", got, want)
	}
	if state.LastAccepted != 2.5 {
		t.Errorf("last accepted = %v, want 2.5", state.LastAccepted)
	}
}

func TestSpikeFilterMissingDoesNotMutate(t *testing.T) {
	state := newSpikeState(t, DefaultSpikeParams())

	r := ValidateInstantaneous(Absent, state)
	if r.Updated || r.Reason != Missing {
		t.Fatalf("got %+v, want a Missing rejection", r)
	}
	if state.Initialized || len(state.Window()) != 0 {
		t.Fatalf("absent sample changed empty state: %+v", state)
	}

	ValidateInstantaneous(Present(4), state)
	before := state.Window()
	ValidateInstantaneous(Absent, state)
	if !reflect.DeepEqual(state.Window(), before) || state.LastAccepted != 4 {
		t.Errorf("absent sample changed state: window %v, last %v", state.Window(), state.LastAccepted)
	}
}

func TestSpikeParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  SpikeParams
		wantErr bool
	}{
		{name: "defaults", params: DefaultSpikeParams()},
		{name: "window equals required", params: SpikeParams{MinValidMagnitude: 1, ConsecutiveLowRequired: 3, WindowSize: 3}},
		{name: "window smaller than required", params: SpikeParams{MinValidMagnitude: 1, ConsecutiveLowRequired: 3, WindowSize: 2}, wantErr: true},
		{name: "zero required", params: SpikeParams{MinValidMagnitude: 1, ConsecutiveLowRequired: 0, WindowSize: 2}, wantErr: true},
		{name: "negative magnitude", params: SpikeParams{MinValidMagnitude: -1, ConsecutiveLowRequired: 2, WindowSize: 3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpikeFilterState(tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSpikeParams) {
				t.Errorf("err = %v, want ErrInvalidSpikeParams", err)
			}
		})
	}
}
