package main

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/chrissnell/meterexporter/internal/modbus"
	"github.com/chrissnell/meterexporter/pkg/config"
)

// GlitchConfig controls the faults the emulator injects. Rates are
// probabilities per register read.
type GlitchConfig struct {
	// LowPowerRate makes a power register return a denormal float, the
	// transient near-zero reading the spike filter exists for.
	LowPowerRate float64
	// ZeroEnergyRate makes an energy register return 0.
	ZeroEnergyRate float64
	// RegressRate makes an energy register return a value below the last
	// one served.
	RegressRate float64
	// ExceptionRate answers with a server device failure exception.
	ExceptionRate float64
}

type register struct {
	channel string
	kind    string
	// power in kW for instantaneous registers, energy in kWh for accumulators
	value float64
	// phase the register draws its load from; 0 is the total
	phase int
}

// SimulatedMeter holds the register bank of a three-phase energy meter.
type SimulatedMeter struct {
	mu      sync.Mutex
	order   modbus.WordOrder
	glitch  GlitchConfig
	rng     *rand.Rand
	now     func() time.Time
	updated time.Time

	load      [3]float64 // kW per phase
	registers map[uint16]*register
}

// NewSimulatedMeter lays out the registers of channels. Channel names ending
// in _l1, _l2 or _l3 follow that phase; anything else reports the total.
func NewSimulatedMeter(channels []config.ChannelData, order modbus.WordOrder, glitch GlitchConfig, seed int64) *SimulatedMeter {
	m := &SimulatedMeter{
		order:     order,
		glitch:    glitch,
		rng:       rand.New(rand.NewSource(seed)),
		now:       time.Now,
		load:      [3]float64{1.2, 0.8, 1.5},
		registers: make(map[uint16]*register, len(channels)),
	}
	m.updated = m.now()

	for _, ch := range channels {
		r := &register{channel: ch.Name, kind: ch.Kind, phase: phaseOf(ch.Name)}
		if ch.Kind == "accumulator" {
			r.value = 12000 + 1000*float64(r.phase)
		}
		m.registers[ch.Address] = r
	}
	m.refresh()
	return m
}

func phaseOf(name string) int {
	for i, suffix := range []string{"_l1", "_l2", "_l3"} {
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			return i + 1
		}
	}
	return 0
}

// refresh advances the simulation to now. Loads random-walk and energy
// integrates load over the elapsed time.
func (m *SimulatedMeter) refresh() {
	now := m.now()
	hours := now.Sub(m.updated).Hours()
	m.updated = now

	for i := range m.load {
		m.load[i] = math.Max(0.05, m.load[i]+m.rng.NormFloat64()*0.05)
	}

	for _, r := range m.registers {
		p := m.phaseLoad(r.phase)
		switch r.kind {
		case "accumulator":
			r.value += p * hours
		default:
			r.value = p
		}
	}
}

func (m *SimulatedMeter) phaseLoad(phase int) float64 {
	if phase == 0 {
		return m.load[0] + m.load[1] + m.load[2]
	}
	return m.load[phase-1]
}

// ReadHoldingRegisters serves a read of quantity registers at address. Every
// float occupies two registers; reads must cover whole floats. The second
// return value is a Modbus exception code, or zero on success.
func (m *SimulatedMeter) ReadHoldingRegisters(address, quantity uint16) ([]uint16, byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if quantity == 0 || quantity > modbus.MaxReadQuantity {
		return nil, modbus.ExceptionIllegalDataValue
	}
	if quantity%2 != 0 {
		return nil, modbus.ExceptionIllegalDataAddress
	}
	if m.roll(m.glitch.ExceptionRate) {
		return nil, modbus.ExceptionServerDeviceFailure
	}

	m.refresh()

	out := make([]uint16, 0, quantity)
	for a := uint32(address); a < uint32(address)+uint32(quantity); a += 2 {
		r, ok := m.registers[uint16(a)]
		if !ok {
			return nil, modbus.ExceptionIllegalDataAddress
		}
		words := modbus.EncodeFloat32(float32(m.served(r)), m.order)
		out = append(out, words[0], words[1])
	}
	return out, 0
}

// served is the value a read returns, after glitch injection.
func (m *SimulatedMeter) served(r *register) float64 {
	if r.kind == "accumulator" {
		switch {
		case m.roll(m.glitch.ZeroEnergyRate):
			return 0
		case m.roll(m.glitch.RegressRate):
			return r.value - 1 - m.rng.Float64()*10
		}
		return r.value
	}
	if m.roll(m.glitch.LowPowerRate) {
		return float64(math.Float32frombits(1))
	}
	return r.value
}

func (m *SimulatedMeter) roll(rate float64) bool {
	return rate > 0 && m.rng.Float64() < rate
}
