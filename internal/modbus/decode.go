package modbus

import (
	"fmt"
	"math"
)

// WordOrder says which register of a 32-bit value comes first. Bytes within
// a register are always big-endian.
type WordOrder string

const (
	// HighWordFirst is the usual "big-endian" register order.
	HighWordFirst WordOrder = "big"
	// LowWordFirst swaps the two registers.
	LowWordFirst WordOrder = "little"
)

// ParseWordOrder parses "big" or "little".
func ParseWordOrder(s string) (WordOrder, error) {
	switch WordOrder(s) {
	case HighWordFirst, LowWordFirst:
		return WordOrder(s), nil
	default:
		return "", fmt.Errorf("unknown word order %q", s)
	}
}

// DecodeFloat32 interprets two registers as an IEEE-754 single.
func DecodeFloat32(regs []uint16, order WordOrder) (float64, error) {
	if len(regs) != 2 {
		return 0, fmt.Errorf("float32 needs 2 registers, got %d", len(regs))
	}
	hi, lo := regs[0], regs[1]
	if order == LowWordFirst {
		hi, lo = lo, hi
	}
	return float64(math.Float32frombits(uint32(hi)<<16 | uint32(lo))), nil
}

// EncodeFloat32 is the inverse of DecodeFloat32.
func EncodeFloat32(v float32, order WordOrder) [2]uint16 {
	bits := math.Float32bits(v)
	hi, lo := uint16(bits>>16), uint16(bits)
	if order == LowWordFirst {
		return [2]uint16{lo, hi}
	}
	return [2]uint16{hi, lo}
}
