package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FuncReadHoldingRegisters is the only function code the exporter issues.
const FuncReadHoldingRegisters byte = 0x03

// MaxReadQuantity is the protocol limit for one Read Holding Registers
// request.
const MaxReadQuantity = 125

const (
	mbapHeaderLen = 7
	maxPDULen     = 253
)

// Framing selects how PDUs are wrapped on the wire.
type Framing string

const (
	// FramingTCP uses the MBAP header (Modbus TCP).
	FramingTCP Framing = "tcp"
	// FramingRTU uses slave address + PDU + CRC, on serial lines or through a
	// transparent serial-to-TCP gateway.
	FramingRTU Framing = "rtu"
)

// ParseFraming parses "tcp" or "rtu".
func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case FramingTCP, FramingRTU:
		return Framing(s), nil
	default:
		return "", fmt.Errorf("unknown framing %q", s)
	}
}

// CRC16 computes the Modbus RTU checksum (poly 0xA001, init 0xFFFF).
func CRC16(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

func appendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// readRequestPDU builds the PDU of a Read Holding Registers request.
func readRequestPDU(address, quantity uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = FuncReadHoldingRegisters
	binary.BigEndian.PutUint16(pdu[1:], address)
	binary.BigEndian.PutUint16(pdu[3:], quantity)
	return pdu
}

// packager wraps and unwraps PDUs for one framing.
type packager interface {
	encode(unit byte, pdu []byte) []byte
	// decode reads exactly one response frame and returns its PDU.
	decode(r io.Reader, unit byte) ([]byte, error)
}

type tcpPackager struct {
	transactionID uint16
}

func (p *tcpPackager) encode(unit byte, pdu []byte) []byte {
	p.transactionID++
	return encodeMBAP(p.transactionID, unit, pdu)
}

func encodeMBAP(transactionID uint16, unit byte, pdu []byte) []byte {
	frame := make([]byte, mbapHeaderLen, mbapHeaderLen+len(pdu))
	binary.BigEndian.PutUint16(frame[0:], transactionID)
	binary.BigEndian.PutUint16(frame[2:], 0)
	binary.BigEndian.PutUint16(frame[4:], uint16(len(pdu)+1))
	frame[6] = unit
	return append(frame, pdu...)
}

func (p *tcpPackager) decode(r io.Reader, unit byte) ([]byte, error) {
	header := make([]byte, mbapHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, &LinkError{Op: "read", Err: err}
	}

	length := binary.BigEndian.Uint16(header[4:])
	if length < 2 || length > maxPDULen+1 {
		// The stream cannot be resynchronized without a sane length.
		return nil, &LinkError{Op: "read", Err: fmt.Errorf("MBAP length %d out of range", length)}
	}
	pdu := make([]byte, length-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return nil, &LinkError{Op: "read", Err: err}
	}

	if tid := binary.BigEndian.Uint16(header[0:]); tid != p.transactionID {
		return nil, invalidf("transaction id %d, want %d", tid, p.transactionID)
	}
	if proto := binary.BigEndian.Uint16(header[2:]); proto != 0 {
		return nil, invalidf("protocol id %d", proto)
	}
	if header[6] != unit {
		return nil, invalidf("unit id %d, want %d", header[6], unit)
	}
	return pdu, nil
}

type rtuPackager struct{}

func (rtuPackager) encode(unit byte, pdu []byte) []byte {
	frame := make([]byte, 0, len(pdu)+3)
	frame = append(frame, unit)
	frame = append(frame, pdu...)
	return appendCRC(frame)
}

// decode knows the response layouts of function 0x03 and of exceptions;
// RTU has no length field so the PDU shape drives how much to read.
func (rtuPackager) decode(r io.Reader, unit byte) ([]byte, error) {
	head := make([]byte, 3)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, &LinkError{Op: "read", Err: err}
	}

	var rest int
	switch {
	case head[1]&0x80 != 0:
		// exception code already in head[2]; CRC follows
		rest = 2
	case head[1] == FuncReadHoldingRegisters:
		rest = int(head[2]) + 2
	default:
		return nil, &LinkError{Op: "read", Err: fmt.Errorf("unexpected function 0x%02X in RTU response", head[1])}
	}

	frame := make([]byte, len(head)+rest)
	copy(frame, head)
	if _, err := io.ReadFull(r, frame[len(head):]); err != nil {
		return nil, &LinkError{Op: "read", Err: err}
	}

	n := len(frame)
	received := binary.LittleEndian.Uint16(frame[n-2:])
	if calculated := CRC16(frame[:n-2]); received != calculated {
		return nil, invalidf("CRC 0x%04X, calculated 0x%04X", received, calculated)
	}
	if frame[0] != unit {
		return nil, invalidf("slave id %d, want %d", frame[0], unit)
	}
	return frame[1 : n-2], nil
}

// parseReadResponse checks a Read Holding Registers response PDU and returns
// its register values.
func parseReadResponse(pdu []byte, quantity uint16) ([]uint16, error) {
	if len(pdu) < 2 {
		return nil, invalidf("short PDU (%d bytes)", len(pdu))
	}
	if pdu[0] == FuncReadHoldingRegisters|0x80 {
		return nil, &ExceptionError{Function: FuncReadHoldingRegisters, Code: pdu[1]}
	}
	if pdu[0] != FuncReadHoldingRegisters {
		return nil, invalidf("function 0x%02X, want 0x%02X", pdu[0], FuncReadHoldingRegisters)
	}

	byteCount := int(pdu[1])
	if byteCount != int(quantity)*2 || len(pdu) != 2+byteCount {
		return nil, invalidf("byte count %d for %d registers", byteCount, quantity)
	}

	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(pdu[2+i*2:])
	}
	return regs, nil
}
