package modbus

import (
	"encoding/binary"
	"errors"
)

// ErrIncomplete is returned by ParseTCPRequest when the buffer does not yet
// hold a whole frame.
var ErrIncomplete = errors.New("incomplete modbus frame")

// TCPRequest is a decoded Modbus TCP request. Address and Quantity are only
// meaningful for read/write-multiple style functions.
type TCPRequest struct {
	TransactionID uint16
	Unit          byte
	Function      byte
	Address       uint16
	Quantity      uint16
}

// ParseTCPRequest decodes the first request in buf and reports how many bytes
// it used. Frames with a nonzero protocol id or an impossible length are
// invalid; the caller should drop the connection.
func ParseTCPRequest(buf []byte) (TCPRequest, int, error) {
	if len(buf) < mbapHeaderLen {
		return TCPRequest{}, 0, ErrIncomplete
	}

	length := int(binary.BigEndian.Uint16(buf[4:]))
	if length < 2 || length > maxPDULen+1 {
		return TCPRequest{}, 0, invalidf("MBAP length %d out of range", length)
	}
	if proto := binary.BigEndian.Uint16(buf[2:]); proto != 0 {
		return TCPRequest{}, 0, invalidf("protocol id %d", proto)
	}

	total := mbapHeaderLen - 1 + length
	if len(buf) < total {
		return TCPRequest{}, 0, ErrIncomplete
	}

	req := TCPRequest{
		TransactionID: binary.BigEndian.Uint16(buf[0:]),
		Unit:          buf[6],
		Function:      buf[7],
	}
	if pdu := buf[7:total]; len(pdu) >= 5 {
		req.Address = binary.BigEndian.Uint16(pdu[1:])
		req.Quantity = binary.BigEndian.Uint16(pdu[3:])
	}
	return req, total, nil
}

// TCPResponse encodes a Read Holding Registers response.
func TCPResponse(req TCPRequest, regs []uint16) []byte {
	pdu := make([]byte, 2+len(regs)*2)
	pdu[0] = req.Function
	pdu[1] = byte(len(regs) * 2)
	for i, v := range regs {
		binary.BigEndian.PutUint16(pdu[2+i*2:], v)
	}
	return encodeMBAP(req.TransactionID, req.Unit, pdu)
}

// TCPExceptionResponse encodes an exception response to req.
func TCPExceptionResponse(req TCPRequest, code byte) []byte {
	return encodeMBAP(req.TransactionID, req.Unit, []byte{req.Function | 0x80, code})
}

// RTUResponse encodes a Read Holding Registers response with RTU framing.
func RTUResponse(unit byte, regs []uint16) []byte {
	pdu := make([]byte, 2+len(regs)*2)
	pdu[0] = FuncReadHoldingRegisters
	pdu[1] = byte(len(regs) * 2)
	for i, v := range regs {
		binary.BigEndian.PutUint16(pdu[2+i*2:], v)
	}
	return rtuPackager{}.encode(unit, pdu)
}
