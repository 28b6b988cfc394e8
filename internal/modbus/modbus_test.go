package modbus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"os"
	"testing"
	"time"
)

func TestCRC16(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	if got := CRC16(frame); got != 0xCDC5 {
		t.Errorf("CRC16 = 0x%04X, want 0xCDC5", got)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}
	if got := (rtuPackager{}).encode(1, readRequestPDU(0, 10)); !bytes.Equal(got, want) {
		t.Errorf("RTU frame = % X, want % X", got, want)
	}
}

func TestDecodeFloat32(t *testing.T) {
	tests := []struct {
		name  string
		regs  []uint16
		order WordOrder
		want  float64
	}{
		{name: "big", regs: []uint16{0x4366, 0x8000}, order: HighWordFirst, want: 230.5},
		{name: "little", regs: []uint16{0x8000, 0x4366}, order: LowWordFirst, want: 230.5},
		{name: "zero", regs: []uint16{0, 0}, order: HighWordFirst, want: 0},
		{name: "negative", regs: []uint16{0xBF80, 0x0000}, order: HighWordFirst, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFloat32(tt.regs, tt.order)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := DecodeFloat32([]uint16{1}, HighWordFirst); err == nil {
		t.Error("expected an error for a single register")
	}

	// Bus noise decodes as a denormal, not as an error.
	denormal := EncodeFloat32(3.67e-40, HighWordFirst)
	v, _ := DecodeFloat32(denormal[:], HighWordFirst)
	if v == 0 || math.Abs(v) > 1e-38 {
		t.Errorf("denormal decoded as %v", v)
	}

	for _, order := range []WordOrder{HighWordFirst, LowWordFirst} {
		regs := EncodeFloat32(1234.25, order)
		if v, _ := DecodeFloat32(regs[:], order); v != 1234.25 {
			t.Errorf("%s: round trip gave %v", order, v)
		}
	}
}

// serve answers one request on conn using respond.
func serveTCP(t *testing.T, conn net.Conn, respond func(req TCPRequest) []byte) {
	t.Helper()
	go func() {
		buf := make([]byte, 12)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		req, n, err := ParseTCPRequest(buf)
		if err != nil || n != 12 {
			t.Errorf("ParseTCPRequest: n=%d err=%v", n, err)
			return
		}
		if resp := respond(req); resp != nil {
			conn.Write(resp)
		}
	}()
}

func newPipeClient(t *testing.T, framing Framing, timeout time.Duration) (*Client, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	c := NewClient(client, Options{Framing: framing, SlaveID: 2, Timeout: timeout})
	t.Cleanup(func() { c.Close() })
	return c, server
}

func TestTCPReadHoldingRegisters(t *testing.T) {
	c, server := newPipeClient(t, FramingTCP, time.Second)

	serveTCP(t, server, func(req TCPRequest) []byte {
		if req.Unit != 2 || req.Function != FuncReadHoldingRegisters || req.Address != 0x5012 || req.Quantity != 2 {
			t.Errorf("request = %+v", req)
		}
		return TCPResponse(req, []uint16{0x4366, 0x8000})
	})

	regs, err := c.ReadHoldingRegisters(context.Background(), 0x5012, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 2 || regs[0] != 0x4366 || regs[1] != 0x8000 {
		t.Errorf("regs = %04X", regs)
	}
}

func TestTCPErrors(t *testing.T) {
	tests := []struct {
		name     string
		respond  func(req TCPRequest) []byte
		wantKind string
	}{
		{
			name:     "exception",
			respond:  func(req TCPRequest) []byte { return TCPExceptionResponse(req, ExceptionIllegalDataAddress) },
			wantKind: "exception",
		},
		{
			name: "transaction mismatch",
			respond: func(req TCPRequest) []byte {
				req.TransactionID++
				return TCPResponse(req, []uint16{1, 2})
			},
			wantKind: "invalid",
		},
		{
			name: "unit mismatch",
			respond: func(req TCPRequest) []byte {
				req.Unit = 9
				return TCPResponse(req, []uint16{1, 2})
			},
			wantKind: "invalid",
		},
		{
			name:     "wrong register count",
			respond:  func(req TCPRequest) []byte { return TCPResponse(req, []uint16{1}) },
			wantKind: "invalid",
		},
		{
			name:     "no response",
			respond:  func(req TCPRequest) []byte { return nil },
			wantKind: "link",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, server := newPipeClient(t, FramingTCP, 100*time.Millisecond)
			serveTCP(t, server, tt.respond)

			_, err := c.ReadHoldingRegisters(context.Background(), 0x6000, 2)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := ErrorKind(err); got != tt.wantKind {
				t.Errorf("ErrorKind(%v) = %q, want %q", err, got, tt.wantKind)
			}
		})
	}
}

func TestExceptionError(t *testing.T) {
	c, server := newPipeClient(t, FramingTCP, time.Second)
	serveTCP(t, server, func(req TCPRequest) []byte {
		return TCPExceptionResponse(req, ExceptionIllegalDataAddress)
	})

	_, err := c.ReadHoldingRegisters(context.Background(), 0x7000, 2)
	var ee *ExceptionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExceptionError", err)
	}
	if ee.Code != ExceptionIllegalDataAddress || ee.Function != FuncReadHoldingRegisters {
		t.Errorf("exception = %+v", ee)
	}
	if IsLinkError(err) {
		t.Error("exception reported as link error")
	}
}

func TestTimeoutIsLinkError(t *testing.T) {
	c, server := newPipeClient(t, FramingTCP, 50*time.Millisecond)
	serveTCP(t, server, func(req TCPRequest) []byte { return nil })

	_, err := c.ReadHoldingRegisters(context.Background(), 0x5012, 2)
	if !IsLinkError(err) || !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("err = %v, want link timeout", err)
	}
}

func TestContextCancelInterruptsRead(t *testing.T) {
	c, server := newPipeClient(t, FramingTCP, 0)
	serveTCP(t, server, func(req TCPRequest) []byte { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := c.ReadHoldingRegisters(ctx, 0x5012, 2)
	if !errors.Is(err, context.Canceled) || !IsLinkError(err) {
		t.Errorf("err = %v, want canceled link error", err)
	}
}

func TestClosedClient(t *testing.T) {
	c, _ := newPipeClient(t, FramingTCP, time.Second)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := c.ReadHoldingRegisters(context.Background(), 0, 2); !IsLinkError(err) {
		t.Errorf("err = %v, want link error", err)
	}
}

func TestQuantityBounds(t *testing.T) {
	c, _ := newPipeClient(t, FramingTCP, time.Second)
	for _, q := range []uint16{0, MaxReadQuantity + 1} {
		if _, err := c.ReadHoldingRegisters(context.Background(), 0, q); err == nil || IsLinkError(err) {
			t.Errorf("quantity %d: err = %v", q, err)
		}
	}
}

func serveRTU(t *testing.T, conn net.Conn, respond func(req []byte) []byte) {
	t.Helper()
	go func() {
		req := make([]byte, 8)
		if _, err := io.ReadFull(conn, req); err != nil {
			return
		}
		if got := CRC16(req[:6]); got != uint16(req[6])|uint16(req[7])<<8 {
			t.Errorf("request CRC mismatch: % X", req)
			return
		}
		conn.Write(respond(req))
	}()
}

func TestRTUReadHoldingRegisters(t *testing.T) {
	c, server := newPipeClient(t, FramingRTU, time.Second)
	serveRTU(t, server, func(req []byte) []byte {
		return RTUResponse(req[0], []uint16{0x4366, 0x8000})
	})

	regs, err := c.ReadHoldingRegisters(context.Background(), 0x6000, 2)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := DecodeFloat32(regs, HighWordFirst); v != 230.5 {
		t.Errorf("decoded %v", v)
	}
}

func TestRTUErrors(t *testing.T) {
	tests := []struct {
		name     string
		respond  func(req []byte) []byte
		wantKind string
	}{
		{
			name: "bad crc",
			respond: func(req []byte) []byte {
				resp := RTUResponse(req[0], []uint16{1, 2})
				resp[len(resp)-1] ^= 0xFF
				return resp
			},
			wantKind: "invalid",
		},
		{
			name:     "wrong slave",
			respond:  func(req []byte) []byte { return RTUResponse(7, []uint16{1, 2}) },
			wantKind: "invalid",
		},
		{
			name: "exception",
			respond: func(req []byte) []byte {
				return appendCRC([]byte{req[0], FuncReadHoldingRegisters | 0x80, ExceptionGatewayTargetFailed})
			},
			wantKind: "exception",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, server := newPipeClient(t, FramingRTU, time.Second)
			serveRTU(t, server, tt.respond)

			_, err := c.ReadHoldingRegisters(context.Background(), 0x6000, 2)
			if got := ErrorKind(err); got != tt.wantKind {
				t.Errorf("ErrorKind(%v) = %q, want %q", err, got, tt.wantKind)
			}
		})
	}
}

func TestParseTCPRequest(t *testing.T) {
	frame := encodeMBAP(7, 2, readRequestPDU(0x5014, 2))

	if _, _, err := ParseTCPRequest(frame[:5]); !errors.Is(err, ErrIncomplete) {
		t.Errorf("short header: err = %v", err)
	}
	if _, _, err := ParseTCPRequest(frame[:10]); !errors.Is(err, ErrIncomplete) {
		t.Errorf("short body: err = %v", err)
	}

	// Two pipelined requests; only the first is consumed.
	buf := append(append([]byte{}, frame...), frame...)
	req, n, err := ParseTCPRequest(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(frame) {
		t.Errorf("consumed %d bytes, want %d", n, len(frame))
	}
	want := TCPRequest{TransactionID: 7, Unit: 2, Function: FuncReadHoldingRegisters, Address: 0x5014, Quantity: 2}
	if req != want {
		t.Errorf("request = %+v, want %+v", req, want)
	}

	bad := append([]byte{}, frame...)
	bad[2] = 1
	if _, _, err := ParseTCPRequest(bad); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("bad protocol id: err = %v", err)
	}
}

func TestParseOptions(t *testing.T) {
	if _, err := ParseFraming("ascii"); err == nil {
		t.Error("ParseFraming accepted ascii")
	}
	if f, err := ParseFraming("rtu"); err != nil || f != FramingRTU {
		t.Errorf("ParseFraming(rtu) = %v, %v", f, err)
	}
	if _, err := ParseWordOrder("middle"); err == nil {
		t.Error("ParseWordOrder accepted middle")
	}
}
