// Package modbus implements the small slice of the Modbus protocol the
// exporter needs: reading holding registers over TCP (MBAP) or RTU framing.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	serial "github.com/tarm/goserial"
)

// Options configures a Client.
type Options struct {
	Framing Framing
	SlaveID byte
	// Timeout bounds one request/response exchange. Zero disables it.
	Timeout time.Duration
}

// Client issues one request at a time over a single connection.
type Client struct {
	mu      sync.Mutex
	conn    io.ReadWriteCloser
	pkg     packager
	unit    byte
	timeout time.Duration
	closed  bool
}

var errClientClosed = errors.New("client closed")

type deadliner interface {
	SetDeadline(t time.Time) error
}

// NewClient wraps an established connection.
func NewClient(conn io.ReadWriteCloser, opts Options) *Client {
	c := &Client{
		conn:    conn,
		unit:    opts.SlaveID,
		timeout: opts.Timeout,
	}
	if opts.Framing == FramingRTU {
		c.pkg = rtuPackager{}
	} else {
		c.pkg = &tcpPackager{}
	}
	return c
}

// Dial connects to a Modbus TCP device or a serial-to-TCP gateway.
func Dial(ctx context.Context, address string, opts Options) (*Client, error) {
	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &LinkError{Op: "dial", Err: err}
	}
	return NewClient(conn, opts), nil
}

// OpenSerial opens a serial port. Serial links always use RTU framing.
func OpenSerial(device string, baud int, opts Options) (*Client, error) {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, &LinkError{Op: "open", Err: err}
	}
	opts.Framing = FramingRTU
	return NewClient(port, opts), nil
}

// ReadHoldingRegisters reads quantity registers starting at address
// (function 0x03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	if quantity == 0 || quantity > MaxReadQuantity {
		return nil, fmt.Errorf("register quantity %d out of range 1-%d", quantity, MaxReadQuantity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &LinkError{Op: "write", Err: errClientClosed}
	}
	if err := ctx.Err(); err != nil {
		return nil, &LinkError{Op: "write", Err: err}
	}

	disarm := c.arm(ctx)
	defer disarm()

	frame := c.pkg.encode(c.unit, readRequestPDU(address, quantity))
	if _, err := c.conn.Write(frame); err != nil {
		return nil, c.linkError(ctx, "write", err)
	}

	pdu, err := c.pkg.decode(c.conn, c.unit)
	if err != nil {
		var le *LinkError
		if errors.As(err, &le) {
			return nil, c.linkError(ctx, le.Op, le.Err)
		}
		return nil, err
	}

	return parseReadResponse(pdu, quantity)
}

// arm bounds the exchange by the timeout and ctx. Connections with deadlines
// get a deadline; others (serial ports) are closed by a watchdog.
func (c *Client) arm(ctx context.Context) func() {
	if d, ok := c.conn.(deadliner); ok {
		var deadline time.Time
		if c.timeout > 0 {
			deadline = time.Now().Add(c.timeout)
		}
		if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
			deadline = ctxDeadline
		}
		_ = d.SetDeadline(deadline)
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetDeadline(time.Unix(1, 0))
		})
		return func() {
			stop()
			_ = d.SetDeadline(time.Time{})
		}
	}

	var watchdog *time.Timer
	if c.timeout > 0 {
		watchdog = time.AfterFunc(c.timeout, func() { _ = c.conn.Close() })
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	return func() {
		stop()
		if watchdog != nil {
			watchdog.Stop()
		}
	}
}

func (c *Client) linkError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &LinkError{Op: op, Err: ctxErr}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &LinkError{Op: op, Err: fmt.Errorf("no response within %s: %w", c.timeout, err)}
	}
	return &LinkError{Op: op, Err: err}
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
