package modbus

import (
	"errors"
	"fmt"
)

// Exception codes defined by the Modbus application protocol.
const (
	ExceptionIllegalFunction     byte = 0x01
	ExceptionIllegalDataAddress  byte = 0x02
	ExceptionIllegalDataValue    byte = 0x03
	ExceptionServerDeviceFailure byte = 0x04
	ExceptionGatewayTargetFailed byte = 0x0B
)

// ExceptionError is returned when the device answers with an exception
// response. The link is still usable.
type ExceptionError struct {
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X (%s) for function 0x%02X", e.Code, exceptionName(e.Code), e.Function)
}

func exceptionName(code byte) string {
	switch code {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "server device busy"
	case 0x0A:
		return "gateway path unavailable"
	case ExceptionGatewayTargetFailed:
		return "gateway target failed to respond"
	default:
		return "unknown"
	}
}

// ErrInvalidResponse marks a response that was received but could not be
// matched to the request (bad CRC, wrong transaction, unit or function, bad
// length).
var ErrInvalidResponse = errors.New("invalid modbus response")

// LinkError wraps an I/O failure on the underlying connection. The
// connection should be discarded.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("modbus link %s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// IsLinkError reports whether err requires reconnecting.
func IsLinkError(err error) bool {
	var le *LinkError
	return errors.As(err, &le)
}

// ErrorKind classifies an error for metrics labels: "exception", "invalid",
// "link" or "other".
func ErrorKind(err error) string {
	var ee *ExceptionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ee):
		return "exception"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid"
	case IsLinkError(err):
		return "link"
	default:
		return "other"
	}
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidResponse}, args...)...)
}
