package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// Transport errors.
var (
	ErrConnection    = errors.New("connection error")
	ErrTimeout       = errors.New("operation timed out")
	ErrSessionClosed = fmt.Errorf("%w: session closed", ErrConnection)
)

// ADS error codes reported by controllers.
const (
	CodeServiceNotSupported   uint32 = 0x701
	CodeInvalidIndexGroup     uint32 = 0x702
	CodeInvalidIndexOffset    uint32 = 0x703
	CodeInvalidSize           uint32 = 0x705
	CodeSymbolNotFound        uint32 = 0x710
	CodeSymbolVersionInvalid  uint32 = 0x711
	CodeInvalidNotification   uint32 = 0x714
	CodeNotificationsExceeded uint32 = 0x71a
	CodeClientTimeout         uint32 = 0x745
)

var codeText = map[uint32]string{
	CodeServiceNotSupported:   "service not supported",
	CodeInvalidIndexGroup:     "invalid index group",
	CodeInvalidIndexOffset:    "invalid index offset",
	CodeInvalidSize:           "invalid parameter size",
	CodeSymbolNotFound:        "symbol not found",
	CodeSymbolVersionInvalid:  "symbol version invalid",
	CodeInvalidNotification:   "invalid notification handle",
	CodeNotificationsExceeded: "too many notifications",
	CodeClientTimeout:         "timeout elapsed",
}

// DeviceError is an error code returned by the controller.
type DeviceError struct {
	Code uint32
}

func (e *DeviceError) Error() string {
	if text, ok := codeText[e.Code]; ok {
		return fmt.Sprintf("device error %d (0x%x): %s", e.Code, e.Code, text)
	}
	return fmt.Sprintf("device error %d (0x%x)", e.Code, e.Code)
}

// Is lets a controller-side timeout match ErrTimeout.
func (e *DeviceError) Is(target error) bool {
	return target == ErrTimeout && e.Code == CodeClientTimeout
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnectionError reports whether err means the session is unusable.
func IsConnectionError(err error) bool {
	if err == nil || IsTimeout(err) {
		return false
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// DeviceCode extracts the controller error code from err.
func DeviceCode(err error) (uint32, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code, true
	}
	return 0, false
}

// Describe renders err as an operator-facing message about address.
func Describe(err error, address string) string {
	switch {
	case err == nil:
		return ""
	case IsTimeout(err):
		return fmt.Sprintf("Timeout accessing %s", address)
	case IsConnectionError(err):
		return fmt.Sprintf("Connection lost while accessing %s", address)
	}
	if code, ok := DeviceCode(err); ok {
		switch code {
		case CodeSymbolNotFound:
			return fmt.Sprintf("Variable %s not found", address)
		case CodeInvalidNotification, CodeSymbolVersionInvalid:
			return fmt.Sprintf("Invalid handle for %s", address)
		}
	}
	return fmt.Sprintf("Error accessing %s: %v", address, err)
}
