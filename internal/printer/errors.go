package printer

import (
	"errors"
	"fmt"

	"github.com/thereceipt/print-station/internal/registry"
)

// ErrorKind classifies printer failures by how a caller should react to them
type ErrorKind int

const (
	// KindUnknown is any failure that was not classified
	KindUnknown ErrorKind = iota
	// KindConfiguration needs a user correction (unknown profile, missing IP)
	KindConfiguration
	// KindConnectivity can be retried once the device or network is fixed
	KindConnectivity
	// KindUnsupported is an operation the profile or transport cannot perform
	KindUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnectivity:
		return "connectivity"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

var (
	ErrProfileNotFound  = registry.ErrNotFound
	ErrUnsupported      = errors.New("unsupported")
	ErrNotConnected     = errors.New("printer not connected")
	ErrNoDeviceSelected = errors.New("no USB device selected")
	ErrEndpointNotFound = errors.New("no OUT endpoint on USB interface")
	ErrTransferFailed   = errors.New("transfer rejected")
	ErrMissingHost      = errors.New("printer IP address is not configured")
	ErrUnreachable      = errors.New("printer host unreachable")
	ErrBackendRequired  = errors.New("printing requires a backend proxy")
	ErrUnknownCodepage  = errors.New("unknown codepage")
	ErrPortNotAllowed   = errors.New("port is not allowed for proxy printing")
	ErrHostNotAllowed   = errors.New("host is not allowed for proxy printing")
)

// Error is a classified printer failure
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func configErr(op string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

func connErr(op string, err error) error {
	return &Error{Kind: KindConnectivity, Op: op, Err: err}
}

func unsupportedErr(op string, err error) error {
	return &Error{Kind: KindUnsupported, Op: op, Err: err}
}

// KindOf returns the classification of err, or KindUnknown
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsUnsupported reports whether err is a capability gap
func IsUnsupported(err error) bool {
	return KindOf(err) == KindUnsupported
}
