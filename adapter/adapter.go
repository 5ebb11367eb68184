package adapter

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nixxel-company-limited/escpos-status/config"
)

// USBPrefix marks endpoints served by the USB backend, e.g. "usb:04b8:0202".
const USBPrefix = "usb:"

// Adapter defines the interface for printer communication adapters
type Adapter interface {
	// Open opens the connection to the printer
	Open() error

	// Write sends data to the printer. It fails with ErrWriteTimeout if the
	// data is not flushed within the configured write timeout.
	Write(data []byte) (int, error)

	// ReadStatusByte waits up to timeout for a single byte. ErrReadTimeout
	// means the printer did not answer; it is not a transport failure.
	ReadStatusByte(timeout time.Duration) (byte, error)

	// ResetBuffers discards pending input and output
	ResetBuffers() error

	// Close closes the connection to the printer. Calling it more than once
	// is safe.
	Close() error

	// IsOpen returns whether the connection is open
	IsOpen() bool

	// Endpoint returns the address the adapter is bound to
	Endpoint() string
}

// Factory builds an unopened adapter for endpoint.
type Factory func(endpoint string, cfg config.Configuration) (Adapter, error)

// NewFactory returns the default Factory, routing "usb:" endpoints to the
// USB backend and everything else to the serial backend.
func NewFactory(logger *logrus.Logger) Factory {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(endpoint string, cfg config.Configuration) (Adapter, error) {
		return New(endpoint, cfg, logger)
	}
}

// New builds an unopened adapter for endpoint.
func New(endpoint string, cfg config.Configuration, logger *logrus.Logger) (Adapter, error) {
	name := strings.TrimSpace(endpoint)
	if name == "" {
		return nil, &TransportError{Kind: KindInvalidEndpoint, Op: "open", Endpoint: endpoint, Err: errEmptyEndpoint}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if strings.HasPrefix(strings.ToLower(name), USBPrefix) {
		vid, pid, err := ParseUSBEndpoint(name)
		if err != nil {
			return nil, &TransportError{Kind: KindInvalidEndpoint, Op: "open", Endpoint: endpoint, Err: err}
		}
		return NewUSBAdapter(name, vid, pid, cfg.WriteTimeout(), logger), nil
	}

	return NewSerialAdapter(name, cfg, logger), nil
}
