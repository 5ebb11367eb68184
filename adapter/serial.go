package adapter

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/nixxel-company-limited/escpos-status/config"
)

type portOpener func(name string, mode *serial.Mode) (serial.Port, error)

// SerialAdapter manages serial printer communication
type SerialAdapter struct {
	endpoint     string
	mode         *serial.Mode
	writeTimeout time.Duration
	openPort     portOpener
	logger       *logrus.Entry

	mu   sync.Mutex
	port serial.Port
}

// NewSerialAdapter creates a new, unopened serial adapter
func NewSerialAdapter(endpoint string, cfg config.Configuration, logger *logrus.Logger) *SerialAdapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SerialAdapter{
		endpoint:     endpoint,
		mode:         serialMode(cfg.Framing()),
		writeTimeout: cfg.WriteTimeout(),
		openPort:     serial.Open,
		logger:       logger.WithFields(logrus.Fields{"component": "adapter", "transport": "serial", "endpoint": endpoint}),
	}
}

func serialMode(f config.Framing) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: f.BaudRate,
		DataBits: f.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch f.Parity {
	case config.ParityOdd:
		mode.Parity = serial.OddParity
	case config.ParityEven:
		mode.Parity = serial.EvenParity
	case config.ParityMark:
		mode.Parity = serial.MarkParity
	case config.ParitySpace:
		mode.Parity = serial.SpaceParity
	}
	switch f.StopBits {
	case config.StopBitsOnePointFive:
		mode.StopBits = serial.OnePointFiveStopBits
	case config.StopBitsTwo:
		mode.StopBits = serial.TwoStopBits
	}
	return mode
}

// Endpoint returns the serial device name
func (a *SerialAdapter) Endpoint() string {
	return a.endpoint
}

// Open opens and configures the serial port
func (a *SerialAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port != nil {
		return ErrAlreadyOpen
	}

	port, err := a.openPort(a.endpoint, a.mode)
	if err != nil {
		return classifySerial(a.endpoint, "open", err)
	}
	a.port = port
	a.logger.WithField("baud", a.mode.BaudRate).Debug("serial port opened")

	return nil
}

// Write sends data and waits for it to drain, bounded by the write timeout
func (a *SerialAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port == nil {
		return 0, ErrNotOpen
	}
	if a.writeTimeout <= 0 {
		return 0, ErrInvalidTimeout
	}

	type result struct {
		n   int
		err error
	}
	port := a.port
	done := make(chan result, 1)
	go func() {
		n, err := port.Write(data)
		if err == nil {
			err = port.Drain()
		}
		done <- result{n: n, err: err}
	}()

	timer := time.NewTimer(a.writeTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return r.n, classifySerial(a.endpoint, "write", r.err)
		}
		return r.n, nil
	case <-timer.C:
		return 0, ErrWriteTimeout
	}
}

// ReadStatusByte reads one byte, waiting at most timeout
func (a *SerialAdapter) ReadStatusByte(timeout time.Duration) (byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port == nil {
		return 0, ErrNotOpen
	}
	// go.bug.st/serial treats a zero read timeout as "return at once".
	if timeout <= 0 {
		return 0, ErrInvalidTimeout
	}
	if err := a.port.SetReadTimeout(timeout); err != nil {
		return 0, classifySerial(a.endpoint, "read", err)
	}

	buf := make([]byte, 1)
	n, err := a.port.Read(buf)
	if err != nil {
		return 0, classifySerial(a.endpoint, "read", err)
	}
	// go.bug.st/serial reports an elapsed read timeout as a zero-length read.
	if n == 0 {
		return 0, ErrReadTimeout
	}

	return buf[0], nil
}

// ResetBuffers discards unread input and unsent output
func (a *SerialAdapter) ResetBuffers() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port == nil {
		return ErrNotOpen
	}
	if err := a.port.ResetInputBuffer(); err != nil {
		return classifySerial(a.endpoint, "reset", err)
	}
	if err := a.port.ResetOutputBuffer(); err != nil {
		return classifySerial(a.endpoint, "reset", err)
	}
	return nil
}

// Close closes the serial port
func (a *SerialAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port == nil {
		return nil
	}
	err := a.port.Close()
	a.port = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", a.endpoint, err)
	}
	a.logger.Debug("serial port closed")

	return nil
}

// IsOpen returns whether the port is open
func (a *SerialAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port != nil
}

func classifySerial(endpoint, op string, err error) error {
	kind := KindOther

	var portErr *serial.PortError
	switch {
	case errors.As(err, &portErr):
		switch portErr.Code() {
		case serial.PortBusy, serial.PermissionDenied:
			kind = KindAccessDenied
		case serial.PortNotFound, serial.InvalidSerialPort, serial.InvalidSpeed,
			serial.InvalidDataBits, serial.InvalidParity, serial.InvalidStopBits:
			kind = KindInvalidEndpoint
		}
	case errors.Is(err, os.ErrPermission):
		kind = KindAccessDenied
	case errors.Is(err, os.ErrNotExist):
		kind = KindInvalidEndpoint
	}

	return &TransportError{Kind: kind, Op: op, Endpoint: endpoint, Err: err}
}
