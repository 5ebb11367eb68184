package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassPrinter = 0x07
)

const (
	// drainWindow is how long ResetBuffers waits for another stale packet.
	drainWindow = 10 * time.Millisecond
	// maxDrainPackets bounds ResetBuffers against a printer that never
	// stops sending.
	maxDrainPackets = 64

	defaultPacketSize = 64
)

// bulkIn and bulkOut are the parts of *gousb.InEndpoint and
// *gousb.OutEndpoint the adapter uses.
type bulkIn interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

type bulkOut interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// ParseUSBEndpoint splits "usb:VVVV:PPPP" (hex vendor and product IDs).
func ParseUSBEndpoint(endpoint string) (gousb.ID, gousb.ID, error) {
	parts := strings.Split(strings.TrimSpace(endpoint), ":")
	if len(parts) != 3 || !strings.EqualFold(parts[0]+":", USBPrefix) {
		return 0, 0, fmt.Errorf("usb endpoint %q: want usb:VVVV:PPPP", endpoint)
	}
	vid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("usb endpoint %q: vendor id: %w", endpoint, err)
	}
	pid, err := strconv.ParseUint(parts[2], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("usb endpoint %q: product id: %w", endpoint, err)
	}
	return gousb.ID(vid), gousb.ID(pid), nil
}

// USBAdapter manages USB printer communication through the printer-class
// bulk endpoints
type USBAdapter struct {
	endpoint     string
	vid, pid     gousb.ID
	writeTimeout time.Duration
	logger       *logrus.Entry

	ctx        *gousb.Context
	device     *gousb.Device
	config     *gousb.Config
	iface      *gousb.Interface
	out        bulkOut
	in         bulkIn
	packetSize int
	isOpen     bool
	mu         sync.Mutex
}

// NewUSBAdapter creates a new, unopened USB adapter instance
func NewUSBAdapter(endpoint string, vid, pid gousb.ID, writeTimeout time.Duration, logger *logrus.Logger) *USBAdapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &USBAdapter{
		endpoint:     endpoint,
		vid:          vid,
		pid:          pid,
		writeTimeout: writeTimeout,
		logger:       logger.WithFields(logrus.Fields{"component": "adapter", "transport": "usb", "endpoint": endpoint}),
	}
}

// Endpoint returns the usb:VVVV:PPPP address
func (a *USBAdapter) Endpoint() string {
	return a.endpoint
}

// Open opens the USB device and claims the printer interface
func (a *USBAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return ErrAlreadyOpen
	}

	a.ctx = gousb.NewContext()
	if err := a.open(); err != nil {
		a.release()
		return err
	}

	a.isOpen = true
	a.logger.Debug("usb printer interface claimed")

	return nil
}

func (a *USBAdapter) open() error {
	device, err := a.ctx.OpenDeviceWithVIDPID(a.vid, a.pid)
	if err != nil {
		return classifyUSB(a.endpoint, "open", err)
	}
	if device == nil {
		return &TransportError{Kind: KindInvalidEndpoint, Op: "open", Endpoint: a.endpoint, Err: errors.New("device not found")}
	}
	a.device = device

	// Set auto-detach kernel driver on Linux
	if runtime.GOOS == "linux" {
		if err := a.device.SetAutoDetach(true); err != nil {
			a.logger.WithError(err).Debug("auto-detach not available")
		}
	}

	cfgNum, err := a.device.ActiveConfigNum()
	if err != nil {
		return classifyUSB(a.endpoint, "open", fmt.Errorf("failed to get active config: %w", err))
	}
	cfg, err := a.device.Config(cfgNum)
	if err != nil {
		return classifyUSB(a.endpoint, "open", fmt.Errorf("failed to get config: %w", err))
	}
	a.config = cfg

	// Find printer interface
	ifaceNum, altNum := -1, 0
	for _, iface := range cfg.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				ifaceNum, altNum = iface.Number, alt.Alternate
				break
			}
		}
		if ifaceNum >= 0 {
			break
		}
	}
	if ifaceNum < 0 {
		return &TransportError{Kind: KindInvalidEndpoint, Op: "open", Endpoint: a.endpoint, Err: errors.New("no printer interface found")}
	}

	iface, err := cfg.Interface(ifaceNum, altNum)
	if err != nil {
		return classifyUSB(a.endpoint, "open", fmt.Errorf("failed to claim interface: %w", err))
	}
	a.iface = iface

	var (
		outEP *gousb.OutEndpoint
		inEP  *gousb.InEndpoint
	)
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut && outEP == nil {
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				outEP = ep
			}
		}
		if epDesc.Direction == gousb.EndpointDirectionIn && inEP == nil {
			if ep, err := iface.InEndpoint(epDesc.Number); err == nil {
				inEP = ep
			}
		}
	}

	if outEP == nil || inEP == nil {
		return &TransportError{Kind: KindInvalidEndpoint, Op: "open", Endpoint: a.endpoint, Err: errors.New("printer interface lacks bulk in/out endpoints")}
	}

	a.out, a.in = outEP, inEP
	a.packetSize = inEP.Desc.MaxPacketSize
	if a.packetSize <= 0 {
		a.packetSize = defaultPacketSize
	}

	return nil
}

// Write sends data to the printer
func (a *USBAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, ErrNotOpen
	}
	if a.writeTimeout <= 0 {
		return 0, ErrInvalidTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
	defer cancel()

	n, err := a.out.WriteContext(ctx, data)
	if err != nil {
		if isUSBTimeout(ctx, err) {
			return n, ErrWriteTimeout
		}
		return n, classifyUSB(a.endpoint, "write", err)
	}

	return n, nil
}

// ReadStatusByte reads the first byte of the next bulk-in packet
func (a *USBAdapter) ReadStatusByte(timeout time.Duration) (byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, ErrNotOpen
	}
	if timeout <= 0 {
		return 0, ErrInvalidTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, a.packetSize)
	n, err := a.in.ReadContext(ctx, buf)
	if err != nil {
		if isUSBTimeout(ctx, err) {
			return 0, ErrReadTimeout
		}
		return 0, classifyUSB(a.endpoint, "read", err)
	}
	if n == 0 {
		return 0, ErrReadTimeout
	}

	return buf[0], nil
}

// ResetBuffers discards replies still queued on the bulk-in endpoint, such
// as a late answer to a probe whose read already timed out.
func (a *USBAdapter) ResetBuffers() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return ErrNotOpen
	}

	buf := make([]byte, a.packetSize)
	discarded := 0
	for i := 0; i < maxDrainPackets; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), drainWindow)
		n, err := a.in.ReadContext(ctx, buf)
		timedOut := err != nil && isUSBTimeout(ctx, err)
		cancel()

		if timedOut || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return classifyUSB(a.endpoint, "reset", err)
		}
		discarded += n
	}

	if discarded > 0 {
		a.logger.WithField("bytes", discarded).Debug("discarded stale input")
	}
	return nil
}

// Close releases the interface, configuration, device and context
func (a *USBAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return nil
	}

	err := a.release()
	a.isOpen = false
	a.logger.Debug("usb printer released")

	return err
}

func (a *USBAdapter) release() error {
	var errs []error

	if a.iface != nil {
		a.iface.Close()
		a.iface = nil
	}
	a.in, a.out = nil, nil

	if a.config != nil {
		if err := a.config.Close(); err != nil {
			errs = append(errs, err)
		}
		a.config = nil
	}
	if a.device != nil {
		if err := a.device.Close(); err != nil {
			errs = append(errs, err)
		}
		a.device = nil
	}
	if a.ctx != nil {
		if err := a.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
		a.ctx = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// IsOpen returns whether the device is open
func (a *USBAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

func isUSBTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var status gousb.TransferStatus
	if errors.As(err, &status) {
		return status == gousb.TransferTimedOut || status == gousb.TransferCancelled
	}
	var usbErr gousb.Error
	return errors.As(err, &usbErr) && usbErr == gousb.ErrorTimeout
}

func classifyUSB(endpoint, op string, err error) error {
	kind := KindOther

	var usbErr gousb.Error
	if errors.As(err, &usbErr) {
		switch usbErr {
		case gousb.ErrorAccess, gousb.ErrorBusy:
			kind = KindAccessDenied
		case gousb.ErrorNotFound, gousb.ErrorNoDevice, gousb.ErrorInvalidParam:
			kind = KindInvalidEndpoint
		}
	}

	return &TransportError{Kind: kind, Op: op, Endpoint: endpoint, Err: err}
}
