// Package config holds the immutable transport and timing parameters used to
// query an ESC/POS printer.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Parity is the serial parity mode.
type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

// StopBits is the number of serial stop bits.
type StopBits string

const (
	StopBitsOne          StopBits = "1"
	StopBitsOnePointFive StopBits = "1.5"
	StopBitsTwo          StopBits = "2"
)

// Defaults for standard EPSON ESC/POS serial settings.
const (
	DefaultBaudRate         = 38400
	DefaultDataBits         = 8
	DefaultOnlineTimeout    = 3000 * time.Millisecond
	DefaultOfflineTimeout   = 1000 * time.Millisecond
	DefaultDetectionTimeout = 500 * time.Millisecond
	DefaultWriteTimeout     = 1000 * time.Millisecond
	DefaultInitSettle       = 100 * time.Millisecond
	DefaultClearSettle      = 50 * time.Millisecond
)

// Framing describes how bytes are framed on the serial line.
type Framing struct {
	BaudRate int
	Parity   Parity
	DataBits int
	StopBits StopBits
}

func (f Framing) String() string {
	p := "N"
	if f.Parity != "" {
		p = strings.ToUpper(string(f.Parity[:1]))
	}
	return fmt.Sprintf("%d-%s-%d-%s", f.BaudRate, p, f.DataBits, f.StopBits)
}

// Configuration is an immutable bundle of transport and timing parameters.
// The zero value is not valid; use New or one of the presets.
type Configuration struct {
	framing          Framing
	onlineTimeout    time.Duration
	offlineTimeout   time.Duration
	detectionTimeout time.Duration
	writeTimeout     time.Duration
	initSettle       time.Duration
	clearSettle      time.Duration
}

// Option overrides one field of a Configuration under construction.
type Option func(*Configuration)

func WithBaudRate(baud int) Option {
	return func(c *Configuration) { c.framing.BaudRate = baud }
}

func WithParity(p Parity) Option {
	return func(c *Configuration) { c.framing.Parity = p }
}

func WithDataBits(bits int) Option {
	return func(c *Configuration) { c.framing.DataBits = bits }
}

func WithStopBits(s StopBits) Option {
	return func(c *Configuration) { c.framing.StopBits = s }
}

// WithOnlineTimeout sets the read timeout used once the printer answered the
// general status query.
func WithOnlineTimeout(d time.Duration) Option {
	return func(c *Configuration) { c.onlineTimeout = d }
}

// WithOfflineTimeout sets the read timeout of the initial online/offline query.
func WithOfflineTimeout(d time.Duration) Option {
	return func(c *Configuration) { c.offlineTimeout = d }
}

// WithDetectionTimeout sets the read timeout of the offline-cause fallback query.
func WithDetectionTimeout(d time.Duration) Option {
	return func(c *Configuration) { c.detectionTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Configuration) { c.writeTimeout = d }
}

func WithInitSettle(d time.Duration) Option {
	return func(c *Configuration) { c.initSettle = d }
}

func WithClearSettle(d time.Duration) Option {
	return func(c *Configuration) { c.clearSettle = d }
}

func defaults() Configuration {
	return Configuration{
		framing: Framing{
			BaudRate: DefaultBaudRate,
			Parity:   ParityNone,
			DataBits: DefaultDataBits,
			StopBits: StopBitsOne,
		},
		onlineTimeout:    DefaultOnlineTimeout,
		offlineTimeout:   DefaultOfflineTimeout,
		detectionTimeout: DefaultDetectionTimeout,
		writeTimeout:     DefaultWriteTimeout,
		initSettle:       DefaultInitSettle,
		clearSettle:      DefaultClearSettle,
	}
}

// New builds a Configuration from the standard defaults plus opts and
// validates the result.
func New(opts ...Option) (Configuration, error) {
	return build(defaults(), opts...)
}

func build(base Configuration, opts ...Option) (Configuration, error) {
	c := base
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if err := c.Validate(); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// Validate reports the first invalid field, if any.
func (c Configuration) Validate() error {
	if c.framing.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate: %d", c.framing.BaudRate)
	}
	switch c.framing.DataBits {
	case 5, 6, 7, 8:
	default:
		return fmt.Errorf("invalid data bits: %d", c.framing.DataBits)
	}
	switch c.framing.Parity {
	case ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
	default:
		return fmt.Errorf("invalid parity: %q", c.framing.Parity)
	}
	switch c.framing.StopBits {
	case StopBitsOne, StopBitsOnePointFive, StopBitsTwo:
	default:
		return fmt.Errorf("invalid stop bits: %q", c.framing.StopBits)
	}

	// Every transport call is bounded by one of these; zero would mean
	// "no limit" on some backends.
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"online timeout", c.onlineTimeout},
		{"offline timeout", c.offlineTimeout},
		{"detection timeout", c.detectionTimeout},
		{"write timeout", c.writeTimeout},
	}
	for _, v := range timeouts {
		if v.d <= 0 {
			return fmt.Errorf("%s must be positive: %s", v.name, v.d)
		}
	}

	settles := []struct {
		name string
		d    time.Duration
	}{
		{"init settle", c.initSettle},
		{"clear settle", c.clearSettle},
	}
	for _, v := range settles {
		if v.d < 0 {
			return fmt.Errorf("%s must not be negative: %s", v.name, v.d)
		}
	}
	return nil
}

// IsZero reports whether c was never built (e.g. a zero-value struct).
func (c Configuration) IsZero() bool {
	return c == Configuration{}
}

func (c Configuration) Framing() Framing                { return c.framing }
func (c Configuration) OnlineTimeout() time.Duration    { return c.onlineTimeout }
func (c Configuration) OfflineTimeout() time.Duration   { return c.offlineTimeout }
func (c Configuration) DetectionTimeout() time.Duration { return c.detectionTimeout }
func (c Configuration) WriteTimeout() time.Duration     { return c.writeTimeout }
func (c Configuration) InitSettle() time.Duration       { return c.initSettle }
func (c Configuration) ClearSettle() time.Duration      { return c.clearSettle }

// With returns a copy of c with opts applied. c is left untouched.
func (c Configuration) With(opts ...Option) (Configuration, error) {
	return build(c, opts...)
}

// ErrUnknownPreset is returned by Preset for names it does not know.
var ErrUnknownPreset = errors.New("unknown configuration preset")

// Preset names.
const (
	PresetStandard  = "standard"
	PresetHighSpeed = "high-speed"
	PresetReliable  = "reliable"
)

var presets = map[string][]Option{
	PresetStandard: nil,
	PresetHighSpeed: {
		WithBaudRate(115200),
		WithOnlineTimeout(5000 * time.Millisecond),
		WithWriteTimeout(2000 * time.Millisecond),
	},
	PresetReliable: {
		WithBaudRate(9600),
		WithOnlineTimeout(5000 * time.Millisecond),
		WithOfflineTimeout(2000 * time.Millisecond),
		WithDetectionTimeout(1000 * time.Millisecond),
		WithWriteTimeout(3000 * time.Millisecond),
	},
}

// Default returns the standard 38400-N-8-1 configuration.
func Default() Configuration { return mustPreset(PresetStandard) }

// HighSpeed returns the configuration tuned for fast links.
func HighSpeed() Configuration { return mustPreset(PresetHighSpeed) }

// Reliable returns the configuration tuned for noisy or slow links.
func Reliable() Configuration { return mustPreset(PresetReliable) }

// Preset returns the named preset. An empty name selects the standard one.
func Preset(name string) (Configuration, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = PresetStandard
	}
	opts, ok := presets[key]
	if !ok {
		return Configuration{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return New(opts...)
}

func mustPreset(name string) Configuration {
	c, err := Preset(name)
	if err != nil {
		panic(err)
	}
	return c
}
