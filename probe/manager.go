// Package probe runs the ESC/POS status query sequence against a printer and
// turns the replies into a status.Snapshot.
package probe

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nixxel-company-limited/escpos-status/adapter"
	"github.com/nixxel-company-limited/escpos-status/codec"
	"github.com/nixxel-company-limited/escpos-status/config"
	"github.com/nixxel-company-limited/escpos-status/monitor"
	"github.com/nixxel-company-limited/escpos-status/status"
)

// ErrClosed is returned when a Manager is used after Close.
var ErrClosed = errors.New("status manager is closed")

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger.WithField("component", "probe")
		}
	}
}

// WithFactory replaces the adapter factory used to open sessions.
func WithFactory(f adapter.Factory) Option {
	return func(m *Manager) {
		if f != nil {
			m.factory = f
		}
	}
}

// WithMetrics records probe and session metrics on metrics.
func WithMetrics(metrics *monitor.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithReleaseAfterQuery closes the session at the end of every query
// instead of keeping it for the next call.
func WithReleaseAfterQuery() Option {
	return func(m *Manager) { m.release = true }
}

// WithSleep replaces time.Sleep for the post-command settle delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// session is the open transport bound to one endpoint and configuration.
type session struct {
	endpoint string
	cfg      config.Configuration
	adapter  adapter.Adapter
}

// Manager queries printer status over a single reusable session. Queries
// are serialized: at most one probe sequence runs at a time.
type Manager struct {
	factory adapter.Factory
	logger  *logrus.Entry
	metrics *monitor.Metrics
	release bool
	sleep   func(time.Duration)
	now     func() time.Time

	mu      sync.Mutex
	session *session
	closed  bool
}

// New creates a Manager. No device is touched until the first query.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger: logrus.StandardLogger().WithField("component", "probe"),
		sleep:  time.Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.factory == nil {
		m.factory = adapter.NewFactory(m.logger.Logger)
	}
	return m
}

// GetStatus queries endpoint with the standard configuration.
func (m *Manager) GetStatus(endpoint string) (status.Snapshot, error) {
	return m.GetStatusWithConfig(endpoint, config.Default())
}

// GetStatusWithConfig queries endpoint with cfg. Device failures are
// reported inside the snapshot; the error is non-nil only for ErrClosed or
// an invalid cfg.
func (m *Manager) GetStatusWithConfig(endpoint string, cfg config.Configuration) (status.Snapshot, error) {
	if cfg.IsZero() {
		return status.Snapshot{}, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return status.Snapshot{}, fmt.Errorf("invalid configuration: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return status.Snapshot{}, ErrClosed
	}

	return m.query(endpoint, cfg), nil
}

// GetStatusReport queries endpoint with the standard configuration and
// formats the result.
func (m *Manager) GetStatusReport(endpoint string) (string, error) {
	return m.GetStatusReportWithConfig(endpoint, config.Default())
}

// GetStatusReportWithConfig queries endpoint with cfg and formats the result.
func (m *Manager) GetStatusReportWithConfig(endpoint string, cfg config.Configuration) (string, error) {
	snap, err := m.GetStatusWithConfig(endpoint, cfg)
	if err != nil {
		return "", err
	}
	return status.FormatReport(snap, endpoint), nil
}

// Close releases the session. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.closeSession()
	m.logger.Debug("status manager closed")

	return nil
}

func (m *Manager) query(endpoint string, cfg config.Configuration) status.Snapshot {
	start := m.now()
	q := &query{
		m:   m,
		cfg: cfg,
		log: m.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"query_id": uuid.NewString(),
		}),
		snap: status.NewSnapshot(),
	}

	dev, err := m.acquire(endpoint, cfg, q.log)
	if err == nil {
		err = q.run(dev)
	}
	if err != nil {
		q.abort(endpoint, err)
		m.closeSession()
	}

	if m.release {
		m.closeSession()
	}

	snap := q.snap
	snap.CheckedAt = m.now()
	snap = snap.Finalize()

	m.metrics.ObserveQuery(endpoint, snap.CheckedAt.Sub(start), snap.CanPrint)
	q.log.WithFields(logrus.Fields{
		"printer":   snap.PrinterStatus,
		"cover":     snap.CoverStatus,
		"paper":     snap.PaperStatus,
		"can_print": snap.CanPrint,
	}).Debug("status query finished")

	return snap
}

// acquire returns the open adapter for endpoint, reusing the current
// session when it is still open and bound to the same endpoint and cfg.
func (m *Manager) acquire(endpoint string, cfg config.Configuration, log *logrus.Entry) (adapter.Adapter, error) {
	if s := m.session; s != nil {
		if s.endpoint == endpoint && s.cfg == cfg && s.adapter.IsOpen() {
			return s.adapter, nil
		}
		log.WithField("previous", s.endpoint).Debug("session no longer valid, reopening")
		m.closeSession()
	}

	dev, err := m.factory(endpoint, cfg)
	if err != nil {
		return nil, err
	}
	if err := dev.Open(); err != nil {
		return nil, err
	}
	m.metrics.ObserveSessionOpen()
	m.session = &session{endpoint: endpoint, cfg: cfg, adapter: dev}
	log.WithField("framing", cfg.Framing().String()).Info("session opened")

	if res := m.initialize(dev, cfg); res.err != nil {
		log.WithError(res.err).WithField("step", res.step).Warn("printer initialization failed, continuing")
	}

	return dev, nil
}

// initResult is inspected for logging only; initialization never aborts a
// query.
type initResult struct {
	step string
	err  error
}

func (m *Manager) initialize(dev adapter.Adapter, cfg config.Configuration) initResult {
	if _, err := dev.Write(codec.CmdInitialize.Bytes); err != nil {
		return initResult{step: codec.CmdInitialize.Name, err: err}
	}
	m.sleep(cfg.InitSettle())

	if err := dev.ResetBuffers(); err != nil {
		return initResult{step: "reset", err: err}
	}
	if _, err := dev.Write(codec.CmdClearBuffers.Bytes); err != nil {
		return initResult{step: codec.CmdClearBuffers.Name, err: err}
	}
	m.sleep(cfg.ClearSettle())

	return initResult{}
}

func (m *Manager) closeSession() {
	s := m.session
	if s == nil {
		return
	}
	m.session = nil

	if err := s.adapter.Close(); err != nil {
		m.logger.WithError(err).WithField("endpoint", s.endpoint).Warn("error closing session")
		return
	}
	m.logger.WithField("endpoint", s.endpoint).Debug("session closed")
}
