package probe

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/escpos-status/adapter"
	"github.com/nixxel-company-limited/escpos-status/codec"
	"github.com/nixxel-company-limited/escpos-status/config"
	"github.com/nixxel-company-limited/escpos-status/monitor"
	"github.com/nixxel-company-limited/escpos-status/status"
)

// Reply bytes with the fixed bits set.
const (
	replyOnline      = 0x12
	replyMalformed   = 0x00
	replyCoverClosed = 0x12
	replyCoverOpen   = 0x16
	replyPaperOK     = 0x12
	replyPaperNear   = 0x1E
	replyPaperOut    = 0x72
	replyPaperOdd    = 0x32
)

type reply struct {
	b   byte
	err error
}

// script maps the DLE EOT function number to the printer's answer. A
// missing entry makes the read time out.
type script map[byte]reply

func ok(b byte) reply { return reply{b: b} }

// fakeDevice answers status commands from a script.
type fakeDevice struct {
	endpoint string
	script   script
	openErr  error
	writeErr func(data []byte) error

	mu       sync.Mutex
	open     bool
	opens    int
	closes   int
	resets   int
	writes   [][]byte
	timeouts []time.Duration
	last     []byte
	pending  bool
	overlap  bool
	readWait time.Duration
}

func (d *fakeDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openErr != nil {
		return d.openErr
	}
	d.open = true
	return nil
}

func (d *fakeDevice) Write(data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		d.overlap = true
	}
	if d.writeErr != nil {
		if err := d.writeErr(data); err != nil {
			return 0, err
		}
	}
	d.writes = append(d.writes, append([]byte(nil), data...))
	d.last = data
	d.pending = isStatusCommand(data)
	return len(data), nil
}

func (d *fakeDevice) ReadStatusByte(timeout time.Duration) (byte, error) {
	if d.readWait > 0 {
		time.Sleep(d.readWait)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeouts = append(d.timeouts, timeout)
	d.pending = false
	if !isStatusCommand(d.last) {
		return 0, adapter.ErrReadTimeout
	}
	r, found := d.script[d.last[2]]
	if !found {
		return 0, adapter.ErrReadTimeout
	}
	return r.b, r.err
}

func (d *fakeDevice) ResetBuffers() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	d.open = false
	return nil
}

func (d *fakeDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *fakeDevice) Endpoint() string { return d.endpoint }

func (d *fakeDevice) written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.writes...)
}

func isStatusCommand(data []byte) bool {
	return len(data) == 3 && data[0] == 0x10 && data[1] == 0x04
}

// fakeFactory hands out a fresh fakeDevice per call.
type fakeFactory struct {
	mu      sync.Mutex
	build   func(endpoint string) *fakeDevice
	err     error
	devices []*fakeDevice
	configs []config.Configuration
}

func (f *fakeFactory) New(endpoint string, cfg config.Configuration) (adapter.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d := f.build(endpoint)
	d.endpoint = endpoint
	f.devices = append(f.devices, d)
	f.configs = append(f.configs, cfg)
	return d, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

type harness struct {
	m       *Manager
	factory *fakeFactory
	hook    *logtest.Hook
	metrics *monitor.Metrics

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, s script, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, func(string) *fakeDevice { return &fakeDevice{script: s} }, opts...)
}

func newHarnessWith(t *testing.T, build func(string) *fakeDevice, opts ...Option) *harness {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		factory: &fakeFactory{build: build},
		hook:    hook,
		metrics: monitor.NewMetrics(),
	}
	base := []Option{
		WithLogger(logger),
		WithFactory(h.factory.New),
		WithMetrics(h.metrics),
		WithSleep(func(d time.Duration) {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
		}),
	}
	h.m = New(append(base, opts...)...)
	t.Cleanup(func() { _ = h.m.Close() })
	return h
}

func (h *harness) device(i int) *fakeDevice {
	h.factory.mu.Lock()
	defer h.factory.mu.Unlock()
	return h.factory.devices[i]
}

func assertInvariant(t *testing.T, s status.Snapshot) {
	t.Helper()
	want := !s.HasError &&
		s.PrinterStatus == status.PrinterOnline &&
		s.CoverStatus == status.CoverClosed &&
		(s.PaperStatus == status.PaperOK || s.PaperStatus == status.PaperNearEnd)
	assert.Equal(t, want, s.CanPrint, "can_print out of sync with %+v", s)
}

func TestGetStatusScenarios(t *testing.T) {
	testCases := []struct {
		name    string
		script  script
		paper   status.PaperStatus
		printer status.PrinterStatus
		cover   status.CoverStatus
		hasErr  bool
		canPr   bool
		message string
	}{
		{
			name:    "Ready",
			script:  script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)},
			paper:   status.PaperOK,
			printer: status.PrinterOnline,
			cover:   status.CoverClosed,
			canPr:   true,
			message: MsgReady,
		},
		{
			name:    "PaperNearEnd",
			script:  script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperNear)},
			paper:   status.PaperNearEnd,
			printer: status.PrinterOnline,
			cover:   status.CoverClosed,
			canPr:   true,
			message: MsgPaperNearEnd,
		},
		{
			name:    "PaperOut",
			script:  script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOut)},
			paper:   status.PaperOut,
			printer: status.PrinterOffline,
			cover:   status.CoverClosed,
			hasErr:  true,
			message: MsgPaperOut,
		},
		{
			name:    "PaperUnclear",
			script:  script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOdd)},
			paper:   status.PaperUnknown,
			printer: status.PrinterOnline,
			cover:   status.CoverClosed,
			message: MsgPaperUnclear,
		},
		{
			name:    "PaperNoReply",
			script:  script{1: ok(replyOnline), 2: ok(replyCoverClosed)},
			paper:   status.PaperUnknown,
			printer: status.PrinterOnline,
			cover:   status.CoverClosed,
			message: MsgPaperUnclear,
		},
		{
			name:    "CoverNoReplyAssumedClosed",
			script:  script{1: ok(replyOnline), 4: ok(replyPaperOK)},
			paper:   status.PaperOK,
			printer: status.PrinterOnline,
			cover:   status.CoverClosed,
			canPr:   true,
			message: MsgReady,
		},
		{
			name:    "CoverOpenWhileOnline",
			script:  script{1: ok(replyOnline), 2: ok(replyCoverOpen), 4: ok(replyPaperOK)},
			paper:   status.PaperUnknown,
			printer: status.PrinterOffline,
			cover:   status.CoverOpen,
			hasErr:  true,
			message: MsgCoverOpen,
		},
		{
			name:    "NoResponse",
			script:  script{},
			paper:   status.PaperUnknown,
			printer: status.PrinterOffline,
			cover:   status.CoverClosed,
			hasErr:  true,
			message: MsgNoResponse,
		},
		{
			name:    "OfflineCoverOpen",
			script:  script{2: ok(replyCoverOpen)},
			paper:   status.PaperUnknown,
			printer: status.PrinterOffline,
			cover:   status.CoverOpen,
			hasErr:  true,
			message: MsgCoverOpen,
		},
		{
			name:    "MalformedGeneralStatus",
			script:  script{1: ok(replyMalformed), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)},
			paper:   status.PaperUnknown,
			printer: status.PrinterOffline,
			cover:   status.CoverClosed,
			hasErr:  true,
			message: "Printer offline - invalid status byte 0x00 received. Check the cable and the serial framing settings.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.script)

			snap, err := h.m.GetStatus("COM1")
			require.NoError(t, err)

			assert.Equal(t, tc.paper, snap.PaperStatus)
			assert.Equal(t, tc.printer, snap.PrinterStatus)
			assert.Equal(t, tc.cover, snap.CoverStatus)
			assert.Equal(t, tc.hasErr, snap.HasError)
			assert.Equal(t, tc.canPr, snap.CanPrint)
			assert.Equal(t, tc.message, snap.ErrorMessage)
			assert.False(t, snap.CheckedAt.IsZero())
			assertInvariant(t, snap)
		})
	}
}

func TestCoverOpenSkipsPaperProbe(t *testing.T) {
	h := newHarness(t, script{1: ok(replyOnline), 2: ok(replyCoverOpen), 4: ok(replyPaperOK)})

	_, err := h.m.GetStatus("COM1")
	require.NoError(t, err)

	for _, w := range h.device(0).written() {
		assert.NotEqual(t, codec.CmdPaperStatus.Bytes, w)
	}
}

func TestProbeTimeouts(t *testing.T) {
	cfg, err := config.New(
		config.WithOnlineTimeout(700*time.Millisecond),
		config.WithOfflineTimeout(300*time.Millisecond),
		config.WithDetectionTimeout(200*time.Millisecond),
	)
	require.NoError(t, err)

	t.Run("Online", func(t *testing.T) {
		h := newHarness(t, script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)})
		_, err := h.m.GetStatusWithConfig("COM1", cfg)
		require.NoError(t, err)
		assert.Equal(t,
			[]time.Duration{300 * time.Millisecond, 700 * time.Millisecond, 700 * time.Millisecond},
			h.device(0).timeouts)
	})

	t.Run("Offline", func(t *testing.T) {
		h := newHarness(t, script{})
		_, err := h.m.GetStatusWithConfig("COM1", cfg)
		require.NoError(t, err)
		assert.Equal(t,
			[]time.Duration{300 * time.Millisecond, 200 * time.Millisecond},
			h.device(0).timeouts)
	})
}

func TestGeneralStatusTimeoutMessage(t *testing.T) {
	// The general probe times out, and the offline-cause probe decides the
	// final message.
	h := newHarness(t, script{})

	snap, err := h.m.GetStatus("COM1")
	require.NoError(t, err)
	assert.Equal(t, MsgNoResponse, snap.ErrorMessage)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Probes.WithLabelValues(codec.CmdGeneralStatus.Name, monitor.OutcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Probes.WithLabelValues(codec.CmdOfflineCause.Name, monitor.OutcomeTimeout)))
}

func TestSessionInitialization(t *testing.T) {
	h := newHarness(t, script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)})

	_, err := h.m.GetStatus("COM1")
	require.NoError(t, err)

	writes := h.device(0).written()
	require.GreaterOrEqual(t, len(writes), 5)
	assert.Equal(t, codec.CmdInitialize.Bytes, writes[0])
	assert.Equal(t, codec.CmdClearBuffers.Bytes, writes[1])
	assert.Equal(t, codec.CmdGeneralStatus.Bytes, writes[2])
	assert.Equal(t, codec.CmdOfflineCause.Bytes, writes[3])
	assert.Equal(t, codec.CmdPaperStatus.Bytes, writes[4])
	assert.Equal(t, []time.Duration{config.DefaultInitSettle, config.DefaultClearSettle}, h.sleeps)

	// One reset before the clear command plus one per probe.
	assert.Equal(t, 4, h.device(0).resets)
}

func TestInitializationFailureIsNotFatal(t *testing.T) {
	h := newHarnessWith(t, func(string) *fakeDevice {
		return &fakeDevice{
			script:   script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)},
			writeErr: func(data []byte) error {
				if data[0] == codec.CmdInitialize.Bytes[0] {
					return errors.New("init rejected")
				}
				return nil
			},
		}
	})

	snap, err := h.m.GetStatus("COM1")
	require.NoError(t, err)
	assert.True(t, snap.CanPrint)
	assert.Empty(t, h.sleeps)

	var warned bool
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "initialization failed") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestSessionReuse(t *testing.T) {
	h := newHarness(t, script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)})

	for i := 0; i < 3; i++ {
		snap, err := h.m.GetStatus("COM1")
		require.NoError(t, err)
		assert.True(t, snap.CanPrint)
	}

	assert.Equal(t, 1, h.factory.count())
	assert.Equal(t, 1, h.device(0).opens)
	assert.Equal(t, 0, h.device(0).closes)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SessionOpens))

	// Initialization runs once per session.
	var inits int
	for _, w := range h.device(0).written() {
		if string(w) == string(codec.CmdInitialize.Bytes) {
			inits++
		}
	}
	assert.Equal(t, 1, inits)
}

func TestSessionReopen(t *testing.T) {
	s := script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)}

	t.Run("EndpointChange", func(t *testing.T) {
		h := newHarness(t, s)
		_, err := h.m.GetStatus("COM1")
		require.NoError(t, err)
		_, err = h.m.GetStatus("COM2")
		require.NoError(t, err)

		require.Equal(t, 2, h.factory.count())
		assert.Equal(t, 1, h.device(0).closes)
		assert.Equal(t, "COM2", h.device(1).Endpoint())
	})

	t.Run("ConfigurationChange", func(t *testing.T) {
		h := newHarness(t, s)
		_, err := h.m.GetStatusWithConfig("COM1", config.Default())
		require.NoError(t, err)
		_, err = h.m.GetStatusWithConfig("COM1", config.HighSpeed())
		require.NoError(t, err)

		require.Equal(t, 2, h.factory.count())
		assert.Equal(t, 1, h.device(0).closes)
		assert.Equal(t, 115200, h.factory.configs[1].Framing().BaudRate)
	})

	t.Run("ChannelClosedUnderneath", func(t *testing.T) {
		h := newHarness(t, s)
		_, err := h.m.GetStatus("COM1")
		require.NoError(t, err)
		require.NoError(t, h.device(0).Close())

		_, err = h.m.GetStatus("COM1")
		require.NoError(t, err)
		assert.Equal(t, 2, h.factory.count())
	})
}

func TestReleaseAfterQuery(t *testing.T) {
	h := newHarness(t, script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)}, WithReleaseAfterQuery())

	_, err := h.m.GetStatus("COM1")
	require.NoError(t, err)
	_, err = h.m.GetStatus("COM1")
	require.NoError(t, err)

	require.Equal(t, 2, h.factory.count())
	assert.Equal(t, 1, h.device(0).closes)
	assert.Equal(t, 1, h.device(1).closes)
	assert.False(t, h.device(1).IsOpen())
}

func TestOpenFailures(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		kind    string
		message string
	}{
		{
			name:    "AccessDenied",
			err:     &adapter.TransportError{Kind: adapter.KindAccessDenied, Op: "open", Endpoint: "COM1", Err: os.ErrPermission},
			kind:    "access denied",
			message: "Access to port 'COM1' denied. It might be in use by another application. Details: ",
		},
		{
			name:    "InvalidEndpoint",
			err:     &adapter.TransportError{Kind: adapter.KindInvalidEndpoint, Op: "open", Endpoint: "COM1", Err: os.ErrNotExist},
			kind:    "invalid endpoint",
			message: "Port 'COM1' is invalid or configuration error. Details: ",
		},
		{
			name:    "Other",
			err:     errors.New("device exploded"),
			kind:    "transport error",
			message: "Unexpected error: device exploded",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarnessWith(t, func(string) *fakeDevice {
				return &fakeDevice{openErr: tc.err}
			})

			snap, err := h.m.GetStatus("COM1")
			require.NoError(t, err)

			assert.True(t, snap.HasError)
			assert.False(t, snap.CanPrint)
			assert.Equal(t, status.PaperUnknown, snap.PaperStatus)
			assert.Equal(t, status.PrinterOffline, snap.PrinterStatus)
			assert.True(t, strings.HasPrefix(snap.ErrorMessage, tc.message), snap.ErrorMessage)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SessionErrors.WithLabelValues(tc.kind)))
			assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.SessionOpens))
			assertInvariant(t, snap)

			// No session is kept, the next query tries again.
			_, err = h.m.GetStatus("COM1")
			require.NoError(t, err)
			assert.Equal(t, 2, h.factory.count())
		})
	}
}

func TestFactoryFailure(t *testing.T) {
	h := newHarness(t, script{})
	h.factory.err = &adapter.TransportError{Kind: adapter.KindInvalidEndpoint, Op: "open", Endpoint: "", Err: errors.New("endpoint is empty")}

	snap, err := h.m.GetStatus("")
	require.NoError(t, err)
	assert.True(t, snap.HasError)
	assert.Contains(t, snap.ErrorMessage, "is invalid or configuration error")
}

func TestWriteTimeoutAbortsAndClosesSession(t *testing.T) {
	h := newHarnessWith(t, func(string) *fakeDevice {
		return &fakeDevice{
			script:   script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)},
			writeErr: func(data []byte) error {
				if string(data) == string(codec.CmdOfflineCause.Bytes) {
					return adapter.ErrWriteTimeout
				}
				return nil
			},
		}
	})

	snap, err := h.m.GetStatus("COM1")
	require.NoError(t, err)

	assert.True(t, snap.HasError)
	assert.False(t, snap.CanPrint)
	assert.Equal(t, "Communication error on 'COM1': write timed out.", snap.ErrorMessage)
	assert.Equal(t, 1, h.device(0).closes)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SessionErrors.WithLabelValues("write timeout")))
	assertInvariant(t, snap)

	// The broken session is not reused.
	_, err = h.m.GetStatus("COM1")
	require.NoError(t, err)
	assert.Equal(t, 2, h.factory.count())
}

func TestReadErrorAbortsQuery(t *testing.T) {
	h := newHarness(t, script{1: ok(replyOnline), 2: {err: errors.New("line noise")}, 4: ok(replyPaperOK)})

	snap, err := h.m.GetStatus("COM1")
	require.NoError(t, err)
	assert.Equal(t, "Unexpected error: line noise", snap.ErrorMessage)
	assert.Equal(t, status.PaperUnknown, snap.PaperStatus)
	assert.False(t, snap.CanPrint)
	assert.Equal(t, 1, h.device(0).closes)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Probes.WithLabelValues(codec.CmdOfflineCause.Name, monitor.OutcomeError)))
}

func TestInvalidConfiguration(t *testing.T) {
	h := newHarness(t, script{})

	_, err := h.m.GetStatusWithConfig("COM1", config.Configuration{})
	assert.Error(t, err)

	_, err = h.m.GetStatusReportWithConfig("COM1", config.Configuration{})
	assert.Error(t, err)

	assert.Equal(t, 0, h.factory.count())
}

func TestClose(t *testing.T) {
	h := newHarness(t, script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)})

	_, err := h.m.GetStatus("COM1")
	require.NoError(t, err)

	require.NoError(t, h.m.Close())
	require.NoError(t, h.m.Close())
	assert.Equal(t, 1, h.device(0).closes)

	_, err = h.m.GetStatus("COM1")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.m.GetStatusReport("COM1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, h.factory.count())
}

func TestCloseWithoutSession(t *testing.T) {
	m := New(WithFactory(func(string, config.Configuration) (adapter.Adapter, error) {
		return nil, errors.New("unused")
	}))
	assert.NoError(t, m.Close())
}

func TestConcurrentQueriesDoNotInterleave(t *testing.T) {
	h := newHarnessWith(t, func(string) *fakeDevice {
		return &fakeDevice{
			script:   script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)},
			readWait: time.Millisecond,
		}
	})

	var wg sync.WaitGroup
	results := make([]status.Snapshot, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := h.m.GetStatus("COM1")
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	wg.Wait()

	for _, snap := range results {
		assert.True(t, snap.CanPrint)
		assertInvariant(t, snap)
	}
	require.Equal(t, 1, h.factory.count())
	assert.False(t, h.device(0).overlap)
	assert.Len(t, h.device(0).timeouts, 3*len(results))
}

func TestGetStatusReport(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.Local)
	h := newHarness(t,
		script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperNear)},
		WithClock(func() time.Time { return at }),
	)

	report, err := h.m.GetStatusReport("COM3")
	require.NoError(t, err)

	assert.Contains(t, report, "Port: COM3, Time: 2024-03-05 14:30:00")
	assert.Contains(t, report, "Paper: PAPER NEAR END")
	assert.Contains(t, report, "Ready to Print: YES")
	assert.Contains(t, report, "WARNING: Replace paper soon")
}

func TestQueryMetrics(t *testing.T) {
	h := newHarness(t, script{1: ok(replyOnline), 2: ok(replyCoverClosed), 4: ok(replyPaperOK)})

	_, err := h.m.GetStatus("COM1")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CanPrint.WithLabelValues("COM1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Probes.WithLabelValues(codec.CmdPaperStatus.Name, monitor.OutcomeReply)))
	assert.Equal(t, 1, testutil.CollectAndCount(h.metrics.QueryDuration))
}

func TestMalformedReplyWithCoverOpen(t *testing.T) {
	h := newHarness(t, script{1: ok(0x93), 2: ok(replyCoverOpen)})

	snap, err := h.m.GetStatus("COM1")
	require.NoError(t, err)
	assert.Equal(t, MsgCoverOpen, snap.ErrorMessage)
	assert.Equal(t, status.CoverOpen, snap.CoverStatus)
	assertInvariant(t, snap)
}

func TestMalformedReplyKeepsByteInMessage(t *testing.T) {
	h := newHarness(t, script{1: ok(0x93)})

	snap, err := h.m.GetStatus("COM1")
	require.NoError(t, err)
	assert.True(t, snap.HasError)
	assert.Contains(t, snap.ErrorMessage, "0x93")
	assert.NotEqual(t, MsgNoResponse, snap.ErrorMessage)
}

func TestMalformedReplyMetric(t *testing.T) {
	h := newHarness(t, script{1: ok(replyMalformed)})

	_, err := h.m.GetStatus("COM1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Probes.WithLabelValues(codec.CmdGeneralStatus.Name, monitor.OutcomeMalformed)))
}
