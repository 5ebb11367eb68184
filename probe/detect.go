package probe

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nixxel-company-limited/escpos-status/adapter"
	"github.com/nixxel-company-limited/escpos-status/codec"
	"github.com/nixxel-company-limited/escpos-status/config"
	"github.com/nixxel-company-limited/escpos-status/monitor"
	"github.com/nixxel-company-limited/escpos-status/status"
)

// Snapshot messages.
const (
	MsgReady         = "Printer online - ready to print."
	MsgPaperNearEnd  = "Paper is NEAR END - replace soon to avoid interruption."
	MsgPaperOut      = "Paper is OUT! Insert paper roll to resume printing."
	MsgPaperUnclear  = "Printer online - paper status unclear, check paper roll."
	MsgCoverOpen     = "Printer offline - cover is OPEN! Close the cover to resume printing."
	MsgNoResponse    = "Printer offline - no response. Check power, cable connections, and ensure Memory Switch 1-3 is ON for automatic status transmission."
	MsgStatusTimeout = "Printer status check timed out - printer appears to be offline"

	// MsgInvalidStatus takes the rejected general status byte.
	MsgInvalidStatus = "Printer offline - invalid status byte 0x%02X received. Check the cable and the serial framing settings."
)

// query holds the state of one probe sequence.
type query struct {
	m    *Manager
	cfg  config.Configuration
	log  *logrus.Entry
	snap status.Snapshot

	// invalid holds the general status byte that failed validation.
	invalid    byte
	hasInvalid bool
}

// run executes the probe sequence on dev. A returned error is a transport
// failure that aborted the remaining probes; read timeouts never surface
// here.
func (q *query) run(dev adapter.Adapter) error {
	online, err := q.probeOnline(dev)
	if err != nil {
		return err
	}
	if !online {
		return q.probeOfflineCause(dev)
	}

	q.snap.PrinterStatus = status.PrinterOnline
	open, err := q.probeCover(dev)
	if err != nil {
		return err
	}
	if open {
		return nil
	}
	return q.probePaper(dev)
}

// probeOnline sends DLE EOT 1. Only a reply with valid fixed bits counts as
// online.
func (q *query) probeOnline(dev adapter.Adapter) (bool, error) {
	b, err := q.exchange(dev, codec.CmdGeneralStatus, q.cfg.OfflineTimeout())
	if adapter.IsTimeout(err) {
		q.setError(MsgStatusTimeout)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := codec.DecodeGeneralStatus(b); err != nil {
		q.m.metrics.ObserveProbe(codec.CmdGeneralStatus.Name, monitor.OutcomeMalformed)
		q.log.WithError(err).Warn("untrusted general status reply, treating printer as offline")
		q.invalid, q.hasInvalid = b, true
		q.setError(fmt.Sprintf(MsgInvalidStatus, b))
		return false, nil
	}
	return true, nil
}

// probeCover sends DLE EOT 2 once the printer is known to be online. No
// reply leaves the cover assumed closed.
func (q *query) probeCover(dev adapter.Adapter) (bool, error) {
	cover := status.CoverClosed

	b, err := q.exchange(dev, codec.CmdOfflineCause, q.cfg.OnlineTimeout())
	switch {
	case adapter.IsTimeout(err):
		q.log.Warn("cover status check timed out - assuming closed")
	case err != nil:
		return false, err
	default:
		cover = codec.DecodeOfflineCause(b)
	}

	q.snap.CoverStatus = cover
	if cover == status.CoverOpen {
		q.setError(MsgCoverOpen)
		q.snap.PrinterStatus = status.PrinterOffline
		return true, nil
	}
	return false, nil
}

// probePaper sends DLE EOT 4 and sets the paper state and its message.
func (q *query) probePaper(dev adapter.Adapter) error {
	paper := status.PaperUnknown

	b, err := q.exchange(dev, codec.CmdPaperStatus, q.cfg.OnlineTimeout())
	switch {
	case adapter.IsTimeout(err):
		q.log.Warn("paper status check timed out - reporting unknown")
	case err != nil:
		return err
	default:
		paper = codec.DecodePaperStatus(b)
	}

	q.snap.PaperStatus = paper
	switch paper {
	case status.PaperOK:
		q.setInfo(MsgReady)
	case status.PaperNearEnd:
		q.setInfo(MsgPaperNearEnd)
	case status.PaperOut:
		q.setError(MsgPaperOut)
		q.snap.PrinterStatus = status.PrinterOffline
	default:
		q.setInfo(MsgPaperUnclear)
	}
	return nil
}

// probeOfflineCause sends DLE EOT 2 after the printer failed the online
// check, to tell an open cover apart from a printer that is not answering.
func (q *query) probeOfflineCause(dev adapter.Adapter) error {
	q.snap.PaperStatus = status.PaperUnknown
	q.snap.PrinterStatus = status.PrinterOffline

	b, err := q.exchange(dev, codec.CmdOfflineCause, q.cfg.DetectionTimeout())
	switch {
	case adapter.IsTimeout(err):
		q.log.Debug("offline cause check timed out")
	case err != nil:
		return err
	default:
		q.snap.CoverStatus = codec.DecodeOfflineCause(b)
	}

	switch {
	case q.snap.CoverStatus == status.CoverOpen:
		q.setError(MsgCoverOpen)
	case q.hasInvalid:
		q.setError(fmt.Sprintf(MsgInvalidStatus, q.invalid))
	default:
		q.setError(MsgNoResponse)
	}
	return nil
}

// exchange discards stale bytes, sends cmd and waits up to timeout for the
// one-byte reply.
func (q *query) exchange(dev adapter.Adapter, cmd codec.Command, timeout time.Duration) (byte, error) {
	log := q.log.WithField("command", cmd.Name)

	if err := dev.ResetBuffers(); err != nil {
		q.m.metrics.ObserveProbe(cmd.Name, monitor.OutcomeError)
		return 0, err
	}
	if _, err := dev.Write(cmd.Bytes); err != nil {
		q.m.metrics.ObserveProbe(cmd.Name, monitor.OutcomeError)
		return 0, err
	}

	b, err := dev.ReadStatusByte(timeout)
	switch {
	case adapter.IsTimeout(err):
		q.m.metrics.ObserveProbe(cmd.Name, monitor.OutcomeTimeout)
		log.WithField("timeout", timeout).Debug("no reply")
	case err != nil:
		q.m.metrics.ObserveProbe(cmd.Name, monitor.OutcomeError)
	default:
		q.m.metrics.ObserveProbe(cmd.Name, monitor.OutcomeReply)
		log.WithField("reply", fmt.Sprintf("0x%02X", b)).Debug("reply received")
	}
	return b, err
}

// abort records a transport failure on the snapshot.
func (q *query) abort(endpoint string, err error) {
	kind := adapter.KindOf(err)
	label := kind.String()

	var msg string
	switch {
	case errors.Is(err, adapter.ErrWriteTimeout):
		label = "write timeout"
		msg = fmt.Sprintf("Communication error on '%s': write timed out.", endpoint)
	case kind == adapter.KindAccessDenied:
		msg = fmt.Sprintf("Access to port '%s' denied. It might be in use by another application. Details: %v", endpoint, err)
	case kind == adapter.KindInvalidEndpoint:
		msg = fmt.Sprintf("Port '%s' is invalid or configuration error. Details: %v", endpoint, err)
	default:
		msg = fmt.Sprintf("Unexpected error: %v", err)
	}

	q.m.metrics.ObserveSessionError(label)
	q.log.WithError(err).WithField("kind", label).Error("status query aborted")
	q.setError(msg)
}

func (q *query) setError(msg string) {
	q.snap.HasError = true
	q.snap.ErrorMessage = msg
}

func (q *query) setInfo(msg string) {
	q.snap.HasError = false
	q.snap.ErrorMessage = msg
}
