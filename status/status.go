// Package status defines the printer status snapshot and its text report.
package status

import "time"

// PaperStatus is the state of the paper roll sensor.
type PaperStatus int

const (
	PaperOK      PaperStatus = 0
	PaperNearEnd PaperStatus = 1
	PaperOut     PaperStatus = 2
	PaperUnknown PaperStatus = 99
)

func (p PaperStatus) String() string {
	switch p {
	case PaperOK:
		return "PAPER OK"
	case PaperNearEnd:
		return "PAPER NEAR END"
	case PaperOut:
		return "PAPER EMPTY"
	default:
		return "UNKNOWN"
	}
}

// Printable reports whether a print can be attempted with this paper state.
func (p PaperStatus) Printable() bool {
	return p == PaperOK || p == PaperNearEnd
}

// PrinterStatus is the online/offline state of the printer.
type PrinterStatus int

const (
	PrinterOffline PrinterStatus = 0
	PrinterOnline  PrinterStatus = 1
)

func (p PrinterStatus) String() string {
	if p == PrinterOnline {
		return "ONLINE"
	}
	return "OFFLINE"
}

// CoverStatus is the state of the printer cover.
type CoverStatus int

const (
	CoverOpen   CoverStatus = 0
	CoverClosed CoverStatus = 1
)

func (c CoverStatus) String() string {
	if c == CoverOpen {
		return "OPEN"
	}
	return "CLOSED"
}

// Snapshot is the result of one status query. It is returned by value and
// never modified after it leaves the engine.
type Snapshot struct {
	PaperStatus   PaperStatus   `json:"paper_status"`
	PrinterStatus PrinterStatus `json:"printer_status"`
	CoverStatus   CoverStatus   `json:"cover_status"`
	CanPrint      bool          `json:"can_print"`
	HasError      bool          `json:"has_error"`
	ErrorMessage  string        `json:"error_message"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// NewSnapshot returns the pessimistic starting point of every query: paper
// unknown, printer offline, cover closed, no error.
func NewSnapshot() Snapshot {
	return Snapshot{
		PaperStatus:   PaperUnknown,
		PrinterStatus: PrinterOffline,
		CoverStatus:   CoverClosed,
	}
}

// Printable derives the can-print verdict from the other fields.
func (s Snapshot) Printable() bool {
	return !s.HasError &&
		s.PrinterStatus == PrinterOnline &&
		s.CoverStatus == CoverClosed &&
		s.PaperStatus.Printable()
}

// Finalize returns s with CanPrint recomputed from the other fields.
func (s Snapshot) Finalize() Snapshot {
	s.CanPrint = s.Printable()
	return s
}
