package status

import (
	"fmt"
	"strings"
)

const reportTimeLayout = "2006-01-02 15:04:05"

// FormatReport renders s as a fixed multi-line report. It only formats; the
// timestamp printed is s.CheckedAt.
func FormatReport(s Snapshot, endpoint string) string {
	var b strings.Builder

	overall := "OK"
	if s.HasError {
		overall = "ERROR"
	}
	canPrint, verdict, ready := 0, "Cannot Print", "NO"
	if s.CanPrint {
		canPrint, verdict, ready = 1, "Can Print", "YES"
	}

	b.WriteString("=== ESC/POS PRINTER STATUS REPORT ===\n")
	fmt.Fprintf(&b, "Port: %s, Time: %s\n", endpoint, s.CheckedAt.Format(reportTimeLayout))
	fmt.Fprintf(&b, "Status: %s - %s\n", overall, s.ErrorMessage)
	fmt.Fprintf(&b, "Printer: %s, Cover: %s\n", s.PrinterStatus, s.CoverStatus)
	fmt.Fprintf(&b, "Paper: %s\n", s.PaperStatus)
	fmt.Fprintf(&b, "CanPrint: %d (%s)\n", canPrint, verdict)
	fmt.Fprintf(&b, "Ready to Print: %s\n", ready)

	if s.PaperStatus == PaperNearEnd {
		b.WriteString("WARNING: Replace paper soon\n")
	}
	if s.PaperStatus == PaperOut {
		b.WriteString("CRITICAL: Out of paper\n")
	}
	if s.CoverStatus == CoverOpen {
		b.WriteString("WARNING: Printer cover is open\n")
	}

	return b.String()
}
