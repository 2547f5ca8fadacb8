package cli

import (
	"io"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/duofusion/internal/staging"
	"github.com/roach88/duofusion/internal/store"
)

// printer formats numbers with thousands separators in text output.
var printer = message.NewPrinter(language.English)

func printSummary(w io.Writer, s *staging.Summary) {
	printer.Fprintf(w, "Session %s %s\n", s.SessionID, s.Status)
	printer.Fprintf(w, "  frames:   %d total, %d on time, %d late, %d dropped (%d failed)\n",
		s.Frames.Total, s.Frames.OnTime, s.Frames.Late, s.Frames.Dropped, s.Frames.Failed)
	printer.Fprintf(w, "  success:  %.1f%% at %.2f fps (target %d)\n",
		s.SuccessRate*100, s.ActualFPS, s.TargetRate)
	printer.Fprintf(w, "  sync:     mean %.3fms, worst %.3fms (%s)\n",
		s.Quality.MeanDeltaMS, s.Quality.WorstDeltaMS, s.Quality.Class)
	printer.Fprintf(w, "  storage:  %d payloads written, %d missing\n",
		s.Storage.PayloadsWritten, s.Storage.PayloadsMissing)
	printer.Fprintf(w, "  location: %s (migrated: %t)\n", s.Location, s.Migrated)
	if s.FailureCause != "" {
		printer.Fprintf(w, "  cause:    %s\n", s.FailureCause)
	}
}

func printSessions(w io.Writer, sessions []store.Session) {
	if len(sessions) == 0 {
		printer.Fprintln(w, "No sessions recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	printer.Fprintln(tw, "ID\tSTATUS\tFRAMES\tSUCCESS\tSYNC\tMIGRATED\tLOCATION")
	for _, s := range sessions {
		rate := 0.0
		if s.Frames.Total > 0 {
			rate = float64(s.Frames.Captured()) / float64(s.Frames.Total) * 100
		}
		printer.Fprintf(tw, "%s\t%s\t%d\t%.1f%%\t%s\t%t\t%s\n",
			s.ID, s.Status, s.Frames.Total, rate, s.Quality.Class, s.Migrated, s.Location)
	}
	tw.Flush()
}

func printReport(w io.Writer, r *staging.Report) {
	if r.OK() {
		printer.Fprintf(w, "%s: consistent (%d rows, %d/%d payloads)\n",
			r.Dir, r.Rows, r.Payloads[0], r.Payloads[1])
		return
	}
	printer.Fprintf(w, "%s: %d problem(s)\n", r.Dir, len(r.Problems))
	for _, p := range r.Problems {
		printer.Fprintf(w, "  - %s\n", p)
	}
}
