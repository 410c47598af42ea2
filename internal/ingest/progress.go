package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Event is one finished file as seen by the progress reporter.
type Event struct {
	Index   int
	Total   int
	Start   time.Time
	Success bool
}

// Reporter renders progress. On a terminal it keeps one status line updated
// in place; otherwise it logs a heartbeat. It never affects ingestion.
type Reporter struct {
	out       io.Writer
	tty       bool
	heartbeat time.Duration
	logger    *slog.Logger
	now       func() time.Time

	done, failed, total int
	start               time.Time
	drawn               bool
}

// NewReporter writes to out. A nil logger uses slog.Default.
func NewReporter(out io.Writer, heartbeat time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Reporter{out: out, tty: isTerminal(out), heartbeat: heartbeat, logger: logger, now: time.Now}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Run consumes events and worker log lines until both channels are closed.
func (r *Reporter) Run(events <-chan Event, logs <-chan string) {
	tick := time.NewTicker(r.heartbeat)
	defer tick.Stop()
	for events != nil || logs != nil {
		select {
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.observe(e)
			if r.tty {
				r.draw()
			}
		case line, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			r.printLine(line)
		case <-tick.C:
			if !r.tty && r.total > 0 {
				r.logger.Info("heartbeat", "done", r.done, "total", r.total, "failed", r.failed,
					"rate", fmt.Sprintf("%.1f/s", r.rate()), "eta", r.eta().Round(time.Second))
			}
		}
	}
	if r.tty && r.drawn {
		fmt.Fprintln(r.out)
	}
}

func (r *Reporter) observe(e Event) {
	r.done++
	if !e.Success {
		r.failed++
	}
	if e.Total > r.total {
		r.total = e.Total
	}
	if r.start.IsZero() || (!e.Start.IsZero() && e.Start.Before(r.start)) {
		r.start = e.Start
	}
}

func (r *Reporter) printLine(line string) {
	if r.tty && r.drawn {
		fmt.Fprint(r.out, "\r\033[K")
	}
	fmt.Fprintln(r.out, line)
	if r.tty && r.drawn {
		r.draw()
	}
}

func (r *Reporter) draw() {
	fmt.Fprint(r.out, "\r\033[K"+r.Status())
	r.drawn = true
}

// Status is the one-line progress summary.
func (r *Reporter) Status() string {
	pct := 0.0
	if r.total > 0 {
		pct = float64(r.done) * 100 / float64(r.total)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%5.1f%%] %d/%d files | errors %d | %.1f files/s", pct, r.done, r.total, r.failed, r.rate())
	if eta := r.eta(); eta > 0 {
		fmt.Fprintf(&b, " | ETA %s", eta.Round(time.Second))
	}
	return b.String()
}

func (r *Reporter) rate() float64 {
	if r.start.IsZero() || r.done == 0 {
		return 0
	}
	el := r.now().Sub(r.start).Seconds()
	if el <= 0 {
		return 0
	}
	return float64(r.done) / el
}

func (r *Reporter) eta() time.Duration {
	rate := r.rate()
	if rate <= 0 || r.done >= r.total {
		return 0
	}
	return time.Duration(float64(r.total-r.done) / rate * float64(time.Second))
}
