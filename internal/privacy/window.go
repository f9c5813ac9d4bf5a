package privacy

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ReportFunc receives one window's worth of noised counts.
type ReportFunc func(noisy map[string]int64)

// WindowReporter accumulates event counts and periodically flushes them
// through the aggregator to a reporting callback. Flush cadence follows the
// configured aggregation window.
type WindowReporter struct {
	agg    *Aggregator
	report ReportFunc
	cron   *cron.Cron

	mu     sync.Mutex
	counts map[string]int64
}

// NewWindowReporter creates a reporter that flushes every cfg.WindowSeconds
// seconds. The aggregator's config supplies the window; report must not be nil.
func NewWindowReporter(agg *Aggregator, report ReportFunc) (*WindowReporter, error) {
	if report == nil {
		return nil, fmt.Errorf("report callback must not be nil")
	}
	if agg.cfg.WindowSeconds < 1 {
		return nil, fmt.Errorf("aggregation window must be at least 1 second (got %d)", agg.cfg.WindowSeconds)
	}

	w := &WindowReporter{
		agg:    agg,
		report: report,
		cron:   cron.New(),
		counts: make(map[string]int64),
	}

	spec := fmt.Sprintf("@every %ds", agg.cfg.WindowSeconds)
	if _, err := w.cron.AddFunc(spec, w.Flush); err != nil {
		return nil, fmt.Errorf("registering aggregation window %q: %w", spec, err)
	}
	return w, nil
}

// Incr adds delta to the named count in the current window.
func (w *WindowReporter) Incr(name string, delta int64) {
	w.mu.Lock()
	w.counts[name] += delta
	w.mu.Unlock()
}

// Flush noises the current window and hands it to the report callback, then
// starts a fresh window. Empty windows are skipped.
func (w *WindowReporter) Flush() {
	w.mu.Lock()
	window := w.counts
	w.counts = make(map[string]int64)
	w.mu.Unlock()

	if len(window) == 0 {
		return
	}

	noisy := w.agg.AggregateCounts(window)
	windowFlushed()
	log.Debug().Int("entries", len(noisy)).Str("budget", w.agg.String()).Msg("aggregation window flushed")
	w.report(noisy)
}

// Start begins the periodic flush schedule.
func (w *WindowReporter) Start() {
	w.cron.Start()
}

// Stop halts the schedule, waits for a running flush to complete, and flushes
// the final partial window.
func (w *WindowReporter) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.Flush()
}
