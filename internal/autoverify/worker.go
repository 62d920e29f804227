// Package autoverify runs the verify-all sweep on a schedule so settled
// matches get reconciled without anyone pressing the button.
package autoverify

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Verifier is the verify-all entry point the worker drives.
type Verifier interface {
	VerifyAll() (checked, resolved int, err error)
}

// Config holds scheduler settings.
type Config struct {
	Enabled  bool
	Interval time.Duration
}

// Status is the scheduler state exposed over the API.
type Status struct {
	Enabled      bool      `json:"enabled"`
	Interval     string    `json:"interval"`
	LastRun      time.Time `json:"last_run,omitempty"`
	LastChecked  int       `json:"last_checked"`
	LastResolved int       `json:"last_resolved"`
	LastError    string    `json:"last_error,omitempty"`
}

// Worker owns the gocron scheduler and the enabled flag.
type Worker struct {
	verifier Verifier
	interval time.Duration
	busyErr  error

	mu           sync.Mutex
	enabled      bool
	sched        gocron.Scheduler
	lastRun      time.Time
	lastChecked  int
	lastResolved int
	lastError    string
}

// NewWorker creates the worker. busyErr identifies the "another sweep is
// already running" error, which is skipped silently rather than recorded.
func NewWorker(verifier Verifier, cfg Config, busyErr error) (*Worker, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}

	w := &Worker{
		verifier: verifier,
		interval: cfg.Interval,
		busyErr:  busyErr,
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	w.sched = sched

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(w.run),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Enabled {
		w.enabled = true
		sched.Start()
		log.Printf("Auto-verify enabled (every %v)", cfg.Interval)
	}
	return w, nil
}

func (w *Worker) run() {
	w.mu.Lock()
	if !w.enabled {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	log.Println("Auto-verify sweep starting")
	checked, resolved, err := w.verifier.VerifyAll()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastRun = time.Now()
	if err != nil {
		if w.busyErr != nil && errors.Is(err, w.busyErr) {
			// A manual sweep is running; try again next tick.
			return
		}
		w.lastError = err.Error()
		log.Printf("Auto-verify sweep failed: %v", err)
		return
	}
	w.lastChecked = checked
	w.lastResolved = resolved
	w.lastError = ""
	log.Printf("Auto-verify sweep done: %d checked, %d resolved", checked, resolved)
}

// SetEnabled turns the scheduler on or off.
func (w *Worker) SetEnabled(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if enabled == w.enabled {
		return
	}
	w.enabled = enabled
	if enabled {
		w.sched.Start()
		log.Printf("Auto-verify enabled (every %v)", w.interval)
	} else {
		if err := w.sched.StopJobs(); err != nil {
			log.Printf("Auto-verify stop: %v", err)
		}
		log.Println("Auto-verify disabled")
	}
}

// Toggle flips the enabled flag and returns the new state.
func (w *Worker) Toggle() bool {
	w.mu.Lock()
	enabled := !w.enabled
	w.mu.Unlock()
	w.SetEnabled(enabled)
	return enabled
}

// Enabled reports whether the scheduler is running.
func (w *Worker) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Status returns a snapshot of the scheduler state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Enabled:      w.enabled,
		Interval:     w.interval.String(),
		LastRun:      w.lastRun,
		LastChecked:  w.lastChecked,
		LastResolved: w.lastResolved,
		LastError:    w.lastError,
	}
}

// Shutdown stops the scheduler.
func (w *Worker) Shutdown() error {
	return w.sched.Shutdown()
}
