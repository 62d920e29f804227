package autoverify

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingVerifier struct {
	calls atomic.Int32
	err   error
}

func (v *countingVerifier) VerifyAll() (int, int, error) {
	v.calls.Add(1)
	if v.err != nil {
		return 0, 0, v.err
	}
	return 3, 2, nil
}

func TestWorkerDisabledByDefault(t *testing.T) {
	w, err := NewWorker(&countingVerifier{}, Config{Interval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Shutdown()

	if w.Enabled() {
		t.Error("worker enabled, want disabled")
	}
	st := w.Status()
	if st.Enabled || st.Interval != "1h0m0s" {
		t.Errorf("status = %+v", st)
	}
}

func TestWorkerToggle(t *testing.T) {
	w, err := NewWorker(&countingVerifier{}, Config{Interval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Shutdown()

	if got := w.Toggle(); !got {
		t.Fatal("first toggle = false, want true")
	}
	if got := w.Toggle(); got {
		t.Fatal("second toggle = true, want false")
	}
}

func TestWorkerRunRecordsResults(t *testing.T) {
	v := &countingVerifier{}
	w, err := NewWorker(v, Config{Interval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Shutdown()

	w.SetEnabled(true)
	w.run()

	st := w.Status()
	if st.LastChecked != 3 || st.LastResolved != 2 {
		t.Errorf("checked/resolved = %d/%d, want 3/2", st.LastChecked, st.LastResolved)
	}
	if st.LastError != "" {
		t.Errorf("last error = %q, want empty", st.LastError)
	}
	if st.LastRun.IsZero() {
		t.Error("last run not recorded")
	}
}

func TestWorkerSkipsWhenDisabled(t *testing.T) {
	v := &countingVerifier{}
	w, err := NewWorker(v, Config{Interval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Shutdown()

	w.run()
	if v.calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", v.calls.Load())
	}
}

func TestWorkerBusyErrorNotRecorded(t *testing.T) {
	busy := errors.New("busy")
	v := &countingVerifier{err: busy}
	w, err := NewWorker(v, Config{Interval: time.Hour}, busy)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Shutdown()

	w.SetEnabled(true)
	w.run()

	if st := w.Status(); st.LastError != "" {
		t.Errorf("busy skip recorded error %q", st.LastError)
	}
}

func TestWorkerRecordsFailure(t *testing.T) {
	v := &countingVerifier{err: errors.New("oracle down")}
	w, err := NewWorker(v, Config{Interval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Shutdown()

	w.SetEnabled(true)
	w.run()

	if st := w.Status(); st.LastError != "oracle down" {
		t.Errorf("last error = %q, want 'oracle down'", st.LastError)
	}
}
