package raid

import (
	"fmt"
	"sync"
	"time"
)

// Status is the health state of one backend.
type Status int

// Backend health states
const (
	StatusHealthy    Status = iota
	StatusDegraded          // rebuild gave up on it, still tried on reads
	StatusFailed            // read failure seen, skipped early on reads
	StatusRebuilding        // rebuild in progress, skipped early on reads
)

var statusNames = []string{"healthy", "degraded", "failed", "rebuilding"}

// String turns a Status into a string
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// BackendHealth is the health record of one backend.
type BackendHealth struct {
	Status          Status
	FailureTime     time.Time // when the backend was last marked failed
	RebuildProgress float64   // 0.0 to 1.0
}

// healthBoard tracks the health of every backend of one engine. It is
// written by read path failure detection and the rebuild task, and
// read by the load path to skip unavailable backends early.
type healthBoard struct {
	mu     sync.RWMutex
	states []BackendHealth
}

func newHealthBoard(n int) *healthBoard {
	return &healthBoard{states: make([]BackendHealth, n)}
}

func (hb *healthBoard) get(i int) BackendHealth {
	hb.mu.RLock()
	defer hb.mu.RUnlock()
	return hb.states[i]
}

func (hb *healthBoard) status(i int) Status {
	hb.mu.RLock()
	defer hb.mu.RUnlock()
	return hb.states[i].Status
}

func (hb *healthBoard) snapshot() []BackendHealth {
	hb.mu.RLock()
	defer hb.mu.RUnlock()
	out := make([]BackendHealth, len(hb.states))
	copy(out, hb.states)
	return out
}

// inStatus returns the backend indices currently in status s.
func (hb *healthBoard) inStatus(s Status) []int {
	hb.mu.RLock()
	defer hb.mu.RUnlock()
	var out []int
	for i := range hb.states {
		if hb.states[i].Status == s {
			out = append(out, i)
		}
	}
	return out
}

// markFailed flags backend i as failed. It reports whether this was a
// new failure. Backends already failed or under rebuild keep their
// state.
func (hb *healthBoard) markFailed(i int) bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	switch hb.states[i].Status {
	case StatusFailed, StatusRebuilding:
		return false
	}
	hb.states[i] = BackendHealth{Status: StatusFailed, FailureTime: time.Now()}
	return true
}

// markRebuilding moves backend i into the rebuilding state.
func (hb *healthBoard) markRebuilding(i int) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.states[i].Status = StatusRebuilding
	hb.states[i].RebuildProgress = 0
}

// setProgress updates backend i's rebuild progress.
func (hb *healthBoard) setProgress(i int, p float64) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.states[i].RebuildProgress = p
}

// markHealed returns backend i to healthy after a full rebuild.
func (hb *healthBoard) markHealed(i int) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.states[i] = BackendHealth{Status: StatusHealthy, RebuildProgress: 1}
}

// markDegraded flags backend i as degraded after a rebuild could not
// fully restore it. Degraded backends are still tried on reads.
func (hb *healthBoard) markDegraded(i int) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.states[i].Status = StatusDegraded
}

// describe summarises the board for logging, eg "3 healthy, 1 failed".
func (hb *healthBoard) describe() string {
	counts := make(map[Status]int)
	hb.mu.RLock()
	for i := range hb.states {
		counts[hb.states[i].Status]++
	}
	hb.mu.RUnlock()
	out := ""
	for _, s := range []Status{StatusHealthy, StatusDegraded, StatusFailed, StatusRebuilding} {
		if counts[s] == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d %v", counts[s], s)
	}
	if out == "" {
		out = "no backends"
	}
	return out
}
