// Package loop implements the per-session agent loop controller: one
// iteration assembles the in-context history, calls the LLM pipeline,
// dispatches any returned tool calls, verifies their effect, and decides
// whether to continue, stop, or hand off to a queued follow-up prompt.
package loop

import (
	"sync"
	"time"
)

// Behavior tags an inbound prompt with how it should be drained into a
// running loop.
type Behavior string

const (
	BehaviorSteer    Behavior = "steer"
	BehaviorFollowUp Behavior = "follow_up"
)

// QueuedPrompt is one inbound prompt waiting to be drained into the loop.
type QueuedPrompt struct {
	Text     string
	Behavior Behavior
}

// Status is the terminal status a run ends in, reported on loop_done.
type Status string

const (
	StatusDone              Status = "done"
	StatusMaxSteps          Status = "max_steps"
	StatusProgressUncertain Status = "progress_uncertain"
	StatusFailedExecute     Status = "failed_execute"
	StatusFailedVerify      Status = "failed_verify"
	StatusStopped           Status = "stopped"
	StatusError             Status = "error"
)

// RetryState mirrors the run-state retry block the router/UI polls.
type RetryState struct {
	Active      bool
	Attempt     int
	MaxAttempts int
	DelayMs     int64
}

// RunState is the per-session mutable run state: running/paused/stopped
// latches, the current retry block, and the steer/followUp queues. At most
// one of Running and (Paused without Running) holds; Stopped is terminal
// until an explicit restart clears it.
type RunState struct {
	mu sync.Mutex

	running bool
	paused  bool
	stopped bool
	retry   RetryState

	steer    []QueuedPrompt
	followUp []QueuedPrompt
}

// NewRunState returns an idle, unqueued run state.
func NewRunState() *RunState { return &RunState{} }

func (s *RunState) setRunning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = v
}

// Stop latches stopped; the loop observes it at the top of its next
// iteration and terminates.
func (s *RunState) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.paused = false
}

// Restart clears the stopped latch so a future Submit call may proceed.
func (s *RunState) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
}

// Pause and Resume toggle the paused gate; they have no effect once stopped.
func (s *RunState) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.paused = true
	}
}

func (s *RunState) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *RunState) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *RunState) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused && !s.stopped
}

// Enqueue adds an inbound prompt to the steer or followUp queue per its
// Behavior tag.
func (s *RunState) Enqueue(p QueuedPrompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Behavior == BehaviorSteer {
		s.steer = append(s.steer, p)
	} else {
		s.followUp = append(s.followUp, p)
	}
}

// drainSteer removes and returns every currently queued steer prompt.
func (s *RunState) drainSteer() []QueuedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.steer
	s.steer = nil
	return drained
}

// hasSteerQueued reports whether a steer prompt is waiting, without
// draining it — used for the between-tool-calls preemption check.
func (s *RunState) hasSteerQueued() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steer) > 0
}

// dequeueFollowUp pops the oldest queued follow-up prompt, if any.
func (s *RunState) dequeueFollowUp() (QueuedPrompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.followUp) == 0 {
		return QueuedPrompt{}, false
	}
	p := s.followUp[0]
	s.followUp = s.followUp[1:]
	return p, true
}

func (s *RunState) setRetry(r RetryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retry = r
}

// Snapshot is the read-only view of a run's state the router/UI polls.
type Snapshot struct {
	Running         bool
	Paused          bool
	Stopped         bool
	Retry           RetryState
	QueuedSteer     int
	QueuedFollowUp  int
}

func (s *RunState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Running:        s.running,
		Paused:         s.paused,
		Stopped:        s.stopped,
		Retry:          s.retry,
		QueuedSteer:    len(s.steer),
		QueuedFollowUp: len(s.followUp),
	}
}

// retryDelay is the exponential auto-replay delay window for tool retries,
// 300ms to 2s — distinct from the LLM pipeline's 500ms-4s window since the
// two retry budgets are independent.
const (
	toolRetryBaseDelay = 300 * time.Millisecond
	toolRetryMaxDelay  = 2 * time.Second
)

func toolRetryDelay(attempt int) time.Duration {
	d := toolRetryBaseDelay * time.Duration(1<<uint(attempt))
	if d > toolRetryMaxDelay {
		d = toolRetryMaxDelay
	}
	return d
}
