package domain

// LoopStatus is the terminal or in-flight status of one agent loop run.
type LoopStatus string

const (
	StatusDone             LoopStatus = "done"
	StatusStopped          LoopStatus = "stopped"
	StatusMaxSteps         LoopStatus = "max_steps"
	StatusProgressUncertain LoopStatus = "progress_uncertain"
	StatusFailedExecute    LoopStatus = "failed_execute"
	StatusFailedVerify     LoopStatus = "failed_verify"
)

// StreamingBehavior tags an inbound prompt with when it should be drained.
type StreamingBehavior string

const (
	BehaviorSteer    StreamingBehavior = "steer"
	BehaviorFollowUp StreamingBehavior = "follow_up"
)

// QueuedPrompt is one inbound prompt waiting to be drained into a loop.
type QueuedPrompt struct {
	Text     string
	Behavior StreamingBehavior
}

// RetryState tracks the current tool auto-replay in flight for one session.
type RetryState struct {
	Active      bool
	Attempt     int
	MaxAttempts int
	DelayMs     int
}

// Queue holds the steer/followUp prompt backlog for one session.
type Queue struct {
	Steer    []QueuedPrompt
	FollowUp []QueuedPrompt
}

// Total returns the combined backlog length.
func (q Queue) Total() int { return len(q.Steer) + len(q.FollowUp) }

// RunState is the per-session state machine described by §4.4: at most one
// of Running and (Paused without Running) holds, and once Stopped latches it
// forbids further steps until an explicit restart clears it.
type RunState struct {
	Running bool
	Paused  bool
	Stopped bool
	Retry   RetryState
	Queue   Queue
}

// CanStep reports whether the loop may advance: not stopped, and either
// running or about to become running.
func (r RunState) CanStep() bool {
	return !r.Stopped
}
