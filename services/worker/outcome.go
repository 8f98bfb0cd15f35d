package worker

// Outcome is the result of one phase invocation. Phase logic communicates
// policy pauses and failures through outcomes; returned errors are reserved
// for genuinely unexpected conditions.
type Outcome int

const (
	// NothingToDo: no eligible job, a terminal job, or a job this worker
	// instance must not touch (local-system pass-through).
	NothingToDo Outcome = iota
	// Advanced: the job moved forward to the phase's target status.
	Advanced
	// Paused: the job was returned to a waiting status (quota, system
	// unavailability, interruption, or a retryable attempt failure).
	Paused
	// Failed: the job reached a terminal failure status.
	Failed
	// Conflict: a concurrent worker won the optimistic write race; this
	// attempt was abandoned and the job left as the winner wrote it.
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case NothingToDo:
		return "nothing_to_do"
	case Advanced:
		return "advanced"
	case Paused:
		return "paused"
	case Failed:
		return "failed"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}
