package model

// JobState is the lifecycle of a single job inside a batch.
type JobState string

const (
	// JobPending means the job waits in the queue
	JobPending JobState = "pending"

	// JobRunning means the job occupies a slot
	JobRunning JobState = "running"

	// JobCompleted means the process exited with code zero
	JobCompleted JobState = "completed"

	// JobFailed means the process could not start or exited non-zero
	JobFailed JobState = "failed"

	// JobCancelled means the batch was cancelled before the job finished
	JobCancelled JobState = "cancelled"
)

func (s JobState) String() string {
	return string(s)
}

// IsFinished returns true for terminal states.
func (s JobState) IsFinished() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// SlotView is a read-only copy of one slot.
type SlotView struct {
	Index  int
	Active bool
	// JobID is -1 while the slot is idle.
	JobID int
	Lines []string
}

// JobView is a read-only copy of one submitted job.
type JobView struct {
	Job
	State JobState
	// Slot is the slot the job runs in, -1 unless State is JobRunning.
	Slot int
}

// Snapshot is everything a presenter may read about the scheduler.
type Snapshot struct {
	BatchID   string
	Running   bool
	Completed int
	Failed    int
	Queued    int
	Total     int
	Slots     [Slots]SlotView
	Jobs      []JobView
}

// ActiveSlots counts slots that hold a job.
func (s Snapshot) ActiveSlots() int {
	var n int
	for _, slot := range s.Slots {
		if slot.Active {
			n++
		}
	}
	return n
}

// CompletedIDs returns the ids of jobs which exited successfully, in id order.
func (s Snapshot) CompletedIDs() []int {
	var ids []int
	for _, j := range s.Jobs {
		if j.State == JobCompleted {
			ids = append(ids, j.ID)
		}
	}
	return ids
}
