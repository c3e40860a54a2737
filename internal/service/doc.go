package service

// Package service runs batches of downloads on a fixed number of slots.
//
// Overview
// The Scheduler owns the batch: the queue of pending jobs, the state of every
// job and model.Slots slots with a bounded log each. Callers Submit up to
// model.MaxJobs URLs, watch Updates and take a Snapshot to render, and may
// CancelAll at any time.
//
// State changes happen in batch, which returns intents (start a job, terminate
// a process) instead of touching processes. The Scheduler executes intents
// after it released its lock, so a process callback can always take the lock.
//
// Runner is a thin wrapper around os/exec:
//   - starts the process in its own process group
//   - merges stdout and stderr into one pipe
//   - splits the output on \n, \r and \r\n
//   - reports the exit exactly once
//
// Data flow:
//
//   Scheduler             batch                  Runner{cmd}
//       |                    |                       |
//   Submit -> submit ------->| dispatch              |
//       |<----- start -------|                       |
//       | Launch ----------------------------------->| os/exec.Start
//       |<------------------------------ onLine -----| pump goroutine
//       |<------------------------------ onExit -----| Wait goroutine
//       | release + dispatch>|                       |
//       |<----- start -------|                       |
//
// Invariants:
//   - At most model.Slots processes run at a time.
//   - Jobs start in submission order; a freed slot takes the queue front.
//   - Every launched job frees its slot exactly once, when its process exits.
//   - Callbacks of a previous slot occupant are recognized by a generation
//     counter and ignored.
//   - After CancelAll nothing new starts and no more output is logged.
//
// scheduler_test.go shows the expected transitions step by step.
