package service

import (
	"github.com/CZERTAINLY/batchdl/internal/logsink"
	"github.com/CZERTAINLY/batchdl/internal/model"
)

type intentKind int

const (
	intentStart intentKind = iota
	intentTerminate
)

// intent is a side effect requested by a batch transition. Transitions never
// touch processes themselves; the Scheduler executes intents after it
// released its lock.
type intent struct {
	kind   intentKind
	slot   int
	gen    uint64
	job    model.Job
	handle Handle
}

// slot is one unit of concurrency. gen changes every time the slot is
// assigned or reset, so callbacks of a previous occupant can be recognized.
type slot struct {
	job    *model.Job
	gen    uint64
	handle Handle
	log    *logsink.Sink
}

func (s *slot) idle() bool {
	return s.job == nil
}

// batch is the state of the current batch. It is not safe for concurrent
// use; the Scheduler serializes every call.
type batch struct {
	id      string
	audio   bool
	dir     string
	running bool
	jobs    []model.Job
	queue   []model.Job
	states  map[int]model.JobState
	slots   [model.Slots]slot
	seq     uint64
}

func newBatch() *batch {
	b := &batch{states: map[int]model.JobState{}}
	for i := range b.slots {
		b.slots[i].log = logsink.New(model.LogLines)
	}
	return b
}

func (b *batch) next() uint64 {
	b.seq++
	return b.seq
}

// submit starts a new batch from already normalized jobs. Stale handles left
// over from a cancelled batch are terminated again and forgotten.
func (b *batch) submit(id string, jobs []model.Job, audio bool, dir string) ([]intent, error) {
	if b.running {
		return nil, model.ErrBatchRunning
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	var intents []intent
	for i := range b.slots {
		s := &b.slots[i]
		if s.handle != nil {
			intents = append(intents, intent{kind: intentTerminate, slot: i, handle: s.handle})
		}
		s.job = nil
		s.handle = nil
		s.gen = b.next()
		s.log.Reset()
	}

	b.id = id
	b.audio = audio
	b.dir = dir
	b.jobs = append([]model.Job(nil), jobs...)
	b.queue = append([]model.Job(nil), jobs...)
	b.states = make(map[int]model.JobState, len(jobs))
	for _, j := range jobs {
		b.states[j.ID] = model.JobPending
	}
	b.running = true
	return append(intents, b.dispatch()...), nil
}

// dispatch fills idle slots in index order with jobs from the queue front,
// then ends the batch when nothing is queued or running.
func (b *batch) dispatch() []intent {
	if !b.running {
		return nil
	}
	var intents []intent
	for i := range b.slots {
		s := &b.slots[i]
		if !s.idle() || len(b.queue) == 0 {
			continue
		}
		job := b.queue[0]
		b.queue = b.queue[1:]
		s.job = &job
		s.gen = b.next()
		s.handle = nil
		s.log.Reset()
		b.states[job.ID] = model.JobRunning
		intents = append(intents, intent{kind: intentStart, slot: i, gen: s.gen, job: job})
	}
	if len(b.queue) == 0 && b.allIdle() {
		b.running = false
	}
	return intents
}

// attach hands the process of a started job to its slot. It reports true
// when the caller must terminate h: the slot moved on already or the batch
// was cancelled while the process was launching.
func (b *batch) attach(idx int, gen uint64, h Handle) bool {
	s := &b.slots[idx]
	if s.gen != gen || s.idle() {
		return true
	}
	s.handle = h
	return !b.running
}

// release frees the slot after its process exited. ok is false for exits of
// a previous occupant.
func (b *batch) release(idx int, gen uint64, success bool) (job model.Job, state model.JobState, ok bool) {
	s := &b.slots[idx]
	if s.gen != gen || s.idle() {
		return model.Job{}, "", false
	}
	job = *s.job
	switch {
	case success:
		state = model.JobCompleted
	case b.running:
		state = model.JobFailed
	default:
		state = model.JobCancelled
	}
	b.states[job.ID] = state
	s.job = nil
	s.handle = nil
	return job, state, true
}

// cancel drops the queue and asks every running process to terminate.
// Slots stay occupied until their exit arrives.
func (b *batch) cancel() []intent {
	for _, j := range b.queue {
		b.states[j.ID] = model.JobCancelled
	}
	b.queue = nil
	b.running = false

	var intents []intent
	for i := range b.slots {
		s := &b.slots[i]
		if s.idle() || s.handle == nil {
			continue
		}
		intents = append(intents, intent{kind: intentTerminate, slot: i, gen: s.gen, handle: s.handle})
	}
	return intents
}

// live reports whether a callback for slot idx and gen still belongs to the
// running batch.
func (b *batch) live(idx int, gen uint64) bool {
	s := &b.slots[idx]
	return b.running && s.gen == gen && !s.idle()
}

func (b *batch) allIdle() bool {
	for i := range b.slots {
		if !b.slots[i].idle() {
			return false
		}
	}
	return true
}

func (b *batch) settled() bool {
	return !b.running && b.allIdle()
}

func (b *batch) snapshot() model.Snapshot {
	snap := model.Snapshot{
		BatchID: b.id,
		Running: b.running,
		Queued:  len(b.queue),
		Total:   len(b.jobs),
		Jobs:    make([]model.JobView, 0, len(b.jobs)),
	}
	slotOf := make(map[int]int, model.Slots)
	for i := range b.slots {
		s := &b.slots[i]
		view := model.SlotView{Index: i, JobID: -1, Lines: s.log.Lines()}
		if !s.idle() {
			view.Active = true
			view.JobID = s.job.ID
			slotOf[s.job.ID] = i
		}
		snap.Slots[i] = view
	}
	for _, j := range b.jobs {
		state := b.states[j.ID]
		switch state {
		case model.JobCompleted:
			snap.Completed++
		case model.JobFailed:
			snap.Failed++
		}
		view := model.JobView{Job: j, State: state, Slot: -1}
		if idx, ok := slotOf[j.ID]; ok {
			view.Slot = idx
		}
		snap.Jobs = append(snap.Jobs, view)
	}
	return snap
}
