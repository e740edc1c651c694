package service

import (
	"sort"
	"sync"
	"time"
)

// activeJob is a running workflow. Stop is cooperative: the workflow checks
// the flag at step boundaries and wakes up from inter-step delays.
type activeJob struct {
	startedAt time.Time
	stopOnce  sync.Once
	stopCh    chan struct{}
}

func (j *activeJob) requestStop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

func (j *activeJob) stopRequested() bool {
	select {
	case <-j.stopCh:
		return true
	default:
		return false
	}
}

// jobRegistry tracks running automations by id with atomic check-and-insert.
type jobRegistry struct {
	mu   sync.Mutex
	jobs map[uint]*activeJob
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[uint]*activeJob)}
}

// add registers id unless it is already running.
func (r *jobRegistry) add(id uint) (*activeJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[id]; exists {
		return nil, false
	}
	job := &activeJob{startedAt: time.Now(), stopCh: make(chan struct{})}
	r.jobs[id] = job
	return job, true
}

// remove unregisters id only if it still maps to job, so a finished
// workflow cannot evict a newer run of the same automation.
func (r *jobRegistry) remove(id uint, job *activeJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.jobs[id]; ok && cur == job {
		delete(r.jobs, id)
	}
}

func (r *jobRegistry) get(id uint) (*activeJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *jobRegistry) ids() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint, 0, len(r.jobs))
	for id := range r.jobs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
