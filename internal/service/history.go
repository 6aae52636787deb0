package service

import "github.com/vmud/AI-image-gen-battle/internal/models"

// DefaultHistorySize is the number of jobs kept when no size is configured.
const DefaultHistorySize = 20

// History is a bounded, insertion-ordered collection of jobs. It is not
// safe for concurrent use; the orchestrator guards it.
type History struct {
	capacity int
	jobs     []*models.Job
	byID     map[string]*models.Job
}

// NewHistory creates an empty history holding up to capacity jobs.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		capacity: capacity,
		byID:     make(map[string]*models.Job),
	}
}

// Add appends a job and evicts the oldest finished jobs while the history
// is over capacity. Active jobs are never evicted. It returns the ids of
// evicted jobs.
func (h *History) Add(job *models.Job) []string {
	h.jobs = append(h.jobs, job)
	h.byID[job.ID] = job
	return h.evictDownTo(h.capacity)
}

// Trim evicts the oldest finished jobs until at most keep remain and
// returns how many were removed.
func (h *History) Trim(keep int) int {
	if keep < 0 {
		keep = 0
	}
	return len(h.evictDownTo(keep))
}

func (h *History) evictDownTo(limit int) []string {
	var evicted []string
	for len(h.jobs) > limit {
		idx := -1
		for i, j := range h.jobs {
			if j.Status.Terminal() {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		evicted = append(evicted, h.jobs[idx].ID)
		delete(h.byID, h.jobs[idx].ID)
		h.jobs = append(h.jobs[:idx], h.jobs[idx+1:]...)
	}
	return evicted
}

// Get returns the job with the given id, or nil.
func (h *History) Get(id string) *models.Job {
	return h.byID[id]
}

// Latest returns the most recently added job, or nil.
func (h *History) Latest() *models.Job {
	if len(h.jobs) == 0 {
		return nil
	}
	return h.jobs[len(h.jobs)-1]
}

// Len returns the number of jobs held.
func (h *History) Len() int {
	return len(h.jobs)
}

// Jobs returns the held jobs, oldest first.
func (h *History) Jobs() []*models.Job {
	out := make([]*models.Job, len(h.jobs))
	copy(out, h.jobs)
	return out
}
