package processor

// jobQueue is a priority-tiered FIFO. Insertion appends to the tier, so
// ordering within a tier is stable; requeued jobs go to the tail of their
// tier and never starve newer arrivals of other tenants.
//
// Not safe for concurrent use; the processor guards it with its own mutex.
type jobQueue struct {
	tiers [priorityCount][]*Job
}

func newJobQueue() *jobQueue {
	return &jobQueue{}
}

// push appends the job to the tail of its priority tier.
func (q *jobQueue) push(job *Job) {
	q.tiers[job.Priority] = append(q.tiers[job.Priority], job)
}

// remove deletes the job with the given ID, returning it if found.
func (q *jobQueue) remove(jobID string) *Job {
	for tier := range q.tiers {
		for i, job := range q.tiers[tier] {
			if job.ID == jobID {
				q.tiers[tier] = append(q.tiers[tier][:i], q.tiers[tier][i+1:]...)
				return job
			}
		}
	}
	return nil
}

// takeWhere removes and returns up to max jobs for which eligible returns
// true, scanning tiers high to low. Ineligible jobs keep their position.
func (q *jobQueue) takeWhere(max int, eligible func(*Job) bool) []*Job {
	taken := make([]*Job, 0, max)

	for tier := range q.tiers {
		if len(taken) >= max {
			break
		}

		kept := q.tiers[tier][:0]
		for _, job := range q.tiers[tier] {
			if len(taken) < max && eligible(job) {
				taken = append(taken, job)
				continue
			}
			kept = append(kept, job)
		}
		// Zero the tail so removed jobs do not leak
		for i := len(kept); i < len(q.tiers[tier]); i++ {
			q.tiers[tier][i] = nil
		}
		q.tiers[tier] = kept
	}

	return taken
}

// drain removes and returns every queued job.
func (q *jobQueue) drain() []*Job {
	var all []*Job
	for tier := range q.tiers {
		all = append(all, q.tiers[tier]...)
		q.tiers[tier] = nil
	}
	return all
}

// len returns the number of queued jobs.
func (q *jobQueue) len() int {
	n := 0
	for tier := range q.tiers {
		n += len(q.tiers[tier])
	}
	return n
}

// byPriority returns queue depth per priority name.
func (q *jobQueue) byPriority() map[string]int {
	counts := make(map[string]int, priorityCount)
	for tier := range q.tiers {
		counts[Priority(tier).String()] = len(q.tiers[tier])
	}
	return counts
}
