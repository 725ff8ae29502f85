// Package scheduler implements the Scheduler (C8): a priority+time-ordered
// job queue, a bounded worker pool, retry with exponential backoff, and a
// periodic re-discovery tick. Grounded on the teacher's worker-pool shape
// (goroutine workers draining a shared channel under a WaitGroup) with the
// priority ordering added via container/heap, a pattern the teacher itself
// does not use but which the other example repos' job-queue code favors
// for mixed priority/time ordering.
package scheduler

import (
	"container/heap"

	"github.com/HerbHall/discoveryd/pkg/models"
)

// jobHeap orders pending jobs by priority (highest first), then by
// scheduled_at (earliest first) within the same priority.
type jobHeap []*models.DiscoveryJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].ScheduledAt.Before(h[j].ScheduledAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(*models.DiscoveryJob))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*jobHeap)(nil)
