package queue

import (
	"container/heap"
	"time"

	"github.com/mediabuilder/mediad/internal/models"
)

// queueEntry is one pending job reference in a type queue. Records are
// looked up by ID at dequeue time; entries for jobs that left the pending
// state are discarded lazily.
type queueEntry struct {
	jobID       models.ULID
	priority    models.JobPriority
	submittedAt time.Time
}

// entryHeap orders entries by priority descending, then submission time
// ascending (FIFO within a priority).
type entryHeap []queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].submittedAt.Before(h[j].submittedAt)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push implements heap.Interface.
func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(queueEntry))
}

// Pop implements heap.Interface.
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// push adds an entry maintaining heap order.
func (h *entryHeap) push(e queueEntry) {
	heap.Push(h, e)
}

// pop removes and returns the highest-priority entry.
func (h *entryHeap) pop() (queueEntry, bool) {
	if h.Len() == 0 {
		return queueEntry{}, false
	}
	return heap.Pop(h).(queueEntry), true
}
