package runner

import (
	"container/heap"
	"time"
)

// taskRecord is one pending submission. It is never modified after creation.
type taskRecord struct {
	id          string
	run         Action
	priority    int
	submittedAt time.Time
	seq         uint64 // submission order; breaks ties between equal timestamps
}

// before reports whether a is admitted ahead of b:
// higher priority first, then older submission, then lower sequence.
func (a *taskRecord) before(b *taskRecord) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if !a.submittedAt.Equal(b.submittedAt) {
		return a.submittedAt.Before(b.submittedAt)
	}
	return a.seq < b.seq
}

// recordHeap implements heap.Interface.
type recordHeap []*taskRecord

func (h recordHeap) Len() int           { return len(h) }
func (h recordHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h recordHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *recordHeap) Push(x any) { *h = append(*h, x.(*taskRecord)) }

func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil // drop the reference so admitted actions can be collected
	*h = old[:n-1]
	return rec
}

// pendingQueue is the table of submitted, not yet admitted tasks.
// Not safe for concurrent use; the Runner guards it with its mutex.
type pendingQueue struct {
	h   recordHeap
	seq uint64
}

func (q *pendingQueue) push(id string, run Action, priority int, at time.Time) *taskRecord {
	q.seq++
	rec := &taskRecord{id: id, run: run, priority: priority, submittedAt: at, seq: q.seq}
	heap.Push(&q.h, rec)
	return rec
}

// pop removes the next task to admit.
func (q *pendingQueue) pop() (*taskRecord, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(*taskRecord), true
}

func (q *pendingQueue) len() int { return len(q.h) }
