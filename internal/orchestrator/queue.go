package orchestrator

import (
	"container/heap"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// workQueue is a priority-ordered heap of Ready work items: higher
// Priority first, ties broken by earlier SubmittedAt (spec.md §4.4).
type workQueue struct {
	items []*types.WorkItem
}

func (q *workQueue) Len() int { return len(q.items) }

func (q *workQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.SubmittedAt.Before(b.SubmittedAt)
}

func (q *workQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *workQueue) Push(x interface{}) { q.items = append(q.items, x.(*types.WorkItem)) }

func (q *workQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	heap.Init(q)
	return q
}

func (q *workQueue) enqueue(item *types.WorkItem) { heap.Push(q, item) }

func (q *workQueue) dequeue() (*types.WorkItem, bool) {
	if q.Len() == 0 {
		return nil, false
	}
	return heap.Pop(q).(*types.WorkItem), true
}
