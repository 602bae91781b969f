package engine

import "container/heap"

type queueItem struct {
	id       string
	priority int
	seq      int64
	resume   bool
}

// ideaQueue orders waiting ideas by priority, highest first, then by
// submission sequence.
type ideaQueue []*queueItem

var _ heap.Interface = (*ideaQueue)(nil)

func (q ideaQueue) Len() int { return len(q) }

func (q ideaQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q ideaQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *ideaQueue) Push(x any) { *q = append(*q, x.(*queueItem)) }

func (q *ideaQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}
