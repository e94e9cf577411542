package scheduler

import (
	"container/heap"
	"time"

	"github.com/metis-devops/metis-checkin/internal/account"
)

// Task is one pending check-in. Tasks are owned by a Queue and must not be
// modified while queued.
type Task struct {
	At      time.Time
	Account account.Account

	seq   uint64
	index int
}

// taskHeap orders tasks by At, then by insertion order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].seq < h[j].seq
	}
	return h[i].At.Before(h[j].At)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Queue is a min-priority queue of tasks keyed by execution time. It does
// not deduplicate accounts; the Scheduler does.
type Queue struct {
	h   taskHeap
	seq uint64
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Len() int { return q.h.Len() }

func (q *Queue) Empty() bool { return q.h.Len() == 0 }

func (q *Queue) Push(t *Task) {
	q.seq++
	t.seq = q.seq
	heap.Push(&q.h, t)
}

// Peek returns the earliest task without removing it, or nil.
func (q *Queue) Peek() *Task {
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the earliest task, or nil.
func (q *Queue) Pop() *Task {
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Task)
}

// Remove drops t if it is still queued.
func (q *Queue) Remove(t *Task) bool {
	if t == nil || t.index < 0 || t.index >= len(q.h) || q.h[t.index] != t {
		return false
	}
	heap.Remove(&q.h, t.index)
	return true
}

// Tasks returns the queued tasks in execution order.
func (q *Queue) Tasks() []Task {
	cp := make(taskHeap, len(q.h))
	for i, t := range q.h {
		c := *t
		cp[i] = &c
	}
	heap.Init(&cp)

	out := make([]Task, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, *heap.Pop(&cp).(*Task))
	}
	return out
}
