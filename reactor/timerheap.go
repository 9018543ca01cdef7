package reactor

import (
	"container/heap"
	"time"
)

// timerEntry is one pending deadline in the min-heap, ordered by deadline.
type timerEntry struct {
	deadline time.Time
	token    TimerToken
}

// timerHeap is a container/heap min-heap over timerEntry.deadline, backing
// Loop's pending timer set. A cancelled timer is left in place and filtered
// out by lookups in Loop's cancelled set at pop time rather than removed in place,
// since container/heap has no O(log n) remove-by-key without tracking
// indices.
type timerHeap []timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

func newTimerHeap() *timerHeap {
	h := &timerHeap{}
	heap.Init(h)
	return h
}

func (h *timerHeap) push(deadline time.Time, token TimerToken) {
	heap.Push(h, timerEntry{deadline: deadline, token: token})
}

// peekDeadline reports the earliest deadline in the heap, if any.
func (h *timerHeap) peekDeadline() (time.Time, bool) {
	if h.Len() == 0 {
		return time.Time{}, false
	}
	return (*h)[0].deadline, true
}

func (h *timerHeap) pop() timerEntry {
	return heap.Pop(h).(timerEntry)
}
