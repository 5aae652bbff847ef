package store

import (
	"container/heap"
	"time"
)

// expItem is one entry in the expiration index: a (instant, key) pair
// tagged with the version the owning map entry held when this item was
// pushed. A version mismatch at pop time means the key was overwritten
// or deleted since, and the item is stale and discarded without effect.
type expItem struct {
	at      time.Time
	key     string
	version uint64
}

// expHeap is a minimum-heap of expItem ordered by instant, giving the
// expiration worker O(log n) access to the next key due to expire.
type expHeap []expItem

func (h expHeap) Len() int            { return len(h) }
func (h expHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h expHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expHeap) Push(x interface{}) { *h = append(*h, x.(expItem)) }
func (h *expHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newExpHeap() *expHeap {
	h := expHeap{}
	heap.Init(&h)
	return &h
}

func (h *expHeap) push(item expItem) { heap.Push(h, item) }

func (h *expHeap) pop() expItem { return heap.Pop(h).(expItem) }

func (h *expHeap) peek() (expItem, bool) {
	if h.Len() == 0 {
		return expItem{}, false
	}
	return (*h)[0], true
}
