package txn

import (
	"container/heap"
	"sync/atomic"

	"tiny_mvcc/pkg/mvstore"
)

type versionHeap []mvstore.Version

func (h *versionHeap) Len() int           { return len(*h) }
func (h *versionHeap) Less(i, j int) bool { return (*h)[i] < (*h)[j] }
func (h *versionHeap) Swap(i, j int)      { (*h)[i], (*h)[j] = (*h)[j], (*h)[i] }
func (h *versionHeap) Push(x any)         { *h = append(*h, x.(mvstore.Version)) }
func (h *versionHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// markHeap is the bookkeeping behind a WaterMark. Only the WaterMark
// goroutine touches it, except for doneTill which is read atomically.
type markHeap struct {
	doneTill      atomic.Uint64
	versions      versionHeap                         // min heap of versions with pending marks
	pendingCounts map[mvstore.Version]int             // version -> begun minus done
	waiters       map[mvstore.Version][]chan struct{} // version -> waitChs
}

func newMarkHeap(doneTill mvstore.Version) *markHeap {
	h := &markHeap{
		pendingCounts: make(map[mvstore.Version]int),
		waiters:       make(map[mvstore.Version][]chan struct{}),
	}
	heap.Init(&h.versions)
	h.doneTill.Store(doneTill)
	return h
}

func (h *markHeap) addBegin(version mvstore.Version) {
	h.add(version, 1)
}

func (h *markHeap) addDone(version mvstore.Version) {
	h.add(version, -1)
}

func (h *markHeap) add(version mvstore.Version, delta int) {
	if _, ok := h.pendingCounts[version]; !ok {
		heap.Push(&h.versions, version)
	}
	h.pendingCounts[version] += delta
}

func (h *markHeap) addWaiter(version mvstore.Version, ch chan struct{}) {
	h.waiters[version] = append(h.waiters[version], ch)
}

func (h *markHeap) closeWaitersUntil(version mvstore.Version) {
	for v, chs := range h.waiters {
		if v > version {
			continue
		}
		for _, ch := range chs {
			close(ch)
		}
		delete(h.waiters, v)
	}
}

func (h *markHeap) closeAllWaiters() {
	for v, chs := range h.waiters {
		for _, ch := range chs {
			close(ch)
		}
		delete(h.waiters, v)
	}
}

// recalculate pops every fully done version off the heap and advances
// doneTill to the last of them. It never moves doneTill backwards.
func (h *markHeap) recalculate() mvstore.Version {
	doneTill := h.doneTill.Load()
	for len(h.versions) > 0 {
		lowest := h.versions[0]
		if h.pendingCounts[lowest] > 0 {
			break
		}
		heap.Pop(&h.versions)
		delete(h.pendingCounts, lowest)
		if lowest > doneTill {
			doneTill = lowest
		}
	}
	h.doneTill.Store(doneTill)
	return doneTill
}
