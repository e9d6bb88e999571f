package merge

import (
	"slices"

	"github.com/davidvella/kmerge/source"
)

// Selector chooses how the engine finds the smallest current value.
type Selector int

const (
	// Linear scans every active source per value: O(k) comparisons.
	Linear Selector = iota
	// Heap keeps the active sources in a binary min-heap: O(log k) comparisons.
	Heap
)

func (s Selector) String() string {
	switch s {
	case Linear:
		return "linear"
	case Heap:
		return "heap"
	default:
		return "unknown"
	}
}

// ParseSelector maps a selector name to a Selector.
func ParseSelector(name string) (Selector, bool) {
	switch name {
	case "", "linear":
		return Linear, true
	case "heap":
		return Heap, true
	default:
		return Linear, false
	}
}

// selector tracks the active set. Both implementations order sources by
// current value and then by insertion order, so they emit identical output.
type selector interface {
	Len() int
	// Min returns the source holding the smallest current value.
	Min() *source.Source
	// Update restores the ordering after the source returned by Min advanced,
	// dropping it if it is now exhausted.
	Update()
}

func (s Selector) build(active []*source.Source) selector {
	if s == Heap {
		return newHeapSelector(active)
	}
	return &linearSelector{active: active}
}

type linearSelector struct {
	active []*source.Source
	last   int
}

func (l *linearSelector) Len() int {
	return len(l.active)
}

func (l *linearSelector) Min() *source.Source {
	l.last = 0
	minVal, _ := l.active[0].Peek()
	for i := 1; i < len(l.active); i++ {
		// Strict comparison keeps the earliest source on ties.
		if v, _ := l.active[i].Peek(); v < minVal {
			l.last, minVal = i, v
		}
	}
	return l.active[l.last]
}

func (l *linearSelector) Update() {
	if l.active[l.last].Exhausted() {
		l.active = slices.Delete(l.active, l.last, l.last+1)
	}
}

type heapEntry struct {
	src   *source.Source
	order int
}

type heapSelector struct {
	items []heapEntry
}

func newHeapSelector(active []*source.Source) *heapSelector {
	h := &heapSelector{items: make([]heapEntry, len(active))}
	for i, src := range active {
		h.items[i] = heapEntry{src: src, order: i}
	}
	for i := len(h.items)/2 - 1; i >= 0; i-- {
		h.down(i)
	}
	return h
}

func (h *heapSelector) Len() int {
	return len(h.items)
}

func (h *heapSelector) Min() *source.Source {
	return h.items[0].src
}

func (h *heapSelector) Update() {
	if h.items[0].src.Exhausted() {
		last := len(h.items) - 1
		h.items[0] = h.items[last]
		h.items = h.items[:last]
	}
	if len(h.items) > 0 {
		h.down(0)
	}
}

func (h *heapSelector) less(i, j int) bool {
	vi, _ := h.items[i].src.Peek()
	vj, _ := h.items[j].src.Peek()
	if vi != vj {
		return vi < vj
	}
	return h.items[i].order < h.items[j].order
}

// down moves the element at index i down to its proper position.
func (h *heapSelector) down(i int) {
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2

		if left < len(h.items) && h.less(left, smallest) {
			smallest = left
		}
		if right < len(h.items) && h.less(right, smallest) {
			smallest = right
		}

		if smallest == i {
			return
		}

		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
