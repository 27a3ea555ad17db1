// Package frontier implements the Frontier priority queue from spec.md
// §4.3: URLs ordered by (pageTypePriority, depth, insertionOrder),
// deduplicated against both queued and visited sets. Structurally this
// generalizes the teacher's internal/engine/frontier.go Frontier
// (container/heap-backed pqItem/priorityQueue with Push/Pop/Snapshot/
// Drain/RestoreAll) from its single scrape-priority key to the compound
// key spec.md requires, and adds the visited-set bookkeeping the teacher
// left to its separate Deduplicator.
package frontier

import (
	"container/heap"
	"sync"

	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/urlnorm"
)

// Entry is one queued URL, exported for Snapshot/Restore round-tripping
// through a Checkpoint.
type Entry struct {
	URL      string
	Depth    int
	Priority int // pageTypePriority, lower = earlier
	seq      int64
}

// item is the heap element; seq is the monotonic insertion counter that
// makes equal-priority, equal-depth entries pop in FIFO order.
type item struct {
	entry Entry
	index int
}

type pq []*item

func (q pq) Len() int { return len(q) }
func (q pq) Less(i, j int) bool {
	a, b := q[i].entry, q[j].entry
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.seq < b.seq
}
func (q pq) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *pq) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *pq) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// Frontier is a thread-safe priority queue over normalized URLs, tracking
// visited/queued sets so push is idempotent per spec.md's
// `visited ∩ queued = ∅` invariant.
type Frontier struct {
	mu      sync.Mutex
	heap    pq
	queued  map[string]bool
	visited map[string]bool
	nextSeq int64
}

// New builds an empty Frontier.
func New() *Frontier {
	return &Frontier{
		queued:  make(map[string]bool),
		visited: make(map[string]bool),
	}
}

// Push classifies and normalizes rawURL, then enqueues it unless it is
// already visited or queued. Returns false when the push was a no-op due
// to dedup.
func (f *Frontier) Push(rawURL string, depth int) bool {
	key := urlnorm.Normalize(rawURL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.visited[key] || f.queued[key] {
		return false
	}

	priority := urlnorm.Priority(urlnorm.Classify(key))
	e := Entry{URL: key, Depth: depth, Priority: priority, seq: f.nextSeq}
	f.nextSeq++

	heap.Push(&f.heap, &item{entry: e})
	f.queued[key] = true
	return true
}

// Pop removes and returns the highest-priority entry, marking it visited.
// ok is false when the frontier is empty.
func (f *Frontier) Pop() (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.heap.Len() == 0 {
		return Entry{}, false
	}
	it := heap.Pop(&f.heap).(*item)
	delete(f.queued, it.entry.URL)
	f.visited[it.entry.URL] = true
	return it.entry, true
}

// Requeue re-inserts a previously popped URL at its original priority,
// used when a RateGate acquire times out (spec.md §4.4 step 3) and the
// request must be retried rather than dropped.
func (f *Frontier) Requeue(e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.visited, e.URL)
	if f.queued[e.URL] {
		return
	}
	e.seq = f.nextSeq
	f.nextSeq++
	heap.Push(&f.heap, &item{entry: e})
	f.queued[e.URL] = true
}

// Len returns the number of queued (not yet popped) entries.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

// IsEmpty reports whether the frontier has no queued entries.
func (f *Frontier) IsEmpty() bool { return f.Len() == 0 }

// IsVisited reports whether the normalized key has already been popped.
func (f *Frontier) IsVisited(rawURL string) bool {
	key := urlnorm.Normalize(rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited[key]
}

// Snapshot captures the frontier's state for a Checkpoint: every queued
// entry plus the visited-set as a plain slice.
func (f *Frontier) Snapshot() (queued []model.QueuedURL, visited []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	queued = make([]model.QueuedURL, 0, f.heap.Len())
	ordered := make([]*item, len(f.heap))
	copy(ordered, f.heap)
	// Snapshot in pop order so Restore rebuilds an identical heap.
	tmp := make(pq, len(ordered))
	copy(tmp, ordered)
	for tmp.Len() > 0 {
		it := heap.Pop(&tmp).(*item)
		queued = append(queued, model.QueuedURL{
			URL:      it.entry.URL,
			Priority: it.entry.Priority,
			Depth:    it.entry.Depth,
		})
	}

	visited = make([]string, 0, len(f.visited))
	for u := range f.visited {
		visited = append(visited, u)
	}
	return queued, visited
}

// Restore rebuilds frontier state from a Checkpoint's queued/visited
// lists, preserving the queued list's order as insertion order.
func (f *Frontier) Restore(queued []model.QueuedURL, visited []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.heap = nil
	f.queued = make(map[string]bool)
	f.visited = make(map[string]bool)
	f.nextSeq = 0

	heap.Init(&f.heap)
	for _, q := range queued {
		e := Entry{URL: q.URL, Depth: q.Depth, Priority: q.Priority, seq: f.nextSeq}
		f.nextSeq++
		heap.Push(&f.heap, &item{entry: e})
		f.queued[q.URL] = true
	}
	for _, u := range visited {
		f.visited[u] = true
	}
}
