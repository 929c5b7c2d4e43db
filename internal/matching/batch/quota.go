package batch

import "sync"

// quotaLedger tracks how many matches each member holds in the cycle for
// the length of one run. A member's count is seeded from the store the
// first time it is seen and afterwards only moves through reserve and
// release, so matches made earlier in the run are never counted twice.
type quotaLedger struct {
	limit int

	mu   sync.Mutex
	held map[string]int
}

func newQuotaLedger(limit int) *quotaLedger {
	return &quotaLedger{limit: limit, held: make(map[string]int)}
}

// unseen returns the ids that have not been seeded yet.
func (l *quotaLedger) unseen(ids []string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string
	for _, id := range ids {
		if _, ok := l.held[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// seed stores counts for members not seen yet. Existing entries win.
func (l *quotaLedger) seed(counts map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, n := range counts {
		if _, ok := l.held[id]; !ok {
			l.held[id] = n
		}
	}
}

func (l *quotaLedger) remaining(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit - l.held[id]
}

// full returns the ids already holding the whole quota.
func (l *quotaLedger) full(ids []string) map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]struct{})
	for _, id := range ids {
		if l.held[id] >= l.limit {
			out[id] = struct{}{}
		}
	}
	return out
}

// reserve takes one slot from both members, or none when either is full.
func (l *quotaLedger) reserve(a, b string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[a] >= l.limit || l.held[b] >= l.limit {
		return false
	}
	l.held[a]++
	l.held[b]++
	return true
}

func (l *quotaLedger) release(a, b string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[a] > 0 {
		l.held[a]--
	}
	if l.held[b] > 0 {
		l.held[b]--
	}
}
