package predict

import "sync"

// ConfirmOverlap is the word overlap a real query needs with a tracked
// signature to confirm it.
const ConfirmOverlap = 0.7

// Tracker remembers pre-warmed signatures and whether real traffic has
// since asked for them. It is bounded: once it holds more than limit
// signatures only the keep most recent survive.
type Tracker struct {
	mu        sync.Mutex
	order     []string
	confirmed map[string]bool
	limit     int
	keep      int
}

// NewTracker creates a tracker bounded by limit and keep.
func NewTracker(limit, keep int) *Tracker {
	if limit <= 0 {
		limit = 1000
	}
	if keep <= 0 || keep > limit {
		keep = limit / 2
	}
	return &Tracker{confirmed: make(map[string]bool), limit: limit, keep: keep}
}

// Track records signature as unconfirmed. Re-tracking a signature resets
// it and makes it the most recent.
func (t *Tracker) Track(signature string) {
	if signature == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.confirmed[signature]; ok {
		for i, s := range t.order {
			if s == signature {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	t.order = append(t.order, signature)
	t.confirmed[signature] = false

	if len(t.order) > t.limit {
		drop := t.order[:len(t.order)-t.keep]
		for _, s := range drop {
			delete(t.confirmed, s)
		}
		t.order = append([]string(nil), t.order[len(t.order)-t.keep:]...)
	}
}

// TrackAccuracy confirms the unconfirmed signature that best overlaps the
// signature of query, if any reaches ConfirmOverlap. It returns the
// confirmed signature.
func (t *Tracker) TrackAccuracy(query string) (string, bool) {
	sig := Signature(query)
	if sig == "" {
		return "", false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	best, bestOverlap := "", 0.0
	for _, s := range t.order {
		if t.confirmed[s] {
			continue
		}
		if o := wordOverlap(sig, s); o >= ConfirmOverlap && o > bestOverlap {
			best, bestOverlap = s, o
		}
	}
	if best == "" {
		return "", false
	}
	t.confirmed[best] = true
	return best, true
}

// Counts returns the number of tracked and confirmed signatures.
func (t *Tracker) Counts() (tracked, confirmed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ok := range t.confirmed {
		if ok {
			confirmed++
		}
	}
	return len(t.order), confirmed
}

// HitRate is confirmed / tracked, zero when nothing is tracked.
func (t *Tracker) HitRate() float64 {
	tracked, confirmed := t.Counts()
	if tracked == 0 {
		return 0
	}
	return float64(confirmed) / float64(tracked)
}

// Confirmed reports the state of one signature.
func (t *Tracker) Confirmed(signature string) (confirmed, tracked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	confirmed, tracked = t.confirmed[signature]
	return confirmed, tracked
}
