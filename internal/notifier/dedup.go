package notifier

import (
	"strconv"
	"sync"
	"time"
)

// dedupSet remembers recently delivered keys until their window expires.
// Entries with the earliest expiry are evicted past maxEntries.
type dedupSet struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	window     time.Duration
	maxEntries int
	now        func() time.Time
}

func newDedupSet(window time.Duration, maxEntries int, now func() time.Time) *dedupSet {
	if now == nil {
		now = time.Now
	}
	return &dedupSet{entries: map[string]time.Time{}, window: window, maxEntries: maxEntries, now: now}
}

func dedupKey(chainID, ref string, chatID int64) string {
	return chainID + "|" + ref + "|" + strconv.FormatInt(chatID, 10)
}

func (d *dedupSet) seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window <= 0 {
		return false
	}
	until, ok := d.entries[key]
	return ok && d.now().Before(until)
}

func (d *dedupSet) mark(key string) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window <= 0 {
		return
	}
	d.entries[key] = now.Add(d.window)

	for k, until := range d.entries {
		if !now.Before(until) {
			delete(d.entries, k)
		}
	}
	for d.maxEntries > 0 && len(d.entries) > d.maxEntries {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range d.entries {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if !set {
			break
		}
		delete(d.entries, minKey)
	}
}

func (d *dedupSet) configure(window time.Duration, maxEntries int) {
	d.mu.Lock()
	d.window, d.maxEntries = window, maxEntries
	d.mu.Unlock()
}

func (d *dedupSet) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
