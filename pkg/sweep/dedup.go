package sweep

import "sync"

const (
	// dedupSoftCap is the size at which the processed set is trimmed.
	dedupSoftCap = 1000
	// dedupKeep is how many most-recent entries survive a trim.
	dedupKeep = 500
)

// Dedup is a bounded set of transaction hashes already reported to users. It
// is shared across every cycle so a confirmation-wait timeout followed by a
// later re-observation of the same transaction cannot notify twice.
type Dedup struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string // insertion order, oldest first
}

// NewDedup builds an empty processed-transaction set.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// MarkSeen records a transaction hash and reports whether this is the first
// time it was observed. Callers notify only on true.
func (d *Dedup) MarkSeen(txHash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[txHash]; ok {
		return false
	}
	d.seen[txHash] = struct{}{}
	d.order = append(d.order, txHash)

	if len(d.order) > dedupSoftCap {
		cut := len(d.order) - dedupKeep
		for _, old := range d.order[:cut] {
			delete(d.seen, old)
		}
		d.order = append(d.order[:0], d.order[cut:]...)
	}
	return true
}

// Len reports the current set size.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
