package astrobox

import "time"

// DefaultBackoffTable is the sequence of waits between reconnect attempts.
// Once every entry has been used the client stops retrying.
var DefaultBackoffTable = []time.Duration{
	1 * time.Second,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	13 * time.Second,
	20 * time.Second,
	40 * time.Second,
	100 * time.Second,
}

// backoff maps a reconnect attempt index to a delay drawn from a fixed table.
type backoff struct {
	table []time.Duration
}

func newBackoff(table []time.Duration) *backoff {
	if len(table) == 0 {
		table = DefaultBackoffTable
	}
	cp := make([]time.Duration, len(table))
	copy(cp, table)
	return &backoff{table: cp}
}

// delay returns the wait before attempt i. ok is false when the table is
// exhausted.
func (b *backoff) delay(attempt int) (d time.Duration, ok bool) {
	if attempt < 0 || attempt >= len(b.table) {
		return 0, false
	}
	return b.table[attempt], true
}

func (b *backoff) len() int {
	return len(b.table)
}
