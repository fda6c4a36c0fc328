// Package peers holds the stats table: an ordered set of peer records with
// request/reply counters and a round-robin cursor used to pick the
// forwarding hint for each outbound request.
package peers

import (
	"sort"

	"github.com/ndn-torrent/ntd/ndn"
)

type (
	// A Record tracks one peer's routable prefix and its counters. Counters
	// are mutated by the core; the table enforces no policy.
	Record struct {
		Name          ndn.Name
		SentInterests uint64
		ReceivedData  uint64
	}

	// A Table is a sortable collection of peer records. It is not safe for
	// concurrent use; the core touches it from the event loop only.
	Table struct {
		records []*Record
		cursor  int
	}
)

// NewTable creates a table from the given peer prefixes.
func NewTable(prefixes ...ndn.Name) *Table {
	t := &Table{}
	for _, p := range prefixes {
		t.Insert(p)
	}
	return t
}

// Insert adds a record for the given prefix if one is not already present.
func (t *Table) Insert(prefix ndn.Name) *Record {
	if r := t.Find(prefix); r != nil {
		return r
	}
	r := &Record{Name: prefix}
	t.records = append(t.records, r)
	return r
}

// Find returns the record with the given prefix, or nil.
func (t *Table) Find(prefix ndn.Name) *Record {
	for _, r := range t.records {
		if r.Name.Equal(prefix) {
			return r
		}
	}
	return nil
}

// Erase removes the record with the given prefix and reports whether one was
// removed. Erasing resets the cursor to the head.
func (t *Table) Erase(prefix ndn.Name) bool {
	for i, r := range t.records {
		if r.Name.Equal(prefix) {
			t.records = append(t.records[:i], t.records[i+1:]...)
			t.cursor = 0
			return true
		}
	}
	return false
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }

// Records returns the records in current order.
func (t *Table) Records() []*Record {
	return append([]*Record(nil), t.records...)
}

// less is the merit order: more data received first, then fewer interests
// spent, then name for a total order.
func less(a, b *Record) bool {
	if a.ReceivedData != b.ReceivedData {
		return a.ReceivedData > b.ReceivedData
	}
	if a.SentInterests != b.SentInterests {
		return a.SentInterests < b.SentInterests
	}
	return a.Name.Compare(b.Name) < 0
}

// Sort stably reorders the table by merit and resets the cursor to the head,
// invalidating any previously observed cursor position.
func (t *Table) Sort() {
	sort.SliceStable(t.records, func(i, j int) bool {
		return less(t.records[i], t.records[j])
	})
	t.cursor = 0
}

// Current returns the record under the cursor, or nil on an empty table.
func (t *Table) Current() *Record {
	if len(t.records) == 0 {
		return nil
	}
	return t.records[t.cursor]
}

// Advance moves the cursor round-robin, wrapping to the head at the end, and
// returns the new current record.
func (t *Table) Advance() *Record {
	if len(t.records) == 0 {
		return nil
	}
	t.cursor = (t.cursor + 1) % len(t.records)
	return t.records[t.cursor]
}

// Reset moves the cursor back to the head.
func (t *Table) Reset() {
	t.cursor = 0
}
