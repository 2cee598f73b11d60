package schema

// Record is one row of a governed table, keyed by column name. Values are
// whatever the storage driver produced (string, int64, []byte, nil).
type Record map[string]any

// Clone returns a shallow copy so encrypt/decrypt never mutate the caller's
// map in place.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Where is an equality predicate over columns; multiple entries are ANDed.
type Where map[string]any
