package record

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Row is an ordered mapping of column names to values.
type Row struct {
	names  []string
	values []Value
	index  map[string]int
}

// NewRow returns an empty row with room for n columns.
func NewRow(n int) *Row {
	return &Row{
		names:  make([]string, 0, n),
		values: make([]Value, 0, n),
		index:  make(map[string]int, n),
	}
}

// Set adds a column, or replaces the value of an existing one in place.
func (r *Row) Set(name string, v Value) {
	if i, ok := r.index[name]; ok {
		r.values[i] = v
		return
	}
	r.index[name] = len(r.names)
	r.names = append(r.names, name)
	r.values = append(r.values, v)
}

func (r *Row) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Value{}, false
	}
	return r.values[i], true
}

// Lookup returns the native value of a column.
func (r *Row) Lookup(name string) (any, bool) {
	v, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return v.Native(), true
}

func (r *Row) Len() int { return len(r.names) }

// Columns returns the column names in order. The slice must not be modified.
func (r *Row) Columns() []string { return r.names }

// Each calls fn for every column in order.
func (r *Row) Each(fn func(name string, v Value)) {
	for i, n := range r.names {
		fn(n, r.values[i])
	}
}

// Map returns the row as native Go values.
func (r *Row) Map() map[string]any {
	m := make(map[string]any, len(r.names))
	for i, n := range r.names {
		m[n] = r.values[i].Native()
	}
	return m
}

// MarshalJSON writes the row as an object with keys in column order.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		val, err := r.values[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
