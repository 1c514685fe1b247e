package feature

import (
	"bytes"
	"encoding/json"
)

// ConfidencesColumn is the reserved column holding the flattened frame-major
// per-category scores.
const ConfidencesColumn = "confidences"

// Column is one named sequence of values, one per frame (or numFrames*categoryNum
// for the confidences column).
type Column struct {
	Name   string
	Kind   Kind
	Values []Value
}

// ColumnSet is an insertion-ordered mapping from feature name to its values.
type ColumnSet struct {
	columns []Column
	index   map[string]int
}

// NewColumnSet returns an empty set.
func NewColumnSet() *ColumnSet {
	return &ColumnSet{index: make(map[string]int)}
}

// Put appends a column, or replaces it in place if the name already exists.
func (cs *ColumnSet) Put(name string, kind Kind, values []Value) {
	if i, ok := cs.index[name]; ok {
		cs.columns[i] = Column{Name: name, Kind: kind, Values: values}
		return
	}
	cs.index[name] = len(cs.columns)
	cs.columns = append(cs.columns, Column{Name: name, Kind: kind, Values: values})
}

// Get returns the values stored under name.
func (cs *ColumnSet) Get(name string) ([]Value, bool) {
	i, ok := cs.index[name]
	if !ok {
		return nil, false
	}
	return cs.columns[i].Values, true
}

// Column returns the full column stored under name.
func (cs *ColumnSet) Column(name string) (Column, bool) {
	i, ok := cs.index[name]
	if !ok {
		return Column{}, false
	}
	return cs.columns[i], true
}

// Has reports whether the set contains name.
func (cs *ColumnSet) Has(name string) bool {
	_, ok := cs.index[name]
	return ok
}

// Names lists column names in insertion order.
func (cs *ColumnSet) Names() []string {
	names := make([]string, len(cs.columns))
	for i, c := range cs.columns {
		names[i] = c.Name
	}
	return names
}

// Len is the number of columns, including confidences when present.
func (cs *ColumnSet) Len() int { return len(cs.columns) }

// Frames returns the frame count implied by the first per-frame column.
// The confidences column is not a per-frame column and is skipped.
func (cs *ColumnSet) Frames() int {
	for _, c := range cs.columns {
		if c.Name != ConfidencesColumn {
			return len(c.Values)
		}
	}
	return 0
}

// Confidences returns the flattened confidence scores, or nil.
func (cs *ColumnSet) Confidences() []Value {
	v, _ := cs.Get(ConfidencesColumn)
	return v
}

// MarshalJSON encodes the set as a JSON object whose keys keep insertion order.
func (cs *ColumnSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range cs.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		values := c.Values
		if values == nil {
			values = []Value{}
		}
		data, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
