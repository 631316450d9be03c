// Package gateway is the plant data source: it fetches time-indexed process
// values from the control gateway and exposes the gateway's tag schema as a
// typed lookup table.
package gateway

import (
	"math"
	"sort"
	"time"
)

// Frame is a time-indexed table of process values, oldest row first.
// Missing values are NaN.
type Frame struct {
	Timestamps []time.Time
	Values     map[string][]float64
	Units      map[string]string
}

// Len returns the number of rows.
func (f Frame) Len() int {
	if len(f.Timestamps) > 0 {
		return len(f.Timestamps)
	}
	n := 0
	for _, col := range f.Values {
		if len(col) > n {
			n = len(col)
		}
	}
	return n
}

// Empty reports whether the frame has no rows.
func (f Frame) Empty() bool {
	return f.Len() == 0
}

// Row returns row i. It panics if i is out of range.
func (f Frame) Row(i int) Row {
	if i < 0 || i >= f.Len() {
		panic("gateway: row index out of range")
	}
	return Row{frame: f, index: i}
}

// Tail returns a frame holding at most the last n rows.
func (f Frame) Tail(n int) Frame {
	total := f.Len()
	if n >= total {
		return f
	}
	if n < 0 {
		n = 0
	}
	start := total - n
	out := Frame{
		Values: make(map[string][]float64, len(f.Values)),
		Units:  f.Units,
	}
	if len(f.Timestamps) > 0 {
		out.Timestamps = f.Timestamps[start:]
	}
	for tag, col := range f.Values {
		out.Values[tag] = tailAligned(col, n)
	}
	return out
}

// Column returns the values of tag, or nil if the frame does not carry it.
func (f Frame) Column(tag string) []float64 {
	return f.Values[tag]
}

// Tags returns the sorted tag names in the frame.
func (f Frame) Tags() []string {
	tags := make([]string, 0, len(f.Values))
	for tag := range f.Values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Newest returns the timestamp of the last row, or the zero time.
func (f Frame) Newest() time.Time {
	if len(f.Timestamps) == 0 {
		return time.Time{}
	}
	return f.Timestamps[len(f.Timestamps)-1]
}

// Latest returns the newest non-NaN value of tag.
func (f Frame) Latest(tag string) (float64, bool) {
	col := f.Values[tag]
	for i := len(col) - 1; i >= 0; i-- {
		if !math.IsNaN(col[i]) {
			return col[i], true
		}
	}
	return math.NaN(), false
}

// Row is one sample of every tag in a Frame.
type Row struct {
	frame Frame
	index int
}

// Value returns the value of tag in this row, NaN when absent.
func (r Row) Value(tag string) float64 {
	col, ok := r.frame.Values[tag]
	if !ok {
		return math.NaN()
	}
	// Columns shorter than the frame are aligned to the newest row.
	offset := r.frame.Len() - len(col)
	i := r.index - offset
	if i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// At returns the row timestamp, or the zero time for untimed frames.
func (r Row) At() time.Time {
	if r.index < len(r.frame.Timestamps) {
		return r.frame.Timestamps[r.index]
	}
	return time.Time{}
}

// Map returns every tag value in the row.
func (r Row) Map() map[string]float64 {
	m := make(map[string]float64, len(r.frame.Values))
	for tag := range r.frame.Values {
		m[tag] = r.Value(tag)
	}
	return m
}

// tailAligned keeps the newest n values; columns are aligned to the last row.
func tailAligned(col []float64, n int) []float64 {
	if len(col) <= n {
		return col
	}
	return col[len(col)-n:]
}
