package checker

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Window is a fixed-length ring of samples, oldest first, seeded with NaN.
// NaN marks a slot without data.
type Window struct {
	buf  []float64
	head int
}

// NewWindow returns a window of size slots, all without data.
func NewWindow(size int) *Window {
	buf := make([]float64, size)
	for i := range buf {
		buf[i] = math.NaN()
	}
	return &Window{buf: buf}
}

// Push drops the oldest slot and appends v.
func (w *Window) Push(v float64) {
	if len(w.buf) == 0 {
		return
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
}

// Len returns the number of slots.
func (w *Window) Len() int {
	return len(w.buf)
}

// Values returns a copy of the slots, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, len(w.buf))
	out = append(out, w.buf[w.head:]...)
	return append(out, w.buf[:w.head]...)
}

// Newest returns the most recently pushed value.
func (w *Window) Newest() float64 {
	if len(w.buf) == 0 {
		return math.NaN()
	}
	return w.buf[(w.head+len(w.buf)-1)%len(w.buf)]
}

// Full reports whether every slot holds data.
func (w *Window) Full() bool {
	for _, v := range w.buf {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Mean returns the mean of the slots that hold data. ok is false when none do.
func (w *Window) Mean() (mean float64, ok bool) {
	data := make([]float64, 0, len(w.buf))
	for _, v := range w.buf {
		if !math.IsNaN(v) {
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return math.NaN(), false
	}
	return stat.Mean(data, nil), true
}
