// Package findiff computes backward finite-difference weights for the checker
// windows.
//
// The weights are applied to a window of equally spaced samples ordered oldest
// first. Results are expressed per sample; no time-step normalization is done.
package findiff

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidOrder indicates a negative derivative order or accuracy.
	ErrInvalidOrder = errors.New("derivative order and accuracy must be non-negative")

	// ErrInsufficientAccuracy indicates the window is too short for the order.
	ErrInsufficientAccuracy = errors.New("accuracy too low for derivative order")
)

// Coefficients returns acc+1 weights c such that sum(c[i]*y[i]) over a window
// of acc+1 samples approximates the der-th backward derivative at the newest
// sample.
//
// For der == 0 the weights are the uniform moving average 1/(acc+1).
// For der > 0 the window must hold at least der+1 samples (acc >= der).
func Coefficients(der, acc int) ([]float64, error) {
	if der < 0 || acc < 0 {
		return nil, fmt.Errorf("%w: der=%d acc=%d", ErrInvalidOrder, der, acc)
	}

	n := acc + 1
	if der == 0 {
		coef := make([]float64, n)
		for i := range coef {
			coef[i] = 1 / float64(n)
		}
		return coef, nil
	}

	if acc < der {
		return nil, fmt.Errorf("%w: der=%d needs acc>=%d, got %d", ErrInsufficientAccuracy, der, der, acc)
	}

	// Moment system over offsets -acc..0: sum(c_i * k_i^m) = m! when m == der.
	a := mat.NewDense(n, n, nil)
	for m := 0; m < n; m++ {
		for i := 0; i < n; i++ {
			a.Set(m, i, pow(float64(i-acc), m))
		}
	}
	b := mat.NewVecDense(n, nil)
	b.SetVec(der, factorial(der))

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("solve stencil der=%d acc=%d: %w", der, acc, err)
	}

	coef := make([]float64, n)
	for i := range coef {
		coef[i] = x.AtVec(i)
	}
	return coef, nil
}

// Apply returns the weighted sum of window and coef.
// NaN entries in window contribute zero.
func Apply(coef, window []float64) float64 {
	var sum float64
	for i, c := range coef {
		if i >= len(window) {
			break
		}
		y := window[i]
		if y != y { // NaN
			continue
		}
		sum += c * y
	}
	return sum
}

func pow(x float64, m int) float64 {
	r := 1.0
	for ; m > 0; m-- {
		r *= x
	}
	return r
}

func factorial(n int) float64 {
	r := 1.0
	for i := 2; i <= n; i++ {
		r *= float64(i)
	}
	return r
}
