package findiff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoefficients_MovingAverage(t *testing.T) {
	coef, err := Coefficients(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, coef)

	coef, err = Coefficients(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, coef)
}

func TestCoefficients_Backward(t *testing.T) {
	tests := []struct {
		name string
		der  int
		acc  int
		want []float64
	}{
		{"first order two points", 1, 1, []float64{-1, 1}},
		{"first order three points", 1, 2, []float64{0.5, -2, 1.5}},
		{"second order three points", 2, 2, []float64{1, -2, 1}},
		{"second order four points", 2, 3, []float64{-1, 4, -5, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coef, err := Coefficients(tt.der, tt.acc)
			require.NoError(t, err)
			require.Len(t, coef, tt.acc+1)
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], coef[i], 1e-9, "coef[%d]", i)
			}
		})
	}
}

func TestCoefficients_DifferentiatesPolynomials(t *testing.T) {
	// y = 3k^2 + 2k + 1 sampled at k = -4..0; y'(0) = 2, y''(0) = 6.
	window := make([]float64, 5)
	for i := range window {
		k := float64(i - 4)
		window[i] = 3*k*k + 2*k + 1
	}

	d1, err := Coefficients(1, 4)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, Apply(d1, window), 1e-9)

	d2, err := Coefficients(2, 4)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, Apply(d2, window), 1e-9)
}

func TestCoefficients_Errors(t *testing.T) {
	_, err := Coefficients(1, 0)
	assert.ErrorIs(t, err, ErrInsufficientAccuracy)

	_, err = Coefficients(3, 2)
	assert.ErrorIs(t, err, ErrInsufficientAccuracy)

	_, err = Coefficients(-1, 2)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = Coefficients(0, -1)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestApply_SkipsMissingSamples(t *testing.T) {
	coef := []float64{0.25, 0.25, 0.25, 0.25}
	window := []float64{math.NaN(), math.NaN(), 4, 8}
	assert.Equal(t, 3.0, Apply(coef, window))
}
