package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardScalerFitTransform(t *testing.T) {
	x := [][]float64{
		{1, 10, 5},
		{2, 20, 5},
		{3, 30, 5},
		{4, 40, 5},
	}

	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform([]string{"a", "b", "constant"}, x)
	require.NoError(t, err)

	assert.Equal(t, []float64{2.5, 25, 5}, scaler.Mean)
	assert.InDelta(t, math.Sqrt(1.25), scaler.Scale[0], 1e-12)
	assert.Equal(t, 1.0, scaler.Scale[2], "zero variance keeps unit scale")
	assert.Equal(t, 4, scaler.Samples)

	for j := 0; j < 2; j++ {
		var sum, sq float64
		for i := range scaled {
			sum += scaled[i][j]
			sq += scaled[i][j] * scaled[i][j]
		}
		assert.InDelta(t, 0, sum/4, 1e-12)
		assert.InDelta(t, 1, sq/4, 1e-12)
	}
	for i := range scaled {
		assert.Equal(t, 0.0, scaled[i][2])
	}
}

func TestStandardScalerSingleRow(t *testing.T) {
	scaler := NewStandardScaler()
	require.NoError(t, scaler.Fit([]string{"a"}, [][]float64{{3}}))
	assert.Equal(t, []float64{1}, scaler.Scale)

	row, err := scaler.TransformRow([]float64{5})
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, row)
}

func TestStandardScalerErrors(t *testing.T) {
	scaler := NewStandardScaler()

	_, err := scaler.TransformRow([]float64{1})
	assert.Error(t, err, "unfitted scaler must fail")

	assert.Error(t, scaler.Fit([]string{"a"}, nil))
	assert.Error(t, scaler.Fit(nil, [][]float64{{1}}))
	assert.Error(t, scaler.Fit([]string{"a", "b"}, [][]float64{{1}}))

	require.NoError(t, scaler.Fit([]string{"a", "b"}, [][]float64{{1, 2}, {3, 4}}))
	_, err = scaler.Transform([][]float64{{1}})
	assert.Error(t, err)
}
