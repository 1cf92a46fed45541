package ml

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler removes the per-feature mean and divides by the population
// standard deviation learned in Fit. Zero-variance features keep a scale of 1.
type StandardScaler struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
	Samples  int       `json:"n_samples"`
	RunID    string    `json:"run_id,omitempty"`
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

func (s *StandardScaler) Fit(features []string, x [][]float64) error {
	if len(x) == 0 {
		return errors.New("features is empty")
	}
	if len(features) == 0 {
		return errors.New("feature names are empty")
	}
	for i, row := range x {
		if len(row) != len(features) {
			return errors.Errorf("row %d has %d values, expected %d", i, len(row), len(features))
		}
	}

	n := len(x)
	mean := make([]float64, len(features))
	scale := make([]float64, len(features))
	column := make([]float64, n)
	for j := range features {
		for i := range x {
			column[i] = x[i][j]
		}
		m, variance := stat.MeanVariance(column, nil)
		if n > 1 {
			variance *= float64(n-1) / float64(n)
		} else {
			variance = 0
		}
		mean[j] = m
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		scale[j] = std
	}

	s.Features = append([]string(nil), features...)
	s.Mean = mean
	s.Scale = scale
	s.Samples = n
	return nil
}

func (s *StandardScaler) Fitted() bool {
	return len(s.Mean) > 0 && len(s.Mean) == len(s.Scale) && len(s.Mean) == len(s.Features)
}

func (s *StandardScaler) TransformRow(row []float64) ([]float64, error) {
	if !s.Fitted() {
		return nil, errors.New("scaler not fitted")
	}
	if len(row) != len(s.Mean) {
		return nil, errors.Errorf("expected %d features, got %d", len(s.Mean), len(row))
	}
	out := make([]float64, len(row))
	for j, value := range row {
		out[j] = (value - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled, err := s.TransformRow(row)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		out[i] = scaled
	}
	return out, nil
}

func (s *StandardScaler) FitTransform(features []string, x [][]float64) ([][]float64, error) {
	if err := s.Fit(features, x); err != nil {
		return nil, err
	}
	return s.Transform(x)
}
