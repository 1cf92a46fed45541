package pipeline

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() *Dataset {
	return &Dataset{
		Columns: []string{"id", "f1", "f2", "outcome"},
		Rows: [][]string{
			{"1", "0.1", "1.0", "0"},
			{"2", "0.2", "1.1", "0"},
			{"3", "0.8", "1.4", "1"},
			{"4", "0.9", "1.6", "1"},
		},
	}
}

func TestNewDataCleaner(t *testing.T) {
	cleaner := NewDataCleaner()
	require.NotNil(t, cleaner)
	assert.NotEmpty(t, cleaner.rules, "default rules must be registered")
}

func TestSplit(t *testing.T) {
	set, err := Split(sampleDataset(), DefaultTargetColumn, IDColumn)
	require.NoError(t, err)

	assert.Equal(t, []string{"f1", "f2"}, set.Features)
	assert.Equal(t, []string{"0", "0", "1", "1"}, set.Y)
	require.Len(t, set.X, 4)
	assert.Equal(t, []float64{0.8, 1.4}, set.X[2])
}

func TestSplitRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ds *Dataset)
		target string
	}{
		{
			name:   "missing target",
			mutate: func(ds *Dataset) {},
			target: "success",
		},
		{
			name: "missing id",
			mutate: func(ds *Dataset) {
				ds.Columns[0] = "record"
			},
			target: DefaultTargetColumn,
		},
		{
			name: "no rows",
			mutate: func(ds *Dataset) {
				ds.Rows = nil
			},
			target: DefaultTargetColumn,
		},
		{
			name: "non numeric feature",
			mutate: func(ds *Dataset) {
				ds.Rows[1][1] = "high"
			},
			target: DefaultTargetColumn,
		},
		{
			name: "missing feature value",
			mutate: func(ds *Dataset) {
				ds.Rows[2][2] = " "
			},
			target: DefaultTargetColumn,
		},
		{
			name: "infinite feature value",
			mutate: func(ds *Dataset) {
				ds.Rows[0][2] = "Inf"
			},
			target: DefaultTargetColumn,
		},
		{
			name: "empty label",
			mutate: func(ds *Dataset) {
				ds.Rows[3][3] = ""
			},
			target: DefaultTargetColumn,
		},
		{
			name: "duplicate column",
			mutate: func(ds *Dataset) {
				ds.Columns[2] = "f1"
			},
			target: DefaultTargetColumn,
		},
		{
			name: "ragged row",
			mutate: func(ds *Dataset) {
				ds.Rows[0] = ds.Rows[0][:3]
			},
			target: DefaultTargetColumn,
		},
		{
			name: "only target and id",
			mutate: func(ds *Dataset) {
				ds.Columns = []string{"id", "outcome"}
				for i := range ds.Rows {
					ds.Rows[i] = []string{ds.Rows[i][0], ds.Rows[i][3]}
				}
			},
			target: DefaultTargetColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := sampleDataset()
			tt.mutate(ds)
			_, err := Split(ds, tt.target, IDColumn)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDataShape), "unexpected error: %v", err)
		})
	}
}

func TestSplitCustomTarget(t *testing.T) {
	ds := sampleDataset()
	ds.Columns[3] = "funded"
	set, err := Split(ds, "funded", IDColumn)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, set.Features)
}
