package ml

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 2, 2}

	model := NewDecisionTree(TreeConfig{MaxDepth: 2})
	require.NoError(t, model.Fit(features, labels, 3, rand.New(rand.NewSource(1))))

	label, confidence, err := model.Predict([]float64{0.15, 0.15})
	require.NoError(t, err)
	assert.Equal(t, 0, label)
	assert.Equal(t, 1.0, confidence)

	label, _, err = model.Predict([]float64{0.85, 0.85})
	require.NoError(t, err)
	assert.Equal(t, 2, label)

	proba, err := model.PredictProba([]float64{0.85, 0.85})
	require.NoError(t, err)
	assert.Len(t, proba, 3)
	assert.InDelta(t, 1.0, proba[0]+proba[1]+proba[2], 1e-12)

	importances := model.FeatureImportances()
	require.Len(t, importances, 2)
	assert.InDelta(t, 1.0, importances[0]+importances[1], 1e-12)
}

func TestDecisionTreeNestedSubtrees(t *testing.T) {
	// XOR needs two levels, so child indices must point past the left subtree.
	features := [][]float64{
		{0, 0}, {0, 1}, {1, 0}, {1, 1},
		{0, 0}, {0, 1}, {1, 0}, {1, 1},
	}
	labels := []int{0, 1, 1, 0, 0, 1, 1, 0}

	model := NewDecisionTree(TreeConfig{})
	require.NoError(t, model.Fit(features, labels, 2, rand.New(rand.NewSource(7))))

	for i, row := range features {
		label, _, err := model.Predict(row)
		require.NoError(t, err)
		assert.Equal(t, labels[i], label, "row %v", row)
	}
}

func TestDecisionTreePureRootIsLeaf(t *testing.T) {
	model := NewDecisionTree(TreeConfig{})
	require.NoError(t, model.Fit([][]float64{{1}, {2}}, []int{1, 1}, 2, nil))

	require.Len(t, model.Nodes, 1)
	assert.True(t, model.Nodes[0].IsLeaf)
	assert.Equal(t, []float64{0, 1}, model.Nodes[0].Value)
	assert.Equal(t, []float64{0}, model.FeatureImportances())
}

func TestDecisionTreeErrors(t *testing.T) {
	model := NewDecisionTree(TreeConfig{})

	_, _, err := model.Predict([]float64{1})
	assert.Error(t, err, "untrained tree must not predict")

	assert.Error(t, model.Fit(nil, nil, 2, nil))
	assert.Error(t, model.Fit([][]float64{{1}}, []int{0, 1}, 2, nil))
	assert.Error(t, model.Fit([][]float64{{1}, {2, 3}}, []int{0, 1}, 2, nil))
	assert.Error(t, model.Fit([][]float64{{1}}, []int{5}, 2, nil))

	require.NoError(t, model.Fit([][]float64{{1}, {2}}, []int{0, 1}, 2, nil))
	_, err = model.PredictProba([]float64{1, 2})
	assert.Error(t, err)
}
