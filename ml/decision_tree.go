package ml

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

type DecisionTree struct {
	Nodes       []TreeNode `json:"nodes"`
	NumClasses  int        `json:"n_classes"`
	NumFeatures int        `json:"n_features"`

	config      TreeConfig
	importances []float64
}

// TreeNode is one node of the flattened tree. Leaves carry the class
// distribution of the training samples that reached them.
type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	Value      []float64 `json:"value,omitempty"`
	IsLeaf     bool      `json:"is_leaf"`
}

type TreeConfig struct {
	// MaxDepth of 0 grows until leaves are pure.
	MaxDepth        int
	MinSamplesSplit int
	// MaxFeatures candidate features per split, 0 means all.
	MaxFeatures int
}

func NewDecisionTree(config TreeConfig) *DecisionTree {
	if config.MinSamplesSplit < 2 {
		config.MinSamplesSplit = 2
	}
	return &DecisionTree{config: config}
}

// Fit grows the tree on every row of x. Labels are class indices in [0, numClasses).
func (dt *DecisionTree) Fit(features [][]float64, labels []int, numClasses int, rng *rand.Rand) error {
	samples := make([]int, len(features))
	for i := range samples {
		samples[i] = i
	}
	return dt.fitSamples(features, labels, numClasses, samples, rng)
}

// fitSamples grows the tree on the rows selected by samples; an index may repeat.
func (dt *DecisionTree) fitSamples(features [][]float64, labels []int, numClasses int, samples []int, rng *rand.Rand) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if len(samples) == 0 {
		return errors.New("no samples selected")
	}
	if numClasses <= 0 {
		return errors.New("numClasses must be positive")
	}
	numFeatures := len(features[0])
	if numFeatures == 0 {
		return errors.New("features have no columns")
	}
	for i, row := range features {
		if len(row) != numFeatures {
			return errors.Errorf("row %d has %d features, expected %d", i, len(row), numFeatures)
		}
	}
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return errors.Errorf("label %d at row %d out of range", label, i)
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}

	maxFeatures := dt.config.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > numFeatures {
		maxFeatures = numFeatures
	}
	minSplit := dt.config.MinSamplesSplit
	if minSplit < 2 {
		minSplit = 2
	}

	b := &treeBuilder{
		features:    features,
		labels:      labels,
		numClasses:  numClasses,
		numFeatures: numFeatures,
		maxFeatures: maxFeatures,
		maxDepth:    dt.config.MaxDepth,
		minSplit:    minSplit,
		rng:         rng,
		importance:  make([]float64, numFeatures),
	}
	b.build(samples, 0)

	dt.Nodes = b.nodes
	dt.NumClasses = numClasses
	dt.NumFeatures = numFeatures
	dt.importances = normalize(b.importance)
	return nil
}

// FeatureImportances returns the normalized impurity decrease per feature
// recorded during the last Fit. All zeros when the root is a leaf.
func (dt *DecisionTree) FeatureImportances() []float64 {
	return append([]float64(nil), dt.importances...)
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if len(dt.Nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	if dt.NumFeatures > 0 && len(features) != dt.NumFeatures {
		return nil, errors.Errorf("expected %d features, got %d", dt.NumFeatures, len(features))
	}
	idx := 0
	for steps := 0; steps <= len(dt.Nodes); steps++ {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			if len(node.Value) != dt.NumClasses {
				return nil, errors.New("invalid tree state")
			}
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
	return nil, errors.New("invalid tree state")
}

// Predict returns the most probable class index and its probability.
func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

type treeBuilder struct {
	features    [][]float64
	labels      []int
	numClasses  int
	numFeatures int
	maxFeatures int
	maxDepth    int
	minSplit    int
	rng         *rand.Rand

	nodes      []TreeNode
	importance []float64
}

type candidateSplit struct {
	feature   int
	threshold float64
	// weighted child impurity: n_left*gini(left) + n_right*gini(right)
	impurity float64
}

func (b *treeBuilder) build(samples []int, depth int) int {
	counts := b.classCounts(samples)
	n := float64(len(samples))
	impurity := gini(counts, n)

	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{FeatureIdx: -1, LeftChild: -1, RightChild: -1})

	if impurity == 0 || len(samples) < b.minSplit || (b.maxDepth > 0 && depth >= b.maxDepth) {
		b.makeLeaf(idx, counts, n)
		return idx
	}

	best, ok := b.bestSplit(samples, counts)
	if !ok {
		b.makeLeaf(idx, counts, n)
		return idx
	}

	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, s := range samples {
		if b.features[s][best.feature] <= best.threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		b.makeLeaf(idx, counts, n)
		return idx
	}

	b.importance[best.feature] += n*impurity - best.impurity
	b.nodes[idx].FeatureIdx = best.feature
	b.nodes[idx].Threshold = best.threshold

	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)
	b.nodes[idx].LeftChild = leftIdx
	b.nodes[idx].RightChild = rightIdx
	return idx
}

func (b *treeBuilder) makeLeaf(idx int, counts []float64, n float64) {
	value := make([]float64, len(counts))
	for i, c := range counts {
		value[i] = c / n
	}
	b.nodes[idx].IsLeaf = true
	b.nodes[idx].Value = value
}

// bestSplit draws candidate features in random order. Once maxFeatures have
// been inspected it stops at the first point where a valid split is known.
func (b *treeBuilder) bestSplit(samples []int, counts []float64) (candidateSplit, bool) {
	best := candidateSplit{impurity: math.Inf(1)}
	found := false
	sorted := make([]int, len(samples))
	left := make([]float64, b.numClasses)
	right := make([]float64, b.numClasses)

	for visited, feature := range b.rng.Perm(b.numFeatures) {
		if visited >= b.maxFeatures && found {
			break
		}
		copy(sorted, samples)
		f := feature
		sort.Slice(sorted, func(i, j int) bool {
			return b.features[sorted[i]][f] < b.features[sorted[j]][f]
		})
		for i := range left {
			left[i] = 0
		}
		copy(right, counts)

		total := len(sorted)
		for i := 0; i < total-1; i++ {
			label := b.labels[sorted[i]]
			left[label]++
			right[label]--

			current := b.features[sorted[i]][f]
			next := b.features[sorted[i+1]][f]
			if next <= current {
				continue
			}
			nl := float64(i + 1)
			nr := float64(total - i - 1)
			impurity := nl*gini(left, nl) + nr*gini(right, nr)
			if impurity < best.impurity {
				threshold := current/2 + next/2
				if threshold == next || math.IsInf(threshold, 0) {
					threshold = current
				}
				best = candidateSplit{feature: f, threshold: threshold, impurity: impurity}
				found = true
			}
		}
	}
	return best, found
}

func (b *treeBuilder) classCounts(samples []int) []float64 {
	counts := make([]float64, b.numClasses)
	for _, s := range samples {
		counts[b.labels[s]]++
	}
	return counts
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / n
		impurity -= p * p
	}
	if impurity < 0 {
		return 0
	}
	return impurity
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
