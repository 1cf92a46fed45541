package ml

import (
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultEstimators = 100
	DefaultSeed       = 42
)

// ErrTooFewClasses is returned by Fit when the labels hold a single class.
var ErrTooFewClasses = errors.New("target column must contain at least two classes")

type ForestConfig struct {
	Estimators int
	Seed       int64
	MaxDepth   int
	// Progress is called after each tree is grown.
	Progress func(done, total int)
}

// RandomForest averages the class distributions of bootstrapped CART trees
// that consider sqrt(n_features) candidate features per split.
type RandomForest struct {
	Estimators  int             `json:"n_estimators"`
	Seed        int64           `json:"random_state"`
	MaxDepth    int             `json:"max_depth,omitempty"`
	Classes     []string        `json:"classes"`
	NumFeatures int             `json:"n_features"`
	Importances []float64       `json:"feature_importances"`
	Trees       []*DecisionTree `json:"trees"`
	// RunID ties the forest to the scaler and training run it was saved with.
	RunID string `json:"run_id,omitempty"`

	progress func(done, total int)
}

func NewRandomForest(config ForestConfig) *RandomForest {
	if config.Estimators <= 0 {
		config.Estimators = DefaultEstimators
	}
	return &RandomForest{
		Estimators: config.Estimators,
		Seed:       config.Seed,
		MaxDepth:   config.MaxDepth,
		progress:   config.Progress,
	}
}

func (f *RandomForest) Fit(features [][]float64, labels []string) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}

	classes := sortedClasses(labels)
	if len(classes) < 2 {
		return ErrTooFewClasses
	}
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	encoded := make([]int, len(labels))
	for i, label := range labels {
		encoded[i] = index[label]
	}

	numFeatures := len(features[0])
	maxFeatures := int(math.Sqrt(float64(numFeatures)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	master := rand.New(rand.NewSource(f.Seed))
	n := len(features)
	trees := make([]*DecisionTree, 0, f.Estimators)
	for t := 0; t < f.Estimators; t++ {
		rng := rand.New(rand.NewSource(master.Int63()))
		samples := make([]int, n)
		for i := range samples {
			samples[i] = rng.Intn(n)
		}
		tree := NewDecisionTree(TreeConfig{MaxDepth: f.MaxDepth, MaxFeatures: maxFeatures})
		if err := tree.fitSamples(features, encoded, len(classes), samples, rng); err != nil {
			return errors.Wrapf(err, "tree %d", t)
		}
		trees = append(trees, tree)
		if f.progress != nil {
			f.progress(t+1, f.Estimators)
		}
	}

	f.Classes = classes
	f.NumFeatures = numFeatures
	f.Trees = trees
	f.Importances = forestImportances(trees, numFeatures)
	return nil
}

func (f *RandomForest) Fitted() bool {
	return len(f.Trees) > 0 && len(f.Classes) > 0
}

func (f *RandomForest) ClassLabels() []string {
	return append([]string(nil), f.Classes...)
}

func (f *RandomForest) FeatureImportances() []float64 {
	return append([]float64(nil), f.Importances...)
}

// PredictProba returns one probability per class, ordered like Classes.
func (f *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if !f.Fitted() {
		return nil, errors.New("model not trained")
	}
	if len(features) != f.NumFeatures {
		return nil, errors.Errorf("expected %d features, got %d", f.NumFeatures, len(features))
	}
	proba := make([]float64, len(f.Classes))
	for i, tree := range f.Trees {
		value, err := tree.PredictProba(features)
		if err != nil {
			return nil, errors.Wrapf(err, "tree %d", i)
		}
		if len(value) != len(proba) {
			return nil, errors.Errorf("tree %d has %d classes, forest has %d", i, len(value), len(proba))
		}
		floats.Add(proba, value)
	}
	floats.Scale(1/float64(len(f.Trees)), proba)
	return proba, nil
}

func (f *RandomForest) Predict(features []float64) (string, error) {
	proba, err := f.PredictProba(features)
	if err != nil {
		return "", err
	}
	return f.Classes[argmax(proba)], nil
}

// Score returns the mean accuracy of Predict on the given rows.
func (f *RandomForest) Score(features [][]float64, labels []string) (float64, error) {
	if len(features) == 0 || len(features) != len(labels) {
		return 0, errors.New("features and labels size mismatch")
	}
	correct := 0
	for i, row := range features {
		label, err := f.Predict(row)
		if err != nil {
			return 0, err
		}
		if label == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(features)), nil
}

// forestImportances averages the per-tree importances of trees that split at
// least once and renormalizes the result.
func forestImportances(trees []*DecisionTree, numFeatures int) []float64 {
	total := make([]float64, numFeatures)
	used := 0
	for _, tree := range trees {
		if len(tree.Nodes) <= 1 {
			continue
		}
		floats.Add(total, tree.importances)
		used++
	}
	if used == 0 {
		return total
	}
	floats.Scale(1/float64(used), total)
	return normalize(total)
}

func normalize(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sum := floats.Sum(out)
	if sum > 0 {
		floats.Scale(1/sum, out)
	}
	return out
}

// sortedClasses orders distinct labels numerically when every label parses
// as a number, lexically otherwise.
func sortedClasses(labels []string) []string {
	seen := make(map[string]bool)
	classes := make([]string, 0)
	numeric := true
	for _, label := range labels {
		if seen[label] {
			continue
		}
		seen[label] = true
		classes = append(classes, label)
		if _, err := strconv.ParseFloat(label, 64); err != nil {
			numeric = false
		}
	}
	if numeric {
		sort.Slice(classes, func(i, j int) bool {
			a, _ := strconv.ParseFloat(classes[i], 64)
			b, _ := strconv.ParseFloat(classes[j], 64)
			if a == b {
				return classes[i] < classes[j]
			}
			return a < b
		})
	} else {
		sort.Strings(classes)
	}
	return classes
}
