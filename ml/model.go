package ml

// Classifier is a fitted probabilistic classifier over scaled feature rows.
type Classifier interface {
	Fit(features [][]float64, labels []string) error
	PredictProba(features []float64) ([]float64, error)
	Score(features [][]float64, labels []string) (float64, error)
	FeatureImportances() []float64
	ClassLabels() []string
}

// Scaler learns per-feature statistics once and reapplies them at inference.
type Scaler interface {
	Fit(features []string, x [][]float64) error
	Transform(x [][]float64) ([][]float64, error)
	TransformRow(row []float64) ([]float64, error)
}

var (
	_ Classifier = (*RandomForest)(nil)
	_ Scaler     = (*StandardScaler)(nil)
)
