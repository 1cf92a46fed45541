package ml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fittedPair(t *testing.T) (*StandardScaler, *RandomForest) {
	t.Helper()
	features, labels := separated(10)
	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform([]string{"f1", "f2"}, features)
	require.NoError(t, err)
	forest := NewRandomForest(ForestConfig{Estimators: 10, Seed: DefaultSeed})
	require.NoError(t, forest.Fit(scaled, labels))
	return scaler, forest
}

func TestArtifactStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	store, err := NewArtifactStore(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ModelFile), store.ModelPath())

	scaler, forest := fittedPair(t)
	require.NoError(t, store.Save(scaler, forest))

	_, err = os.Stat(store.ModelPath())
	require.NoError(t, err)
	_, err = os.Stat(store.ScalerPath())
	require.NoError(t, err)

	reopened, err := NewArtifactStore(dir)
	require.NoError(t, err)
	loadedScaler, loadedForest, err := reopened.Load()
	require.NoError(t, err)

	assert.Equal(t, scaler.Features, loadedScaler.Features)
	assert.Equal(t, forest.Classes, loadedForest.Classes)
	assert.Equal(t, forest.Importances, loadedForest.Importances)

	row := []float64{0.4, 0.6}
	want, err := scaler.TransformRow(row)
	require.NoError(t, err)
	got, err := loadedScaler.TransformRow(row)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	expected, err := forest.PredictProba(want)
	require.NoError(t, err)
	actual, err := loadedForest.PredictProba(got)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestArtifactStoreLoadEmpty(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	_, _, err = store.Load()
	assert.True(t, errors.Is(err, ErrNoArtifacts))
}

func TestArtifactStoreLoadErrors(t *testing.T) {
	scaler, forest := fittedPair(t)

	t.Run("lone scaler", func(t *testing.T) {
		store, err := NewArtifactStore(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, store.write(ScalerFile, scaler))
		_, _, err = store.Load()
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNoArtifacts))
	})

	t.Run("corrupted model", func(t *testing.T) {
		store, err := NewArtifactStore(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, store.Save(scaler, forest))
		require.NoError(t, os.WriteFile(store.ModelPath(), []byte("{not json"), 0o644))
		_, _, err = store.Load()
		assert.Error(t, err)
	})

	t.Run("mismatched pair", func(t *testing.T) {
		store, err := NewArtifactStore(t.TempDir())
		require.NoError(t, err)
		wide := NewStandardScaler()
		require.NoError(t, wide.Fit([]string{"a", "b", "c"}, [][]float64{{1, 2, 3}}))
		require.NoError(t, store.Save(wide, forest))
		_, _, err = store.Load()
		assert.Error(t, err)
	})
}

func TestArtifactStoreRunID(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	scaler, forest := fittedPair(t)
	scaler.RunID, forest.RunID = "run-1", "run-1"
	require.NoError(t, store.Save(scaler, forest))

	loadedScaler, loadedForest, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "run-1", loadedScaler.RunID)
	assert.Equal(t, "run-1", loadedForest.RunID)

	forest.RunID = "run-2"
	assert.Error(t, store.Save(scaler, forest))

	// a new model next to the previous run's scaler
	require.NoError(t, store.write(ModelFile, forest))
	_, _, err = store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-2")
}

func TestArtifactStoreSaveRequiresFittedPair(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	scaler, forest := fittedPair(t)

	assert.Error(t, store.Save(NewStandardScaler(), forest))
	assert.Error(t, store.Save(scaler, NewRandomForest(ForestConfig{})))
	assert.Error(t, store.Save(nil, nil))
}

func TestArtifactStoreIsArtifact(t *testing.T) {
	dir := t.TempDir()
	store, err := NewArtifactStore(dir)
	require.NoError(t, err)

	assert.True(t, store.IsArtifact(filepath.Join(dir, ModelFile)))
	assert.True(t, store.IsArtifact(filepath.Join(dir, ScalerFile)))
	assert.False(t, store.IsArtifact(filepath.Join(dir, "notes.txt")))
	assert.False(t, store.IsArtifact(filepath.Join(dir, tempDirName, ModelFile)))
}
