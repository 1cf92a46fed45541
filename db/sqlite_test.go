package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "art01ml.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTrainingLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	logs, err := store.LoadTrainingLog(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTrainingLog(ctx, TrainingLog{
		RunID: "run-1", ModelName: "random_forest", DataPath: "data/a.csv", TargetCol: "outcome",
		Accuracy: 0.75, DataPoints: 4, FeatureCount: 2, TrainedAt: base,
	}))
	require.NoError(t, store.SaveTrainingLog(ctx, TrainingLog{
		RunID: "run-2", ModelName: "random_forest", DataPath: "data/b.sqlite", TargetCol: "outcome",
		Accuracy: 1, DataPoints: 10, FeatureCount: 3, TrainedAt: base.Add(time.Hour),
	}))

	logs, err = store.LoadTrainingLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "run-2", logs[0].RunID)
	assert.Equal(t, 3, logs[0].FeatureCount)
	assert.True(t, logs[1].TrainedAt.Equal(base))

	logs, err = store.LoadTrainingLog(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	assert.Error(t, store.SaveTrainingLog(ctx, TrainingLog{RunID: "run-1"}), "run ids are unique")
	assert.Error(t, store.SaveTrainingLog(ctx, TrainingLog{}))
}

func TestPredictions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePrediction(ctx, Prediction{
		RunID: "run-1", Features: map[string]float64{"f1": 0.5, "f2": 1.2}, Probability: 0.8,
	}))
	require.NoError(t, store.SavePrediction(ctx, Prediction{
		RunID: "run-2", Features: map[string]float64{"f1": 0.1}, Probability: 0.1,
	}))

	predictions, err := store.LoadPredictions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, predictions, 1)
	assert.Equal(t, map[string]float64{"f1": 0.5, "f2": 1.2}, predictions[0].Features)
	assert.Equal(t, 0.8, predictions[0].Probability)
	assert.False(t, predictions[0].CreatedAt.IsZero())
}

func TestNilStore(t *testing.T) {
	var store *Store
	assert.NoError(t, store.Close())
	_, err := store.LoadTrainingLog(context.Background(), 0)
	assert.Error(t, err)
	assert.Error(t, store.SavePrediction(context.Background(), Prediction{}))
}
