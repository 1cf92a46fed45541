package service

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"art01ml/db"
	"art01ml/ml"
	"art01ml/monitoring"
	"art01ml/pipeline"
)

// ModelName 训练记录中的模型名称
const ModelName = "random_forest"

// positiveClass 排序后类别中的正类下标
const positiveClass = 1

// Config 模型服务配置
type Config struct {
	Estimators int
	Seed       int64
	CacheSize  int
	Loader     pipeline.LoaderConfig
	// Progress 每棵树训练完成后回调
	Progress func(done, total int)
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Estimators: ml.DefaultEstimators,
		Seed:       ml.DefaultSeed,
		CacheSize:  1024,
		Loader:     pipeline.LoaderConfig{Delimiter: ",", Encoding: "utf-8"},
	}
}

// History 训练与评分记录
type History interface {
	SaveTrainingLog(ctx context.Context, entry db.TrainingLog) error
	SavePrediction(ctx context.Context, prediction db.Prediction) error
}

// EventPublisher 模型事件广播
type EventPublisher interface {
	Publish(eventType monitoring.EventType, payload interface{})
}

// Metrics 计数与耗时指标
type Metrics interface {
	Inc(name string)
	Observe(name string, d time.Duration)
}

// Dependencies 可选协作者，nil表示不启用
type Dependencies struct {
	Logger  *zap.Logger
	History History
	Events  EventPublisher
	Metrics Metrics
}

// TrainRequest 训练请求
type TrainRequest struct {
	DataPath   string
	TargetCol  string
	SourceKind pipeline.SourceKind
}

// TrainResult 训练结果，准确率在训练集上计算
type TrainResult struct {
	FeatureImportances map[string]float64 `json:"feature_importances"`
	Accuracy           float64            `json:"accuracy"`
	RunID              string             `json:"-"`
	DataPoints         int                `json:"-"`
}

// ExplainResult 各类别的原始概率及训练特征顺序
type ExplainResult struct {
	Predictions []float64 `json:"predictions"`
	Features    []string  `json:"features"`
}

// Status 当前模型状态
type Status struct {
	Trained    bool       `json:"trained"`
	Generation uint64     `json:"generation"`
	ModelID    string     `json:"model_id,omitempty"`
	Features   []string   `json:"features"`
	Classes    []string   `json:"classes"`
	TrainedAt  *time.Time `json:"trained_at,omitempty"`
}

// modelState is never modified after it is published.
type modelState struct {
	scaler     *ml.StandardScaler
	forest     *ml.RandomForest
	features   []string
	modelID    string
	generation uint64
	trainedAt  time.Time
}

func (st *modelState) predictProba(row []float64) ([]float64, error) {
	scaled, err := st.scaler.TransformRow(row)
	if err != nil {
		return nil, err
	}
	return st.forest.PredictProba(scaled)
}

// ModelService 持有当前模型快照，训练时整体替换
type ModelService struct {
	config Config
	store  *ml.ArtifactStore
	log    *zap.Logger

	history History
	events  EventPublisher
	metrics Metrics

	mu         sync.RWMutex
	state      *modelState
	generation uint64

	// trainMu serializes Train and Reload so the artifact pair is written by one run.
	trainMu sync.Mutex

	cache *lru.Cache[string, float64]
}

// NewModelService 创建模型服务，初始为未训练状态
func NewModelService(config Config, store *ml.ArtifactStore, deps Dependencies) (*ModelService, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if config.Estimators <= 0 {
		config.Estimators = ml.DefaultEstimators
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &ModelService{
		config:  config,
		store:   store,
		log:     deps.Logger,
		history: deps.History,
		events:  deps.Events,
		metrics: deps.Metrics,
	}
	if config.CacheSize > 0 {
		cache, err := lru.New[string, float64](config.CacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "create score cache")
		}
		s.cache = cache
	}
	return s, nil
}

func (s *ModelService) current() *modelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// swap publishes next as the current state and returns its generation.
func (s *ModelService) swap(next *modelState) uint64 {
	s.mu.Lock()
	s.generation++
	next.generation = s.generation
	s.state = next
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Purge()
	}
	return next.generation
}

func (s *ModelService) inc(name string) {
	if s.metrics != nil {
		s.metrics.Inc(name)
	}
}

func (s *ModelService) publish(eventType monitoring.EventType, payload interface{}) {
	if s.events != nil {
		s.events.Publish(eventType, payload)
	}
}

// Train 加载数据、拟合标准化器与随机森林、持久化并替换当前模型
func (s *ModelService) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	start := time.Now()
	result, state, err := s.fit(ctx, req)
	if err != nil {
		s.inc("train_failures")
		s.log.Warn("training failed", zap.String("data_path", req.DataPath), zap.Error(err))
		return nil, err
	}

	if err := s.store.Save(state.scaler, state.forest); err != nil {
		s.inc("train_failures")
		return nil, withKind(ErrTraining, errors.Wrap(err, "persist model"))
	}

	generation := s.swap(state)
	s.inc("train_total")
	if s.metrics != nil {
		s.metrics.Observe("train", time.Since(start))
	}

	targetCol := req.TargetCol
	if targetCol == "" {
		targetCol = pipeline.DefaultTargetColumn
	}
	s.log.Info("model trained",
		zap.String("run_id", state.modelID),
		zap.String("data_path", req.DataPath),
		zap.Int("data_points", result.DataPoints),
		zap.Int("features", len(state.features)),
		zap.Float64("accuracy", result.Accuracy),
		zap.Uint64("generation", generation),
		zap.Duration("duration", time.Since(start)),
	)

	if s.history != nil {
		entry := db.TrainingLog{
			RunID:        state.modelID,
			ModelName:    ModelName,
			DataPath:     req.DataPath,
			TargetCol:    targetCol,
			Accuracy:     result.Accuracy,
			DataPoints:   result.DataPoints,
			FeatureCount: len(state.features),
			TrainedAt:    state.trainedAt,
		}
		if err := s.history.SaveTrainingLog(ctx, entry); err != nil {
			s.log.Warn("save training log", zap.String("run_id", state.modelID), zap.Error(err))
		}
	}

	s.publish(monitoring.EventModelTrained, map[string]interface{}{
		"run_id":              state.modelID,
		"generation":          generation,
		"accuracy":            result.Accuracy,
		"feature_importances": result.FeatureImportances,
	})
	return result, nil
}

func (s *ModelService) fit(ctx context.Context, req TrainRequest) (*TrainResult, *modelState, error) {
	if req.DataPath == "" {
		return nil, nil, errors.Wrap(ErrUnsupportedFormat, "data path is required")
	}
	targetCol := req.TargetCol
	if targetCol == "" {
		targetCol = pipeline.DefaultTargetColumn
	}

	kind := req.SourceKind
	if kind == "" {
		detected, err := pipeline.DetectSourceKind(req.DataPath)
		if err != nil {
			return nil, nil, err
		}
		kind = detected
	}
	loader, err := pipeline.NewLoader(kind, s.config.Loader)
	if err != nil {
		return nil, nil, withKind(ErrTraining, err)
	}

	ds, err := loader.Load(ctx, req.DataPath)
	if err != nil {
		return nil, nil, withKind(ErrTraining, errors.Wrapf(err, "load %s", req.DataPath))
	}
	set, err := pipeline.Split(ds, targetCol, pipeline.IDColumn)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, withKind(ErrTraining, err)
	}

	scaler := ml.NewStandardScaler()
	scaled, err := scaler.FitTransform(set.Features, set.X)
	if err != nil {
		return nil, nil, withKind(ErrTraining, errors.Wrap(err, "fit scaler"))
	}

	forest := ml.NewRandomForest(ml.ForestConfig{
		Estimators: s.config.Estimators,
		Seed:       s.config.Seed,
		Progress:   s.config.Progress,
	})
	if err := forest.Fit(scaled, set.Y); err != nil {
		if errors.Is(err, ml.ErrTooFewClasses) {
			return nil, nil, errors.Wrap(ErrDataShape, err.Error())
		}
		return nil, nil, withKind(ErrTraining, errors.Wrap(err, "fit classifier"))
	}

	accuracy, err := forest.Score(scaled, set.Y)
	if err != nil {
		return nil, nil, withKind(ErrTraining, errors.Wrap(err, "score training data"))
	}

	importances := forest.FeatureImportances()
	byName := make(map[string]float64, len(set.Features))
	for i, name := range set.Features {
		byName[name] = importances[i]
	}

	runID := uuid.NewString()
	scaler.RunID, forest.RunID = runID, runID
	state := &modelState{
		scaler:    scaler,
		forest:    forest,
		features:  append([]string(nil), set.Features...),
		modelID:   runID,
		trainedAt: time.Now().UTC(),
	}
	result := &TrainResult{
		FeatureImportances: byName,
		Accuracy:           accuracy,
		RunID:              state.modelID,
		DataPoints:         len(set.Y),
	}
	return result, state, nil
}

// Score 返回正类概率
func (s *ModelService) Score(ctx context.Context, fv FeatureVector) (float64, error) {
	state := s.current()
	if state == nil {
		return 0, errors.WithStack(ErrModelNotTrained)
	}
	row, err := fv.Vector(state.features)
	if err != nil {
		return 0, err
	}

	key := cacheKey(state.generation, row)
	probability, hit := 0.0, false
	if s.cache != nil {
		probability, hit = s.cache.Get(key)
	}
	if hit {
		s.inc("score_cache_hits")
	} else {
		proba, err := state.predictProba(row)
		if err != nil {
			return 0, withKind(ErrPrediction, err)
		}
		if len(proba) <= positiveClass {
			return 0, withKind(ErrPrediction, errors.Errorf("model has %d classes", len(proba)))
		}
		probability = proba[positiveClass]
		if s.cache != nil {
			s.cache.Add(key, probability)
		}
	}
	s.inc("score_total")

	if s.history != nil {
		prediction := db.Prediction{RunID: state.modelID, Features: fv.clone(), Probability: probability}
		if err := s.history.SavePrediction(ctx, prediction); err != nil {
			s.log.Warn("save prediction", zap.String("run_id", state.modelID), zap.Error(err))
		}
	}
	return probability, nil
}

// Explain 返回全部类别概率及训练特征顺序（非特征归因）
func (s *ModelService) Explain(ctx context.Context, fv FeatureVector) (*ExplainResult, error) {
	state := s.current()
	if state == nil {
		return nil, errors.WithStack(ErrModelNotTrained)
	}
	row, err := fv.Vector(state.features)
	if err != nil {
		return nil, err
	}
	proba, err := state.predictProba(row)
	if err != nil {
		return nil, withKind(ErrPrediction, err)
	}
	s.inc("explain_total")
	return &ExplainResult{
		Predictions: proba,
		Features:    append([]string(nil), state.features...),
	}, nil
}

// Reload 从制品目录加载模型；两个文件都不存在或与当前模型同一次训练时不替换且不报错
func (s *ModelService) Reload(ctx context.Context) (bool, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	scaler, forest, err := s.store.Load()
	if errors.Is(err, ml.ErrNoArtifacts) {
		s.log.Info("no model artifacts found", zap.String("dir", s.store.Dir()))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	modelID := forest.RunID
	if modelID == "" {
		modelID = uuid.NewString()
	} else if current := s.current(); current != nil && current.modelID == modelID {
		s.log.Debug("artifacts unchanged", zap.String("run_id", modelID))
		return false, nil
	}

	trainedAt := time.Now().UTC()
	if info, err := os.Stat(s.store.ModelPath()); err == nil {
		trainedAt = info.ModTime().UTC()
	}
	state := &modelState{
		scaler:    scaler,
		forest:    forest,
		features:  append([]string(nil), scaler.Features...),
		modelID:   modelID,
		trainedAt: trainedAt,
	}
	generation := s.swap(state)
	s.inc("reload_total")

	s.log.Info("model loaded",
		zap.String("run_id", modelID),
		zap.String("model_path", s.store.ModelPath()),
		zap.Int("features", len(state.features)),
		zap.Uint64("generation", generation),
	)
	s.publish(monitoring.EventModelLoaded, map[string]interface{}{
		"model_id":   state.modelID,
		"generation": generation,
		"features":   state.features,
	})
	return true, nil
}

// ModelPath 返回模型制品路径，不修改状态
func (s *ModelService) ModelPath() string {
	return s.store.ModelPath()
}

// Status 当前模型状态
func (s *ModelService) Status() Status {
	state := s.current()
	if state == nil {
		return Status{Features: []string{}, Classes: []string{}}
	}
	trainedAt := state.trainedAt
	return Status{
		Trained:    true,
		Generation: state.generation,
		ModelID:    state.modelID,
		Features:   append([]string(nil), state.features...),
		Classes:    append([]string(nil), state.forest.ClassLabels()...),
		TrainedAt:  &trainedAt,
	}
}
