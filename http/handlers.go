package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"art01ml/db"
	"art01ml/monitoring"
	"art01ml/pipeline"
	"art01ml/service"
)

// defaultLogLimit GET /training-log 默认返回条数
const defaultLogLimit = 50

// ModelService 模型服务
type ModelService interface {
	Train(ctx context.Context, req service.TrainRequest) (*service.TrainResult, error)
	Score(ctx context.Context, fv service.FeatureVector) (float64, error)
	Explain(ctx context.Context, fv service.FeatureVector) (*service.ExplainResult, error)
	ModelPath() string
	Status() service.Status
}

// TrainingHistory 训练记录查询
type TrainingHistory interface {
	LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingLog, error)
}

// MetricsSource 指标快照
type MetricsSource interface {
	Snapshot() monitoring.MetricsSnapshot
}

// Handler 模型服务的HTTP处理器
type Handler struct {
	service ModelService
	history TrainingHistory
	metrics MetricsSource
	events  http.Handler
	log     *zap.Logger
}

// NewHandler 创建处理器；history、metrics、events可为nil
func NewHandler(svc ModelService, history TrainingHistory, metrics MetricsSource, events http.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: svc,
		history: history,
		metrics: metrics,
		events:  events,
		log:     logger,
	}
}

// RegisterHandlers 注册所有路由
func (h *Handler) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /train", h.handleTrain)
	mux.HandleFunc("POST /score", h.handleScore)
	mux.HandleFunc("POST /explain", h.handleExplain)
	mux.HandleFunc("POST /export-model", h.handleExportModel)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /training-log", h.handleTrainingLog)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	if h.events != nil {
		mux.Handle("GET /ws/events", h.events)
	}
}

// Routes 返回注册好路由的ServeMux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterHandlers(mux)
	return mux
}

type trainRequest struct {
	DataPath   *string `json:"data_path"`
	TargetCol  *string `json:"target_col"`
	SourceKind string  `json:"source_kind"`
}

type featuresRequest struct {
	Features map[string]*float64 `json:"features"`
}

func (h *Handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	var body trainRequest
	if !h.decode(w, r, &body) {
		return
	}
	if body.DataPath == nil || strings.TrimSpace(*body.DataPath) == "" {
		writeDetail(w, http.StatusBadRequest, "data_path is required")
		return
	}
	targetCol := pipeline.DefaultTargetColumn
	if body.TargetCol != nil {
		if strings.TrimSpace(*body.TargetCol) == "" {
			writeDetail(w, http.StatusBadRequest, "target_col must not be empty")
			return
		}
		targetCol = *body.TargetCol
	}
	kind, err := pipeline.ParseSourceKind(body.SourceKind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.service.Train(r.Context(), service.TrainRequest{
		DataPath:   *body.DataPath,
		TargetCol:  targetCol,
		SourceKind: kind,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	fv, ok := h.decodeFeatures(w, r)
	if !ok {
		return
	}
	probability, err := h.service.Score(r.Context(), fv)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"success_probability": probability})
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	fv, ok := h.decodeFeatures(w, r)
	if !ok {
		return
	}
	result, err := h.service.Explain(r.Context(), fv)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleExportModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"model_path": h.service.ModelPath()})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"model":  h.service.Status(),
	})
}

func (h *Handler) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = l
	}

	runs := []db.TrainingLog{}
	if h.history != nil {
		loaded, err := h.history.LoadTrainingLog(r.Context(), limit)
		if err != nil {
			h.writeError(w, r, errors.Wrap(err, "load training log"))
			return
		}
		runs = loaded
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusOK, monitoring.MetricsSnapshot{Counters: map[string]int64{}, Timings: map[string]monitoring.TimingStats{}})
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// decode 解析JSON请求体，失败时已写入响应
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) decodeFeatures(w http.ResponseWriter, r *http.Request) (service.FeatureVector, bool) {
	var body featuresRequest
	if !h.decode(w, r, &body) {
		return nil, false
	}
	if body.Features == nil {
		writeDetail(w, http.StatusBadRequest, "features is required")
		return nil, false
	}
	fv := make(service.FeatureVector, len(body.Features))
	for name, value := range body.Features {
		if value == nil {
			writeDetail(w, http.StatusBadRequest, "feature "+strconv.Quote(name)+" must be a number")
			return nil, false
		}
		fv[name] = *value
	}
	return fv, true
}

// statusFor 将错误类型映射为HTTP状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnsupportedFormat),
		errors.Is(err, service.ErrDataShape),
		errors.Is(err, service.ErrInvalidFeatures),
		errors.Is(err, service.ErrModelNotTrained):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", fields...)
	} else {
		h.log.Info("request rejected", fields...)
	}
	writeDetail(w, status, err.Error())
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
