// Package service 模型服务：训练、评分、解释以及模型状态管理
package service

import (
	"github.com/pkg/errors"

	"art01ml/pipeline"
)

var (
	// ErrUnsupportedFormat 无法识别的数据源
	ErrUnsupportedFormat = pipeline.ErrUnsupportedFormat
	// ErrDataShape 数据集不满足训练要求
	ErrDataShape = pipeline.ErrDataShape
	// ErrModelNotTrained 尚未训练或加载模型
	ErrModelNotTrained = errors.New("model not trained")
	// ErrInvalidFeatures 请求特征与训练特征不一致
	ErrInvalidFeatures = errors.New("invalid features")
	// ErrTraining 加载、拟合或持久化失败
	ErrTraining = errors.New("training failed")
	// ErrPrediction 变换或预测失败
	ErrPrediction = errors.New("prediction failed")
)

// kindError attaches an error kind to a cause while keeping the cause's message.
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Is(target error) bool { return target == e.kind }

// withKind marks err as kind unless it already carries a more specific kind.
func withKind(kind, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrUnsupportedFormat, ErrDataShape, ErrInvalidFeatures, ErrModelNotTrained} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &kindError{kind: kind, err: err}
}
