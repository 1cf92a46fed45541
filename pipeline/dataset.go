// Package pipeline 加载并清洗训练数据
package pipeline

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedFormat 无法识别的数据源
	ErrUnsupportedFormat = errors.New("unsupported data format")
	// ErrDataShape 数据集结构不满足训练要求
	ErrDataShape = errors.New("invalid data shape")
)

const (
	// DefaultTargetColumn 默认标签列
	DefaultTargetColumn = "outcome"
	// IDColumn 记录标识列，不参与训练
	IDColumn = "id"
)

// Dataset 内存中的表格数据，所有单元格均为文本
type Dataset struct {
	Columns []string
	Rows    [][]string
}

// Len 返回行数
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// ColumnIndex 返回列下标，不存在时返回-1
func (d *Dataset) ColumnIndex(name string) int {
	for i, column := range d.Columns {
		if column == name {
			return i
		}
	}
	return -1
}

// TrainingSet 拆分后的特征矩阵与标签
type TrainingSet struct {
	Features []string
	X        [][]float64
	Y        []string
}
