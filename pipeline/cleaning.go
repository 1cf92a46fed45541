package pipeline

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ColumnRoles 标签列与标识列
type ColumnRoles struct {
	Target string
	ID     string
}

// CleaningRule 数据集检查规则
type CleaningRule interface {
	Check(ds *Dataset, roles ColumnRoles) error
	Name() string
}

// DataCleaner 按顺序执行检查规则，第一个失败的规则决定错误
type DataCleaner struct {
	rules []CleaningRule
}

// NewDataCleaner 创建带默认规则的清洗器
func NewDataCleaner() *DataCleaner {
	cleaner := &DataCleaner{}
	cleaner.AddRule(&uniqueColumnsRule{})
	cleaner.AddRule(&requiredColumnsRule{})
	cleaner.AddRule(&nonEmptyRule{})
	cleaner.AddRule(&labelRule{})
	return cleaner
}

// AddRule 添加检查规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Validate 执行所有规则
func (dc *DataCleaner) Validate(ds *Dataset, roles ColumnRoles) error {
	if ds == nil {
		return errors.Wrap(ErrDataShape, "dataset is nil")
	}
	for _, rule := range dc.rules {
		if err := rule.Check(ds, roles); err != nil {
			return errors.Wrap(err, rule.Name())
		}
	}
	return nil
}

// Split 校验数据集并拆分为特征矩阵X和标签y，特征为除标签列和标识列外的所有列
func (dc *DataCleaner) Split(ds *Dataset, roles ColumnRoles) (*TrainingSet, error) {
	if err := dc.Validate(ds, roles); err != nil {
		return nil, err
	}

	targetIdx := ds.ColumnIndex(roles.Target)
	featureIdx := make([]int, 0, len(ds.Columns))
	set := &TrainingSet{}
	for i, column := range ds.Columns {
		if column == roles.Target || column == roles.ID {
			continue
		}
		featureIdx = append(featureIdx, i)
		set.Features = append(set.Features, column)
	}
	if len(featureIdx) == 0 {
		return nil, errors.Wrap(ErrDataShape, "no feature columns besides target and id")
	}

	set.X = make([][]float64, len(ds.Rows))
	set.Y = make([]string, len(ds.Rows))
	for r, row := range ds.Rows {
		vector := make([]float64, len(featureIdx))
		for j, idx := range featureIdx {
			value, err := parseCell(row[idx])
			if err != nil {
				return nil, errors.Wrapf(ErrDataShape, "row %d column %q: %v", r+1, ds.Columns[idx], err)
			}
			vector[j] = value
		}
		set.X[r] = vector
		set.Y[r] = strings.TrimSpace(row[targetIdx])
	}
	return set, nil
}

// Split 使用默认清洗器拆分数据集
func Split(ds *Dataset, targetCol, idCol string) (*TrainingSet, error) {
	return NewDataCleaner().Split(ds, ColumnRoles{Target: targetCol, ID: idCol})
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, errors.New("missing value")
	}
	value, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, errors.Errorf("%q is not numeric", cell)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.Errorf("%q is not finite", cell)
	}
	return value, nil
}

type uniqueColumnsRule struct{}

func (r *uniqueColumnsRule) Name() string { return "unique_columns" }

func (r *uniqueColumnsRule) Check(ds *Dataset, roles ColumnRoles) error {
	seen := make(map[string]bool, len(ds.Columns))
	for _, column := range ds.Columns {
		if column == "" {
			return errors.Wrap(ErrDataShape, "empty column name")
		}
		if seen[column] {
			return errors.Wrapf(ErrDataShape, "duplicate column %q", column)
		}
		seen[column] = true
	}
	return nil
}

type requiredColumnsRule struct{}

func (r *requiredColumnsRule) Name() string { return "required_columns" }

func (r *requiredColumnsRule) Check(ds *Dataset, roles ColumnRoles) error {
	if roles.Target == "" {
		return errors.Wrap(ErrDataShape, "target column name is empty")
	}
	if ds.ColumnIndex(roles.Target) < 0 {
		return errors.Wrapf(ErrDataShape, "target column %q not found", roles.Target)
	}
	if ds.ColumnIndex(roles.ID) < 0 {
		return errors.Wrapf(ErrDataShape, "id column %q not found", roles.ID)
	}
	return nil
}

type nonEmptyRule struct{}

func (r *nonEmptyRule) Name() string { return "non_empty" }

func (r *nonEmptyRule) Check(ds *Dataset, roles ColumnRoles) error {
	if len(ds.Rows) == 0 {
		return errors.Wrap(ErrDataShape, "dataset has no rows")
	}
	for i, row := range ds.Rows {
		if len(row) != len(ds.Columns) {
			return errors.Wrapf(ErrDataShape, "row %d has %d cells, header has %d", i+1, len(row), len(ds.Columns))
		}
	}
	return nil
}

type labelRule struct{}

func (r *labelRule) Name() string { return "labels" }

func (r *labelRule) Check(ds *Dataset, roles ColumnRoles) error {
	idx := ds.ColumnIndex(roles.Target)
	for i, row := range ds.Rows {
		if strings.TrimSpace(row[idx]) == "" {
			return errors.Wrapf(ErrDataShape, "row %d has no %q label", i+1, roles.Target)
		}
	}
	return nil
}
