package service

import (
	"math"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// FeatureVector 评分请求中的特征名到数值的映射
type FeatureVector map[string]float64

// Vector 按训练时的特征顺序展开，键集合必须完全一致
func (fv FeatureVector) Vector(names []string) ([]float64, error) {
	row := make([]float64, len(names))
	for i, name := range names {
		value, ok := fv[name]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidFeatures, "missing feature %q", name)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, errors.Wrapf(ErrInvalidFeatures, "feature %q is not finite", name)
		}
		row[i] = value
	}
	if len(fv) != len(names) {
		return nil, errors.Wrapf(ErrInvalidFeatures, "unexpected features %v", fv.extra(names))
	}
	return row, nil
}

func (fv FeatureVector) extra(names []string) []string {
	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}
	var extra []string
	for name := range fv {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return extra
}

func (fv FeatureVector) clone() map[string]float64 {
	out := make(map[string]float64, len(fv))
	for name, value := range fv {
		out[name] = value
	}
	return out
}

// cacheKey identifies a row scored by one model generation.
func cacheKey(generation uint64, row []float64) string {
	buf := strconv.AppendUint(make([]byte, 0, 8+17*len(row)), generation, 16)
	for _, value := range row {
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, math.Float64bits(value), 16)
	}
	return string(buf)
}
