// Package advisory derives acquisition hints from recent iteration outcomes.
// It uses simple robust statistics; there is no model training involved.
package advisory

import (
	"math"
	"sort"
)

// MeanStd computes mean and population standard deviation.
func MeanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))

	if len(data) == 1 {
		return mean, 0
	}

	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(varianceSum / float64(len(data)))
}

// quantile returns the q-th quantile (0..1) using linear interpolation on the
// sorted input.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Detector flags anomalous values in a sample. Two implementations exist;
// config selects one at startup and callers only see the interface.
type Detector interface {
	Outliers(values []float64) []int
}

// IQRDetector flags values outside the Tukey fences of a sample.
type IQRDetector struct {
	// Multiplier widens the fences. 1.5 is the classic default.
	Multiplier float64
}

// Fences returns the lower and upper outlier bounds for the sample.
func (d IQRDetector) Fences(values []float64) (float64, float64, bool) {
	if len(values) < 4 {
		return 0, 0, false
	}
	mult := d.Multiplier
	if mult <= 0 {
		mult = 1.5
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - mult*iqr, q3 + mult*iqr, true
}

// Outliers returns the indices of values outside the fences.
func (d IQRDetector) Outliers(values []float64) []int {
	low, high, ok := d.Fences(values)
	if !ok {
		return nil
	}
	var outliers []int
	for i, v := range values {
		if v < low || v > high {
			outliers = append(outliers, i)
		}
	}
	return outliers
}

// ZScore standardises a value against a sample mean and deviation.
func ZScore(value, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (value - mean) / std
}

// ZScoreDetector flags values whose standard score exceeds a threshold.
type ZScoreDetector struct {
	// Threshold on |z|. 3 is the default.
	Threshold float64
}

// Outliers returns the indices of values with |z| above the threshold.
func (d ZScoreDetector) Outliers(values []float64) []int {
	if len(values) < 4 {
		return nil
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = 3
	}

	mean, std := MeanStd(values)
	var outliers []int
	for i, v := range values {
		if math.Abs(ZScore(v, mean, std)) > threshold {
			outliers = append(outliers, i)
		}
	}
	return outliers
}

var (
	_ Detector = IQRDetector{}
	_ Detector = ZScoreDetector{}
)
