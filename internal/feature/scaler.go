package feature

import (
	"fmt"
	"math"
)

// StandardScaler is the fitted z-score transform: (x - mean) / std per slot.
// Immutable once fit; the serving side must use the exact scaler the models
// were trained with.
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// FitStandardScaler computes per-column mean and standard deviation over the
// sample matrix. Columns with zero variance scale by 1 so constant features
// pass through centered instead of dividing by zero.
func FitStandardScaler(samples [][]float64) (*StandardScaler, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to fit scaler")
	}

	n := len(samples[0])
	mean := make([]float64, n)
	std := make([]float64, n)

	for _, row := range samples {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(samples))
	}

	for _, row := range samples {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(len(samples)))
		if std[j] == 0 {
			std[j] = 1
		}
	}

	return &StandardScaler{Mean: mean, Std: std}, nil
}

// Transform returns a new scaled vector. Pure, no side effects.
func (s *StandardScaler) Transform(features []float64) []float64 {
	out := make([]float64, len(features))
	for i, v := range features {
		if i < len(s.Mean) {
			out[i] = (v - s.Mean[i]) / s.Std[i]
		} else {
			out[i] = v
		}
	}
	return out
}

// TransformAll scales a sample matrix row by row.
func (s *StandardScaler) TransformAll(samples [][]float64) [][]float64 {
	out := make([][]float64, len(samples))
	for i, row := range samples {
		out[i] = s.Transform(row)
	}
	return out
}

// Scale applies the scaler when present, identity otherwise. The absent-scaler
// pass-through mirrors the artifact layout: no scaler blob means features were
// never scaled at training time either.
func Scale(features []float64, scaler *StandardScaler) []float64 {
	if scaler == nil {
		out := make([]float64, len(features))
		copy(out, features)
		return out
	}
	return scaler.Transform(features)
}
