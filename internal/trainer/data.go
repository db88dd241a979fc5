// Package trainer fits the scaler and the three ensemble models on labeled
// transaction data and writes artifacts through the same layout the serving
// store reads.
package trainer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"math/rand"
	"os"
)

// LabelField marks the fraud label column in training rows.
const LabelField = "is_fraud"

// Row is one labeled training transaction: feature values plus is_fraud.
type Row = map[string]float64

// GenerateSynthetic produces seeded synthetic transactions. Fraudulent rows
// draw from heavier-amount, off-hours, high-risk distributions; rows are
// generated in chronological intent order, so a suffix slice is a valid
// time-respecting holdout.
func GenerateSynthetic(n int, fraudRate float64, seed int64) []Row {
	rng := rand.New(rand.NewSource(seed))
	fraudHours := []float64{2, 3, 4, 23, 1}

	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		isFraud := rng.Float64() < fraudRate

		var amount, hour, timeDiff, userRisk, merchantFraud, zScore float64
		if isFraud {
			amount = logNormal(rng, 6, 2)
			hour = fraudHours[rng.Intn(len(fraudHours))]
			timeDiff = rng.ExpFloat64() * 2
			userRisk = uniform(rng, 60, 100)
			merchantFraud = uniform(rng, 0.1, 0.3)
			zScore = rng.NormFloat64() + 3
		} else {
			amount = logNormal(rng, 4, 1)
			hour = float64(8 + rng.Intn(12))
			timeDiff = rng.ExpFloat64() * 60
			userRisk = uniform(rng, 0, 40)
			merchantFraud = uniform(rng, 0, 0.05)
			zScore = rng.NormFloat64()
		}

		dayOfWeek := float64(rng.Intn(7))
		isWeekend := 0.0
		if dayOfWeek >= 5 {
			isWeekend = 1
		}
		isNight := 0.0
		if hour >= 22 || hour <= 6 {
			isNight = 1
		}
		hasLocation := 1.0
		if rng.Float64() < 0.1 {
			hasLocation = 0
		}

		label := 0.0
		if isFraud {
			label = 1
		}

		rows = append(rows, Row{
			"amount":                    math.Max(1, amount),
			"hour":                      hour,
			"day_of_week":               dayOfWeek,
			"is_weekend":                isWeekend,
			"is_night":                  isNight,
			"amount_z_score":            zScore,
			"time_diff_minutes":         timeDiff,
			"has_location":              hasLocation,
			"user_risk_score":           userRisk,
			"user_avg_amount":           uniform(rng, 50, 300),
			"user_amount_std":           uniform(rng, 10, 100),
			"user_txn_count":            float64(1 + rng.Intn(99)),
			"merchant_fraud_rate":       merchantFraud,
			"merchant_category_encoded": float64(rng.Intn(10)),
			"merchant_risk_encoded":     float64(rng.Intn(3)),
			LabelField:                  label,
		})
	}

	return rows
}

// LoadTrainingData reads labeled rows from path when the file exists,
// otherwise generates synthetic data and persists it there for reproducible
// reruns. An empty path always generates without persisting.
func LoadTrainingData(path string, samples int, fraudRate float64, seed int64) ([]Row, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			var rows []Row
			if err := json.Unmarshal(data, &rows); err != nil {
				return nil, fmt.Errorf("parse training data %s: %w", path, err)
			}
			slog.Info("training data loaded", "path", path, "rows", len(rows))
			return rows, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read training data %s: %w", path, err)
		}
	}

	slog.Info("generating synthetic training data", "samples", samples, "fraud_rate", fraudRate)
	rows := GenerateSynthetic(samples, fraudRate, seed)

	if path != "" {
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("save training data %s: %w", path, err)
		}
		slog.Info("training data saved", "path", path)
	}

	return rows, nil
}

func logNormal(rng *rand.Rand, mu, sigma float64) float64 {
	return math.Exp(rng.NormFloat64()*sigma + mu)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
