package domain

import "time"

// Risk tiers derived from the ensemble score.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Recommended actions, one per risk tier.
const (
	ActionAllow  = "ALLOW"
	ActionReview = "REVIEW"
	ActionBlock  = "BLOCK"
)

// Thresholds maps the ensemble score (range [0,1]) to a risk tier. Evaluated
// high-to-low: >= Block is HIGH/BLOCK, >= Review is MEDIUM/REVIEW, everything
// below is LOW/ALLOW.
type Thresholds struct {
	Review float64 `json:"review"`
	Block  float64 `json:"block"`
}

// DefaultThresholds returns the serving defaults. The trainer's optimal
// operating point is recorded in metadata but intentionally not fed back here;
// operators override via configuration if they want the trained threshold.
func DefaultThresholds() Thresholds {
	return Thresholds{Review: 0.5, Block: 0.8}
}

// ModelPrediction is one model's output in its model-specific shape.
// Probability models populate FraudProbability and Prediction; the anomaly
// detector populates AnomalyScore and IsAnomaly.
type ModelPrediction struct {
	FraudProbability *float64 `json:"fraud_probability,omitempty"`
	Prediction       *int     `json:"prediction,omitempty"`
	AnomalyScore     *float64 `json:"anomaly_score,omitempty"`
	IsAnomaly        *int     `json:"is_anomaly,omitempty"`
}

// PredictionResult is the scoring outcome for a single transaction.
// Created fresh per request, never persisted in place; the repository stores
// a PredictionRecord wrapping it when auditing is enabled.
type PredictionResult struct {
	FraudScore       float64                         `json:"fraud_score"`
	RiskLevel        string                          `json:"risk_level,omitempty"`
	Action           string                          `json:"action,omitempty"`
	ModelPredictions map[ModelName]*ModelPrediction  `json:"model_predictions"`
	FeatureCount     int                             `json:"feature_count"`
	ModelsUsed       []ModelName                     `json:"models_used"`
	PolicyOverrides  []string                        `json:"policy_overrides,omitempty"`

	// Error carries the "no models loaded" indicator. The transport still
	// answers 200 with this payload; it is a degraded result, not a failure.
	Error string `json:"error,omitempty"`
}

// NoModels reports whether the result is the degraded no-models response.
func (r *PredictionResult) NoModels() bool { return r.Error != "" }

// PredictionRecord is a persisted scoring event for the audit log.
type PredictionRecord struct {
	ID        string            `json:"id"`
	TraceID   string            `json:"traceId,omitempty"`
	Features  TransactionRecord `json:"features"`
	Result    PredictionResult  `json:"result"`
	CreatedAt time.Time         `json:"createdAt"`
}
