package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnsembleScore computes the arithmetic mean of fraud_probability across
// exactly the probability-emitting models present in the record. Anomaly-only
// models never enter the mean. With no probability-emitting model present the
// score is 0, which is indistinguishable from "confidently not fraud"; an
// anomaly-only deployment therefore always reports zero risk, and callers can
// detect that mode from models_used.
func EnsembleScore(preds map[domain.ModelName]*domain.ModelPrediction) float64 {
	var sum float64
	var n int
	for _, p := range preds {
		if p.FraudProbability != nil {
			sum += *p.FraudProbability
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Decide maps an ensemble score in [0,1] to its risk tier and recommended
// action. Thresholds are evaluated high-to-low with no overlap: both bounds
// are inclusive at their lower edge.
func Decide(score float64, th domain.Thresholds) (riskLevel, action string) {
	switch {
	case score >= th.Block:
		return domain.RiskHigh, domain.ActionBlock
	case score >= th.Review:
		return domain.RiskMedium, domain.ActionReview
	default:
		return domain.RiskLow, domain.ActionAllow
	}
}

// Aggregate combines a per-model prediction record into a complete result:
// ensemble score, display-scaled fraud score, tier and action. Pure function
// of the record and thresholds, independent of the ensemble predictor.
func Aggregate(preds map[domain.ModelName]*domain.ModelPrediction, th domain.Thresholds) *domain.PredictionResult {
	score := EnsembleScore(preds)
	level, action := Decide(score, th)

	return &domain.PredictionResult{
		FraudScore:       score * 100,
		RiskLevel:        level,
		Action:           action,
		ModelPredictions: preds,
		ModelsUsed:       ModelsUsed(preds),
	}
}
