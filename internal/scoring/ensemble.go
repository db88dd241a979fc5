// Package scoring runs the feature-to-score pipeline: per-model ensemble
// prediction and aggregation of model outputs into a risk decision.
package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// EvaluateModels runs each loaded model against a scaled feature vector,
// producing a per-model prediction record in the model's own shape.
// Absent models are simply omitted: fewer ensemble members, never an error.
func EvaluateModels(models []domain.Model, features []float64) map[domain.ModelName]*domain.ModelPrediction {
	preds := make(map[domain.ModelName]*domain.ModelPrediction, len(models))

	for _, m := range models {
		switch mm := m.(type) {
		case domain.ProbabilisticClassifier:
			p := mm.PredictProba(features)
			label := 0
			if p > 0.5 {
				label = 1
			}
			preds[m.Name()] = &domain.ModelPrediction{
				FraudProbability: &p,
				Prediction:       &label,
			}

		case domain.AnomalyDetector:
			score := mm.DecisionFunction(features)
			anomaly := 0
			if mm.Predict(features) == -1 {
				anomaly = 1
			}
			preds[m.Name()] = &domain.ModelPrediction{
				AnomalyScore: &score,
				IsAnomaly:    &anomaly,
			}
		}
	}

	return preds
}

// ModelsUsed lists the models present in a prediction record, in canonical
// ensemble order.
func ModelsUsed(preds map[domain.ModelName]*domain.ModelPrediction) []domain.ModelName {
	used := make([]domain.ModelName, 0, len(preds))
	for _, name := range domain.EnsembleOrder {
		if _, ok := preds[name]; ok {
			used = append(used, name)
		}
	}
	return used
}
