package scoring

import (
	"context"
	"errors"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

// ActionPolicy is an optional post-score decision overlay. Implementations
// may escalate the recommended action and append override reasons.
type ActionPolicy interface {
	Apply(ctx context.Context, res *domain.PredictionResult, record domain.TransactionRecord)
}

// Scorer drives the full pipeline for one transaction: snapshot capture,
// feature extraction, scaling, ensemble prediction, risk aggregation and the
// optional policy overlay.
type Scorer struct {
	store      *artifact.Store
	thresholds domain.Thresholds
	policy     ActionPolicy
}

// NewScorer creates a scorer over the artifact store. policy may be nil.
func NewScorer(store *artifact.Store, thresholds domain.Thresholds, policy ActionPolicy) *Scorer {
	return &Scorer{
		store:      store,
		thresholds: thresholds,
		policy:     policy,
	}
}

// Snapshot exposes the current artifact snapshot for introspection endpoints.
func (s *Scorer) Snapshot() *artifact.Snapshot {
	return s.store.Snapshot()
}

// Score runs the pipeline against the snapshot current at call time. The
// snapshot is captured once; a concurrent reload cannot change the model set
// mid-request. Scoring itself performs no I/O.
func (s *Scorer) Score(ctx context.Context, record domain.TransactionRecord) (*domain.PredictionResult, error) {
	snap := s.store.Snapshot()
	return s.ScoreWithSnapshot(ctx, snap, record)
}

// ScoreWithSnapshot scores against an explicit snapshot. Used by callers that
// pin a snapshot across several operations.
func (s *Scorer) ScoreWithSnapshot(ctx context.Context, snap *artifact.Snapshot, record domain.TransactionRecord) (*domain.PredictionResult, error) {
	if len(snap.Models) == 0 {
		return noModelsResult(), nil
	}

	vec, err := feature.Extract(record, snap.Schema)
	if errors.Is(err, domain.ErrSchemaMismatch) {
		// Models without metadata cannot be scored meaningfully; degrade the
		// same way an empty artifact set does.
		return noModelsResult(), nil
	}
	if err != nil {
		return nil, err
	}

	scaled := feature.Scale(vec, snap.Scaler)
	preds := EvaluateModels(snap.OrderedModels(), scaled)

	res := Aggregate(preds, s.thresholds)
	res.FeatureCount = snap.Schema.Len()

	if s.policy != nil {
		s.policy.Apply(ctx, res, record)
	}
	return res, nil
}

// noModelsResult is the structured degraded response for an empty artifact
// set: fraud_score 0, an explicit indicator, and no per-model entries.
func noModelsResult() *domain.PredictionResult {
	return &domain.PredictionResult{
		FraudScore:       0,
		ModelPredictions: map[domain.ModelName]*domain.ModelPrediction{},
		ModelsUsed:       []domain.ModelName{},
		Error:            "no models loaded, train models first",
	}
}
