package domain

// ModelName identifies a member of the fixed ensemble.
type ModelName string

// The closed set of models the serving contract knows about.
const (
	ModelRandomForest    ModelName = "random_forest"
	ModelXGBoost         ModelName = "xgboost"
	ModelIsolationForest ModelName = "isolation_forest"
)

// EnsembleOrder is the canonical iteration order for loaded models. Keeps
// prediction payloads and models_used listings deterministic.
var EnsembleOrder = []ModelName{ModelRandomForest, ModelXGBoost, ModelIsolationForest}

// ScalerStandard is the only scaler tag the artifact layout recognizes.
const ScalerStandard = "standard"

// Model is a fitted, immutable classifier or detector. Concrete models also
// implement exactly one of ProbabilisticClassifier or AnomalyDetector; the
// ensemble dispatches on that capability rather than on the name string.
type Model interface {
	Name() ModelName
}

// ProbabilisticClassifier emits P(fraud) for a feature vector.
// random_forest and xgboost are probability-emitting members.
type ProbabilisticClassifier interface {
	Model
	PredictProba(features []float64) float64
}

// AnomalyDetector emits a signed decision value where more negative means
// more anomalous. isolation_forest is the only anomaly-only member.
type AnomalyDetector interface {
	Model

	// DecisionFunction returns the signed anomaly decision value.
	DecisionFunction(features []float64) float64

	// Predict returns the detector's binary label: -1 for outlier, 1 for inlier.
	Predict(features []float64) int
}

// ImportanceProvider is implemented by models exposing a native per-feature
// importance measure (tree ensembles). Importances align with the schema order
// the model was fit against.
type ImportanceProvider interface {
	FeatureImportances() []float64
}
