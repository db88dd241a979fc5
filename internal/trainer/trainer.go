package trainer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
)

// Config controls a training run.
type Config struct {
	// DataPath is the labeled dataset; generated and persisted when missing.
	DataPath string

	// OutDir receives the artifact files.
	OutDir string

	// Synthetic generation parameters, used when DataPath does not exist.
	Samples   int
	FraudRate float64
	Seed      int64

	// Holdout is the trailing fraction of chronologically ordered data kept
	// for evaluation. Time-respecting: never a random shuffle, because fraud
	// is temporally correlated.
	Holdout float64
}

// DefaultConfig returns the standard training configuration.
func DefaultConfig() Config {
	return Config{
		DataPath:  "training_data.json",
		OutDir:    "models",
		Samples:   10000,
		FraudRate: 0.05,
		Seed:      42,
		Holdout:   0.25,
	}
}

// Result summarizes a completed training run.
type Result struct {
	Evaluations   map[string]Evaluation `json:"evaluations"`
	ModelsTrained []string              `json:"models_trained"`
	Samples       int                   `json:"samples"`
	TestSamples   int                   `json:"test_samples"`
	FraudRate     float64               `json:"fraud_rate"`
}

// Run executes the full training pipeline: load data, prepare features, fit
// the scaler and the three models, evaluate on the time-ordered holdout, and
// write artifacts the serving store can load.
func Run(cfg Config) (*Result, error) {
	rows, err := LoadTrainingData(cfg.DataPath, cfg.Samples, cfg.FraudRate, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if len(rows) < 10 {
		return nil, fmt.Errorf("not enough training data: %d rows", len(rows))
	}

	schema := feature.CanonicalSchema()
	X, y := prepareFeatures(rows, schema)

	var fraud int
	for _, label := range y {
		fraud += label
	}
	slog.Info("training started",
		"samples", len(X),
		"features", schema.Len(),
		"fraud_rate", float64(fraud)/float64(len(y)),
	)

	splitAt := timeOrderedSplit(len(X), cfg.Holdout)
	XTrainRaw, XTestRaw := X[:splitAt], X[splitAt:]
	yTrain, yTest := y[:splitAt], y[splitAt:]

	scaler, err := feature.FitStandardScaler(XTrainRaw)
	if err != nil {
		return nil, err
	}
	XTrain := scaler.TransformAll(XTrainRaw)
	XTest := scaler.TransformAll(XTestRaw)

	slog.Info("training random_forest")
	forestCfg := DefaultForestTuning(cfg.Seed)
	rf, err := model.FitRandomForest(XTrain, yTrain, forestCfg)
	if err != nil {
		return nil, fmt.Errorf("fit random_forest: %w", err)
	}

	slog.Info("training xgboost")
	boostCfg := model.DefaultBoostConfig()
	boostCfg.Seed = cfg.Seed
	gb, err := model.FitGradientBoost(XTrain, yTrain, boostCfg)
	if err != nil {
		return nil, fmt.Errorf("fit xgboost: %w", err)
	}

	slog.Info("training isolation_forest")
	isoCfg := model.DefaultIsoForestConfig()
	isoCfg.Seed = cfg.Seed
	iso, err := model.FitIsolationForest(XTrain, isoCfg)
	if err != nil {
		return nil, fmt.Errorf("fit isolation_forest: %w", err)
	}

	// Evaluate on the holdout. The detector's fraud-likelihood score is the
	// negated decision value: more anomalous means higher score.
	evals := map[string]Evaluation{
		string(domain.ModelRandomForest): EvaluateScores(
			string(domain.ModelRandomForest), probaScores(rf, XTest), yTest),
		string(domain.ModelXGBoost): EvaluateScores(
			string(domain.ModelXGBoost), probaScores(gb, XTest), yTest),
		string(domain.ModelIsolationForest): EvaluateScores(
			string(domain.ModelIsolationForest), anomalyScores(iso, XTest), yTest),
	}
	for _, ev := range evals {
		slog.Info("model evaluated",
			"model", ev.ModelName,
			"auc", ev.AUC,
			"optimal_threshold", ev.OptimalThreshold,
			"precision", ev.Precision,
			"recall", ev.Recall,
			"f1", ev.F1,
		)
	}

	logTopImportances(schema, rf.FeatureImportances(), 10)

	if err := writeArtifacts(cfg.OutDir, schema, scaler, evals, rf, gb, iso); err != nil {
		return nil, err
	}

	slog.Info("training complete", "out_dir", cfg.OutDir)
	return &Result{
		Evaluations:   evals,
		ModelsTrained: []string{string(domain.ModelRandomForest), string(domain.ModelXGBoost), string(domain.ModelIsolationForest)},
		Samples:       len(X),
		TestSamples:   len(XTest),
		FraudRate:     float64(fraud) / float64(len(y)),
	}, nil
}

// DefaultForestTuning returns the forest configuration for a training run.
func DefaultForestTuning(seed int64) model.ForestConfig {
	cfg := model.DefaultForestConfig()
	cfg.Seed = seed
	return cfg
}

// prepareFeatures builds the sample matrix in schema order, filling missing
// values with 0, and extracts the label column.
func prepareFeatures(rows []Row, schema domain.FeatureSchema) ([][]float64, []int) {
	X := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, row := range rows {
		vec := make([]float64, schema.Len())
		for j, name := range schema {
			vec[j] = row[name]
		}
		X[i] = vec
		if row[LabelField] >= 0.5 {
			y[i] = 1
		}
	}
	return X, y
}

// timeOrderedSplit returns the boundary index holding out the last contiguous
// fraction of chronologically ordered samples.
func timeOrderedSplit(n int, holdout float64) int {
	if holdout <= 0 || holdout >= 1 {
		holdout = 0.25
	}
	splitAt := n - int(float64(n)*holdout)
	if splitAt < 1 {
		splitAt = 1
	}
	if splitAt >= n {
		splitAt = n - 1
	}
	return splitAt
}

func probaScores(m domain.ProbabilisticClassifier, X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = m.PredictProba(x)
	}
	return out
}

func anomalyScores(m domain.AnomalyDetector, X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = -m.DecisionFunction(x)
	}
	return out
}

func logTopImportances(schema domain.FeatureSchema, importances []float64, top int) {
	type fi struct {
		name string
		imp  float64
	}
	ranked := make([]fi, 0, len(importances))
	for i, imp := range importances {
		if i < schema.Len() {
			ranked = append(ranked, fi{schema[i], imp})
		}
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].imp > ranked[b].imp })
	if top > len(ranked) {
		top = len(ranked)
	}
	for _, f := range ranked[:top] {
		slog.Info("feature importance", "feature", f.name, "importance", f.imp)
	}
}

// writeArtifacts persists the scaler, models and metadata through the layout
// the artifact store reads: one gob envelope per blob plus metadata.json.
func writeArtifacts(dir string, schema domain.FeatureSchema, scaler *feature.StandardScaler,
	evals map[string]Evaluation, models ...domain.Model) error {

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	fingerprint := schema.Fingerprint()
	versions := make([]string, 0, len(models))

	for _, m := range models {
		blob, err := model.Encode(string(m.Name()), fingerprint, m)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, artifact.ModelFile(m.Name()))
		if err := os.WriteFile(path, blob, 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		versions = append(versions, string(m.Name()))
		slog.Info("artifact written", "path", path)
	}

	blob, err := model.Encode(domain.ScalerStandard, fingerprint, scaler)
	if err != nil {
		return err
	}
	scalerPath := filepath.Join(dir, artifact.ScalerFile)
	if err := os.WriteFile(scalerPath, blob, 0644); err != nil {
		return fmt.Errorf("write %s: %w", scalerPath, err)
	}

	thresholds := make(map[string]float64, len(evals))
	for name, ev := range evals {
		thresholds[name] = ev.OptimalThreshold
	}

	meta := domain.Metadata{
		FeatureNames:      schema,
		TrainingDate:      time.Now().UTC().Format(time.RFC3339),
		ModelVersions:     versions,
		SchemaFingerprint: fingerprint,
		OptimalThresholds: thresholds,
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	metaPath := filepath.Join(dir, artifact.MetadataFile)
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", metaPath, err)
	}

	return nil
}
