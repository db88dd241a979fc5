package scoring

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// stubClassifier is a fixed-probability classifier for pipeline tests.
type stubClassifier struct {
	name  domain.ModelName
	proba float64
}

func (s *stubClassifier) Name() domain.ModelName            { return s.name }
func (s *stubClassifier) PredictProba(_ []float64) float64  { return s.proba }

// stubDetector is a fixed-score anomaly detector.
type stubDetector struct {
	score float64
}

func (s *stubDetector) Name() domain.ModelName                 { return domain.ModelIsolationForest }
func (s *stubDetector) DecisionFunction(_ []float64) float64   { return s.score }
func (s *stubDetector) Predict(_ []float64) int {
	if s.score < 0 {
		return -1
	}
	return 1
}

func TestDecideThresholds(t *testing.T) {
	th := domain.DefaultThresholds()

	cases := []struct {
		name      string
		score     float64
		wantRisk  string
		wantAction string
	}{
		{"JustBelowReview", 0.49999, domain.RiskLow, domain.ActionAllow},
		{"ExactlyReview", 0.5, domain.RiskMedium, domain.ActionReview},
		{"JustBelowBlock", 0.79999, domain.RiskMedium, domain.ActionReview},
		{"ExactlyBlock", 0.8, domain.RiskHigh, domain.ActionBlock},
		{"Zero", 0, domain.RiskLow, domain.ActionAllow},
		{"One", 1, domain.RiskHigh, domain.ActionBlock},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			risk, action := Decide(tc.score, th)
			if risk != tc.wantRisk {
				t.Errorf("score %v: expected risk %s, got %s", tc.score, tc.wantRisk, risk)
			}
			if action != tc.wantAction {
				t.Errorf("score %v: expected action %s, got %s", tc.score, tc.wantAction, action)
			}
		})
	}
}

func TestEnsembleScoreAveragesProbabilityModelsOnly(t *testing.T) {
	models := []domain.Model{
		&stubClassifier{name: domain.ModelRandomForest, proba: 0.9},
		&stubClassifier{name: domain.ModelXGBoost, proba: 0.7},
		&stubDetector{score: -0.1},
	}

	preds := EvaluateModels(models, []float64{1, 2, 3})

	if len(preds) != 3 {
		t.Fatalf("expected 3 predictions, got %d", len(preds))
	}

	score := EnsembleScore(preds)
	if score != 0.8 {
		t.Errorf("expected ensemble 0.8 (mean of 0.9 and 0.7), got %v", score)
	}

	// The anomaly entry carries its own fields but never a probability.
	iso := preds[domain.ModelIsolationForest]
	if iso == nil {
		t.Fatal("isolation forest prediction missing")
	}
	if iso.FraudProbability != nil {
		t.Error("anomaly detector must not contribute a fraud probability")
	}
	if iso.IsAnomaly == nil || *iso.IsAnomaly != 1 {
		t.Error("negative decision score should flag an anomaly")
	}
}

func TestEnsembleScoreAnomalyOnly(t *testing.T) {
	models := []domain.Model{&stubDetector{score: -0.5}}

	preds := EvaluateModels(models, []float64{1})
	score := EnsembleScore(preds)

	if score != 0 {
		t.Errorf("anomaly-only ensemble must score 0, got %v", score)
	}

	res := Aggregate(preds, domain.DefaultThresholds())
	if res.RiskLevel != domain.RiskLow || res.Action != domain.ActionAllow {
		t.Errorf("anomaly-only result should be LOW/ALLOW, got %s/%s", res.RiskLevel, res.Action)
	}
	if len(res.ModelsUsed) != 1 {
		t.Errorf("models_used must still list the detector, got %v", res.ModelsUsed)
	}
}

func TestAggregateFraudScoreScaling(t *testing.T) {
	models := []domain.Model{
		&stubClassifier{name: domain.ModelRandomForest, proba: 0.9},
		&stubClassifier{name: domain.ModelXGBoost, proba: 0.9},
	}

	preds := EvaluateModels(models, nil)
	res := Aggregate(preds, domain.DefaultThresholds())

	if res.FraudScore != 90.0 {
		t.Errorf("expected fraud_score 90.0, got %v", res.FraudScore)
	}
	if res.RiskLevel != domain.RiskHigh {
		t.Errorf("expected HIGH risk, got %s", res.RiskLevel)
	}
	if res.Action != domain.ActionBlock {
		t.Errorf("expected BLOCK, got %s", res.Action)
	}
}

func TestModelsUsedFollowsEnsembleOrder(t *testing.T) {
	// Register in scrambled order; output must be canonical.
	models := []domain.Model{
		&stubDetector{score: 0.1},
		&stubClassifier{name: domain.ModelXGBoost, proba: 0.5},
		&stubClassifier{name: domain.ModelRandomForest, proba: 0.5},
	}

	preds := EvaluateModels(models, nil)
	used := ModelsUsed(preds)

	want := []domain.ModelName{domain.ModelRandomForest, domain.ModelXGBoost, domain.ModelIsolationForest}
	if len(used) != len(want) {
		t.Fatalf("expected %d models, got %d", len(want), len(used))
	}
	for i := range want {
		if used[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], used[i])
		}
	}
}

func TestScorerNoModels(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewStore(dir)
	if _, err := store.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	scorer := NewScorer(store, domain.DefaultThresholds(), nil)

	res, err := scorer.Score(context.Background(), domain.TransactionRecord{"amount": 100})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}

	if res.FraudScore != 0 {
		t.Errorf("expected fraud_score 0, got %v", res.FraudScore)
	}
	if res.Error == "" {
		t.Error("degraded result must carry an explicit error indicator")
	}
	if len(res.ModelsUsed) != 0 {
		t.Errorf("expected no models used, got %v", res.ModelsUsed)
	}
}
