package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GradientBoost is a gradient-boosted tree classifier on logistic loss,
// filling the xgboost slot of the ensemble. Probability-emitting member.
type GradientBoost struct {
	Trees        []Tree
	BaseScore    float64 // initial log-odds
	LearningRate float64
	NumFeatures  int
	Importances  []float64
}

// BoostConfig controls gradient boosting training.
type BoostConfig struct {
	NumRounds       int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	LearningRate    float64
	Subsample       float64
	Seed            int64
}

// DefaultBoostConfig mirrors the original operating point, with a round count
// sized for CPU-bound pure-Go training.
func DefaultBoostConfig() BoostConfig {
	return BoostConfig{
		NumRounds:       200,
		MaxDepth:        6,
		MinSamplesSplit: 10,
		MinSamplesLeaf:  5,
		LearningRate:    0.1,
		Subsample:       0.8,
		Seed:            42,
	}
}

// FitGradientBoost trains boosted regression trees on the logistic gradient.
// Leaf values take a Newton step: sum(residual) / sum(p * (1-p)).
func FitGradientBoost(X [][]float64, y []int, cfg BoostConfig) (*GradientBoost, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("xgboost: need matching samples and labels, got %d/%d", len(X), len(y))
	}

	nf := len(X[0])
	rng := rand.New(rand.NewSource(cfg.Seed))

	var pos int
	for _, label := range y {
		pos += label
	}
	if pos == 0 || pos == len(y) {
		return nil, fmt.Errorf("xgboost: training labels are single-class")
	}
	base := math.Log(float64(pos) / float64(len(y)-pos))

	tcfg := treeConfig{
		maxDepth:        cfg.MaxDepth,
		minSamplesSplit: cfg.MinSamplesSplit,
		minSamplesLeaf:  cfg.MinSamplesLeaf,
	}

	m := &GradientBoost{
		Trees:        make([]Tree, 0, cfg.NumRounds),
		BaseScore:    base,
		LearningRate: cfg.LearningRate,
		NumFeatures:  nf,
		Importances:  make([]float64, nf),
	}

	// Raw scores F(x), updated additively each round.
	raw := make([]float64, len(X))
	for i := range raw {
		raw[i] = base
	}

	residual := make([]float64, len(X))
	for round := 0; round < cfg.NumRounds; round++ {
		for i := range X {
			residual[i] = float64(y[i]) - sigmoid(raw[i])
		}

		idx := subsampleIndexes(len(X), cfg.Subsample, rng)
		tree, leafSets := buildRegressionTree(X, residual, idx, tcfg, rng, m.Importances)
		applyNewtonLeaves(&tree, leafSets, raw, residual)

		for i := range X {
			raw[i] += cfg.LearningRate * tree.Predict(X[i])
		}
		m.Trees = append(m.Trees, tree)
	}

	normalizeImportances(m.Importances)
	return m, nil
}

// subsampleIndexes draws a fraction of sample indexes without replacement.
func subsampleIndexes(n int, fraction float64, rng *rand.Rand) []int {
	if fraction <= 0 || fraction >= 1 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	k := int(float64(n) * fraction)
	if k < 1 {
		k = 1
	}
	return rng.Perm(n)[:k]
}

// applyNewtonLeaves rewrites each leaf's mean-residual value with the Newton
// step over the samples that landed in it. Leaf nodes appear in the node
// slice in the same order their sample sets were recorded.
func applyNewtonLeaves(t *Tree, leafSets [][]int, raw, residual []float64) {
	k := 0
	for i := range t.Nodes {
		if !t.Nodes[i].Leaf {
			continue
		}
		set := leafSets[k]
		k++

		var num, den float64
		for _, s := range set {
			p := sigmoid(raw[s])
			num += residual[s]
			den += p * (1 - p)
		}
		if den < 1e-10 {
			den = 1e-10
		}
		t.Nodes[i].Value = num / den
	}
}

// Name implements domain.Model.
func (m *GradientBoost) Name() domain.ModelName { return domain.ModelXGBoost }

// PredictProba returns P(fraud) through the logistic link.
func (m *GradientBoost) PredictProba(x []float64) float64 {
	raw := m.BaseScore
	for i := range m.Trees {
		raw += m.LearningRate * m.Trees[i].Predict(x)
	}
	return sigmoid(raw)
}

// FeatureImportances implements domain.ImportanceProvider.
func (m *GradientBoost) FeatureImportances() []float64 {
	out := make([]float64, len(m.Importances))
	copy(out, m.Importances)
	return out
}
