package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RandomForest is a bagged ensemble of gini classification trees.
// Probability-emitting member of the serving ensemble.
type RandomForest struct {
	Trees       []Tree
	NumFeatures int
	Importances []float64
}

// ForestConfig controls random forest training.
type ForestConfig struct {
	NumTrees        int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Seed            int64
}

// DefaultForestConfig mirrors the original operating point.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NumTrees:        100,
		MaxDepth:        10,
		MinSamplesSplit: 20,
		MinSamplesLeaf:  10,
		Seed:            42,
	}
}

// FitRandomForest trains a forest on binary-labeled samples. Each tree sees a
// bootstrap sample and sqrt(N) candidate features per split.
func FitRandomForest(X [][]float64, y []int, cfg ForestConfig) (*RandomForest, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("random_forest: need matching samples and labels, got %d/%d", len(X), len(y))
	}

	nf := len(X[0])
	rng := rand.New(rand.NewSource(cfg.Seed))

	tcfg := treeConfig{
		maxDepth:        cfg.MaxDepth,
		minSamplesSplit: cfg.MinSamplesSplit,
		minSamplesLeaf:  cfg.MinSamplesLeaf,
		maxFeatures:     int(math.Max(1, math.Sqrt(float64(nf)))),
	}

	f := &RandomForest{
		Trees:       make([]Tree, 0, cfg.NumTrees),
		NumFeatures: nf,
		Importances: make([]float64, nf),
	}

	for i := 0; i < cfg.NumTrees; i++ {
		idx := make([]int, len(X))
		for j := range idx {
			idx[j] = rng.Intn(len(X))
		}
		f.Trees = append(f.Trees, buildClassificationTree(X, y, idx, tcfg, rng, f.Importances))
	}

	normalizeImportances(f.Importances)
	return f, nil
}

// Name implements domain.Model.
func (f *RandomForest) Name() domain.ModelName { return domain.ModelRandomForest }

// PredictProba returns P(fraud) as the mean of per-tree leaf probabilities.
func (f *RandomForest) PredictProba(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees))
}

// FeatureImportances implements domain.ImportanceProvider.
func (f *RandomForest) FeatureImportances() []float64 {
	out := make([]float64, len(f.Importances))
	copy(out, f.Importances)
	return out
}
