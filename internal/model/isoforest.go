package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// IsolationForest is an unsupervised anomaly detector. Anomaly-only member of
// the serving ensemble: it never contributes to the ensemble fraud score.
type IsolationForest struct {
	Trees         []IsoTree
	SubsampleSize int
	NumFeatures   int

	// Offset shifts score samples so that DecisionFunction < 0 marks the
	// training contamination fraction as outliers.
	Offset float64
}

// IsoNode is one node of an isolation tree. External nodes record the size of
// the sample set they terminated with, for the average-path-length adjustment.
type IsoNode struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	Size      int
	Leaf      bool
}

// IsoTree is an isolation tree stored as a node slice, root at index 0.
type IsoTree struct {
	Nodes []IsoNode
}

// IsoForestConfig controls isolation forest training.
type IsoForestConfig struct {
	NumTrees      int
	SubsampleSize int
	Contamination float64
	Seed          int64
}

// DefaultIsoForestConfig mirrors the original operating point.
func DefaultIsoForestConfig() IsoForestConfig {
	return IsoForestConfig{
		NumTrees:      100,
		SubsampleSize: 256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// FitIsolationForest trains isolation trees on unlabeled samples and
// calibrates the decision offset from the contamination rate.
func FitIsolationForest(X [][]float64, cfg IsoForestConfig) (*IsolationForest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("isolation_forest: no training samples")
	}

	psi := cfg.SubsampleSize
	if psi > len(X) {
		psi = len(X)
	}
	depthLimit := int(math.Ceil(math.Log2(float64(psi))))
	rng := rand.New(rand.NewSource(cfg.Seed))

	f := &IsolationForest{
		Trees:         make([]IsoTree, 0, cfg.NumTrees),
		SubsampleSize: psi,
		NumFeatures:   len(X[0]),
	}

	for i := 0; i < cfg.NumTrees; i++ {
		idx := rng.Perm(len(X))[:psi]
		t := IsoTree{}
		t.grow(X, idx, 0, depthLimit, rng)
		f.Trees = append(f.Trees, t)
	}

	// Calibrate: offset is the contamination-quantile of training score
	// samples, so the most anomalous fraction lands below zero.
	scores := make([]float64, len(X))
	for i, x := range X {
		scores[i] = f.scoreSamples(x)
	}
	sort.Float64s(scores)
	q := int(cfg.Contamination * float64(len(scores)))
	if q >= len(scores) {
		q = len(scores) - 1
	}
	f.Offset = scores[q]

	return f, nil
}

func (t *IsoTree) grow(X [][]float64, idx []int, depth, limit int, rng *rand.Rand) int32 {
	pos := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, IsoNode{})

	if depth >= limit || len(idx) <= 1 {
		t.Nodes[pos] = IsoNode{Leaf: true, Size: len(idx)}
		return pos
	}

	// Random feature, random cut in its observed range.
	nf := len(X[0])
	var feature int
	var lo, hi float64
	ok := false
	for _, f := range rng.Perm(nf) {
		lo, hi = X[idx[0]][f], X[idx[0]][f]
		for _, s := range idx[1:] {
			if X[s][f] < lo {
				lo = X[s][f]
			}
			if X[s][f] > hi {
				hi = X[s][f]
			}
		}
		if hi > lo {
			feature = f
			ok = true
			break
		}
	}
	if !ok {
		t.Nodes[pos] = IsoNode{Leaf: true, Size: len(idx)}
		return pos
	}

	threshold := lo + rng.Float64()*(hi-lo)
	var left, right []int
	for _, s := range idx {
		if X[s][feature] < threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	l := t.grow(X, left, depth+1, limit, rng)
	r := t.grow(X, right, depth+1, limit, rng)
	t.Nodes[pos] = IsoNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return pos
}

// pathLength walks the tree, adding the average-path adjustment c(size) at
// external nodes that terminated with more than one sample.
func (t *IsoTree) pathLength(x []float64) float64 {
	i := int32(0)
	depth := 0.0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return depth + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the expected path length of an unsuccessful BST
// search over n samples.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

// scoreSamples returns the negated anomaly score in [-1, 0): closer to -1 is
// more anomalous.
func (f *IsolationForest) scoreSamples(x []float64) float64 {
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].pathLength(x)
	}
	mean := sum / float64(len(f.Trees))
	s := math.Pow(2, -mean/averagePathLength(f.SubsampleSize))
	return -s
}

// Name implements domain.Model.
func (f *IsolationForest) Name() domain.ModelName { return domain.ModelIsolationForest }

// DecisionFunction returns the signed decision value; more negative means
// more anomalous, negative means outlier.
func (f *IsolationForest) DecisionFunction(x []float64) float64 {
	return f.scoreSamples(x) - f.Offset
}

// Predict returns -1 for outliers and 1 for inliers.
func (f *IsolationForest) Predict(x []float64) int {
	if f.DecisionFunction(x) < 0 {
		return -1
	}
	return 1
}
