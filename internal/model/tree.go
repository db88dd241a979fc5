// Package model provides the fitted classifier and detector implementations
// behind the ensemble's prediction interfaces, plus the artifact codec.
//
// The training algorithms here are deliberately plain CART-family methods:
// the pipeline treats every model as an opaque fit/predict capability, so the
// only hard requirements are deterministic fits under a fixed seed and stable
// gob round-trips.
package model

import (
	"math"
	"math/rand"
)

// Node is one node of a flattened decision tree. Leaf nodes carry Value:
// P(fraud) for classification trees, an additive term for regression trees.
type Node struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	Value     float64
	Leaf      bool
}

// Tree is a decision tree stored as a node slice, root at index 0.
type Tree struct {
	Nodes []Node
}

// Predict walks the tree for a single sample.
func (t *Tree) Predict(x []float64) float64 {
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeConfig bounds tree growth.
type treeConfig struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	// maxFeatures is the number of candidate features per split;
	// 0 means all features.
	maxFeatures int
}

// splitResult is the best split found for a node.
type splitResult struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

// bestSplit searches candidate features for the split minimizing weighted
// child impurity. impurity computes the criterion over a sample index set.
func bestSplit(X [][]float64, idx []int, cfg treeConfig, rng *rand.Rand, impurity func([]int) float64) (splitResult, bool) {
	nf := len(X[0])
	features := rng.Perm(nf)
	if cfg.maxFeatures > 0 && cfg.maxFeatures < nf {
		features = features[:cfg.maxFeatures]
	}

	parent := impurity(idx)
	best := splitResult{gain: 1e-12}
	found := false

	for _, f := range features {
		// Candidate thresholds: midpoints between sorted unique values.
		vals := make([]float64, len(idx))
		for i, s := range idx {
			vals[i] = X[s][f]
		}
		thresholds := candidateThresholds(vals)

		for _, th := range thresholds {
			var left, right []int
			for _, s := range idx {
				if X[s][f] <= th {
					left = append(left, s)
				} else {
					right = append(right, s)
				}
			}
			if len(left) < cfg.minSamplesLeaf || len(right) < cfg.minSamplesLeaf {
				continue
			}

			wl := float64(len(left)) / float64(len(idx))
			gain := parent - wl*impurity(left) - (1-wl)*impurity(right)
			if gain > best.gain {
				best = splitResult{feature: f, threshold: th, gain: gain, left: left, right: right}
				found = true
			}
		}
	}

	return best, found
}

// candidateThresholds returns midpoints between adjacent distinct values,
// capped to keep split search bounded on high-cardinality features.
func candidateThresholds(vals []float64) []float64 {
	const maxCandidates = 16

	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	insertionSort(sorted)

	var uniq []float64
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			uniq = append(uniq, v)
		}
	}
	if len(uniq) < 2 {
		return nil
	}

	mids := make([]float64, 0, len(uniq)-1)
	for i := 1; i < len(uniq); i++ {
		mids = append(mids, (uniq[i-1]+uniq[i])/2)
	}
	if len(mids) <= maxCandidates {
		return mids
	}

	// Downsample evenly across the value range.
	out := make([]float64, 0, maxCandidates)
	step := float64(len(mids)) / float64(maxCandidates)
	for i := 0; i < maxCandidates; i++ {
		out = append(out, mids[int(float64(i)*step)])
	}
	return out
}

func insertionSort(a []float64) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

// giniImpurity over binary labels.
func giniImpurity(y []int, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var pos int
	for _, s := range idx {
		pos += y[s]
	}
	p := float64(pos) / float64(len(idx))
	return 2 * p * (1 - p)
}

// variance over real-valued targets.
func variance(targets []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var mean float64
	for _, s := range idx {
		mean += targets[s]
	}
	mean /= float64(len(idx))
	var v float64
	for _, s := range idx {
		d := targets[s] - mean
		v += d * d
	}
	return v / float64(len(idx))
}

// buildClassificationTree grows a gini tree; leaves hold P(fraud).
// importances, when non-nil, accumulates impurity decrease per feature.
func buildClassificationTree(X [][]float64, y []int, idx []int, cfg treeConfig, rng *rand.Rand, importances []float64) Tree {
	t := Tree{}
	crit := func(set []int) float64 { return giniImpurity(y, set) }
	leafValue := func(set []int) float64 {
		var pos int
		for _, s := range set {
			pos += y[s]
		}
		return float64(pos) / float64(len(set))
	}
	t.grow(X, idx, 0, cfg, rng, crit, leafValue, importances)
	return t
}

// buildRegressionTree grows a variance-reduction tree; leaves hold the mean
// target, optionally re-written by the caller (Newton leaf updates).
func buildRegressionTree(X [][]float64, targets []float64, idx []int, cfg treeConfig, rng *rand.Rand, importances []float64) (Tree, [][]int) {
	t := Tree{}
	var leafSets [][]int
	crit := func(set []int) float64 { return variance(targets, set) }
	leafValue := func(set []int) float64 {
		var mean float64
		for _, s := range set {
			mean += targets[s]
		}
		leafSets = append(leafSets, set)
		return mean / float64(len(set))
	}
	t.grow(X, idx, 0, cfg, rng, crit, leafValue, importances)
	return t, leafSets
}

// grow recursively builds nodes, returning nothing; the tree is appended to
// in pre-order so child indexes are assigned after the parent exists.
func (t *Tree) grow(X [][]float64, idx []int, depth int, cfg treeConfig, rng *rand.Rand,
	impurity func([]int) float64, leafValue func([]int) float64, importances []float64) int32 {

	pos := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, Node{})

	if depth >= cfg.maxDepth || len(idx) < cfg.minSamplesSplit || impurity(idx) == 0 {
		t.Nodes[pos] = Node{Leaf: true, Value: leafValue(idx)}
		return pos
	}

	split, ok := bestSplit(X, idx, cfg, rng, impurity)
	if !ok {
		t.Nodes[pos] = Node{Leaf: true, Value: leafValue(idx)}
		return pos
	}

	if importances != nil {
		importances[split.feature] += split.gain * float64(len(idx))
	}

	left := t.grow(X, split.left, depth+1, cfg, rng, impurity, leafValue, importances)
	right := t.grow(X, split.right, depth+1, cfg, rng, impurity, leafValue, importances)
	t.Nodes[pos] = Node{
		Feature:   split.feature,
		Threshold: split.threshold,
		Left:      left,
		Right:     right,
	}
	return pos
}

// normalizeImportances scales raw impurity-decrease sums to sum to 1.
func normalizeImportances(imp []float64) {
	var total float64
	for _, v := range imp {
		total += v
	}
	if total == 0 {
		return
	}
	for i := range imp {
		imp[i] /= total
	}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
