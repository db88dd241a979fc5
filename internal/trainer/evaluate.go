package trainer

import (
	"sort"
)

// Evaluation summarizes holdout performance for one model.
type Evaluation struct {
	ModelName string  `json:"model_name"`
	AUC       float64 `json:"auc"`

	// OptimalThreshold maximizes F1 across the precision-recall curve.
	// Informational: serving thresholds stay at their configured values.
	OptimalThreshold float64 `json:"optimal_threshold"`

	// Confusion counts at the 0.5 operating point.
	TruePositives  int `json:"tp"`
	FalsePositives int `json:"fp"`
	TrueNegatives  int `json:"tn"`
	FalseNegatives int `json:"fn"`

	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// EvaluateScores computes AUC, the optimal-F1 threshold over the PR curve,
// and confusion counts at 0.5 for fraud-likelihood scores against binary
// labels. Higher score must mean more likely fraud.
func EvaluateScores(name string, scores []float64, labels []int) Evaluation {
	ev := Evaluation{ModelName: name}
	if len(scores) == 0 || len(scores) != len(labels) {
		return ev
	}

	ev.AUC = rocAUC(scores, labels)
	ev.OptimalThreshold = optimalF1Threshold(scores, labels)

	for i, s := range scores {
		pred := 0
		if s > 0.5 {
			pred = 1
		}
		switch {
		case pred == 1 && labels[i] == 1:
			ev.TruePositives++
		case pred == 1 && labels[i] == 0:
			ev.FalsePositives++
		case pred == 0 && labels[i] == 0:
			ev.TrueNegatives++
		default:
			ev.FalseNegatives++
		}
	}

	ev.Precision, ev.Recall, ev.F1 = prf(ev.TruePositives, ev.FalsePositives, ev.FalseNegatives)
	return ev
}

// rocAUC computes the area under the ROC curve via the rank statistic, with
// average ranks for tied scores.
func rocAUC(scores []float64, labels []int) float64 {
	n := len(scores)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[order[j]] == scores[order[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // average of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			ranks[order[k]] = avg
		}
		i = j
	}

	var pos, rankSum float64
	for i, label := range labels {
		if label == 1 {
			pos++
			rankSum += ranks[i]
		}
	}
	neg := float64(n) - pos
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - pos*(pos+1)/2) / (pos * neg)
}

// optimalF1Threshold sweeps candidate thresholds over the precision-recall
// curve and returns the score value maximizing F1.
func optimalF1Threshold(scores []float64, labels []int) float64 {
	type pair struct {
		score float64
		label int
	}
	pairs := make([]pair, len(scores))
	for i := range scores {
		pairs[i] = pair{scores[i], labels[i]}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].score > pairs[b].score })

	var totalPos int
	for _, label := range labels {
		totalPos += label
	}
	if totalPos == 0 {
		return 0.5
	}

	best := 0.5
	bestF1 := -1.0
	tp, fp := 0, 0
	for i, p := range pairs {
		if p.label == 1 {
			tp++
		} else {
			fp++
		}
		// Threshold between this score and the next distinct one.
		if i+1 < len(pairs) && pairs[i+1].score == p.score {
			continue
		}
		_, _, f1 := prf(tp, fp, totalPos-tp)
		if f1 > bestF1 {
			bestF1 = f1
			best = p.score
		}
	}
	return best
}

func prf(tp, fp, fn int) (precision, recall, f1 float64) {
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}
