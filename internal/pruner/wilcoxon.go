package pruner

import (
	"context"
	"math"
	"sort"

	"github.com/pcraw4d/scout/internal/mathkernel"
	"github.com/pcraw4d/scout/internal/store"
)

// Wilcoxon compares the pending trial's intermediate-value vector against
// the best completed trial's by the Wilcoxon signed-rank test, once at
// least n_startup_trials have completed.
type Wilcoxon struct {
	nStartup   int
	pThreshold float64
}

// NewWilcoxon builds a Wilcoxon pruner. Recognized options:
// n_startup_trials (default 5), p_threshold (default 0.1).
func NewWilcoxon(o Options) (*Wilcoxon, error) {
	return &Wilcoxon{
		nStartup:   o.int("n_startup_trials", 5),
		pThreshold: o.float("p_threshold", 0.1),
	}, nil
}

func (w *Wilcoxon) ShouldPrune(ctx context.Context, st store.Store, studyID, trialID string, step int, value float64, goal store.Goal) (bool, error) {
	trials, err := st.ListTrials(ctx, studyID)
	if err != nil {
		return false, err
	}

	var completed []store.Trial
	for _, t := range trials {
		if t.Status == store.TrialCompleted && t.Score != nil {
			completed = append(completed, t)
		}
	}
	if len(completed) < w.nStartup {
		return false, nil
	}

	best := completed[0]
	for _, t := range completed[1:] {
		if goal == store.GoalMinimize {
			if *t.Score < *best.Score {
				best = t
			}
		} else if *t.Score > *best.Score {
			best = t
		}
	}

	pending, err := st.FetchTrial(ctx, trialID)
	if err != nil {
		return false, err
	}
	pendingVec := valuesByStep(pending.IntermediateValues)
	bestVec := valuesByStep(best.IntermediateValues)
	if len(pendingVec) == 0 || len(bestVec) == 0 {
		return false, nil
	}

	p := wilcoxonPValue(pendingVec, bestVec)
	pendingMean := mean(pendingVec)
	bestMean := mean(bestVec)
	pendingWorse := worseThan(pendingMean, bestMean, goal)

	return p < w.pThreshold && pendingWorse, nil
}

func valuesByStep(m map[int]float64) []float64 {
	if len(m) == 0 {
		return nil
	}
	steps := make([]int, 0, len(m))
	for s := range m {
		steps = append(steps, s)
	}
	sort.Ints(steps)
	out := make([]float64, len(steps))
	for i, s := range steps {
		out[i] = m[s]
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// wilcoxonPValue computes the two-tailed p-value of the Wilcoxon
// signed-rank test between a and b, padding the shorter vector with its
// own mean, dropping zero differences, and tie-averaging ranks of the
// absolute differences (mathkernel.Rank). It uses an exact enumeration of
// the 2^n sign assignments for n <= 10 and a continuity-corrected normal
// approximation above that.
func wilcoxonPValue(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	aPadded := padToMean(a, n)
	bPadded := padToMean(b, n)

	var diffs []float64
	for i := 0; i < n; i++ {
		d := aPadded[i] - bPadded[i]
		if d != 0 {
			diffs = append(diffs, d)
		}
	}
	m := len(diffs)
	if m == 0 {
		return 1.0
	}

	abs := make([]float64, m)
	for i, d := range diffs {
		abs[i] = math.Abs(d)
	}
	ranks := mathkernel.Rank(abs)

	wPlus, wMinus := 0.0, 0.0
	for i, d := range diffs {
		if d > 0 {
			wPlus += ranks[i]
		} else {
			wMinus += ranks[i]
		}
	}
	wObs := math.Min(wPlus, wMinus)

	if m <= 10 {
		return exactWilcoxonP(ranks, wObs)
	}
	return normalApproxWilcoxonP(wObs, m)
}

func padToMean(values []float64, n int) []float64 {
	if len(values) >= n {
		return values[:n]
	}
	out := make([]float64, n)
	copy(out, values)
	m := mean(values)
	for i := len(values); i < n; i++ {
		out[i] = m
	}
	return out
}

// exactWilcoxonP enumerates all 2^m sign assignments of ranks (m <= 10, so
// at most 1024 terms) to build the exact null distribution of W+, then
// returns the two-tailed probability of observing a W as extreme as wObs.
func exactWilcoxonP(ranks []float64, wObs float64) float64 {
	m := len(ranks)
	total := 1 << uint(m)
	countLE, countGE := 0, 0
	for mask := 0; mask < total; mask++ {
		wPlus := 0.0
		for i := 0; i < m; i++ {
			if mask&(1<<uint(i)) != 0 {
				wPlus += ranks[i]
			}
		}
		if wPlus <= wObs {
			countLE++
		}
		if wPlus >= wObs {
			countGE++
		}
	}
	p := 2.0 * math.Min(float64(countLE), float64(countGE)) / float64(total)
	if p > 1.0 {
		p = 1.0
	}
	return p
}

// normalApproxWilcoxonP applies the continuity-corrected normal
// approximation for n > 10, two-tailed, via mathkernel's normal CDF.
func normalApproxWilcoxonP(wObs float64, n int) float64 {
	nf := float64(n)
	mu := nf * (nf + 1) / 4
	sigma := math.Sqrt(nf * (nf + 1) * (2*nf + 1) / 24)
	if sigma == 0 {
		return 1.0
	}
	z := (wObs - mu + 0.5) / sigma
	p := 2 * mathkernel.NormalCDF(-math.Abs(z))
	if p > 1.0 {
		p = 1.0
	}
	return p
}

var _ Pruner = (*Wilcoxon)(nil)
