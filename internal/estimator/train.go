package estimator

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// TrainConfig controls the offline training job.
type TrainConfig struct {
	Samples  int
	Trees    int
	MaxDepth int
	MinLeaf  int
	Seed     uint64
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Samples:  1000,
		Trees:    50,
		MaxDepth: 5,
		MinLeaf:  1,
		Seed:     42,
	}
}

// Validate rejects configs that cannot produce a usable forest. Fewer than
// two samples leaves one class empty.
func (c TrainConfig) Validate() error {
	switch {
	case c.Samples < 2:
		return errors.New("samples must be at least 2")
	case c.Trees < 1:
		return errors.New("trees must be at least 1")
	case c.MaxDepth < 1:
		return errors.New("depth must be at least 1")
	case c.MinLeaf < 1:
		return errors.New("min leaf must be at least 1")
	}
	return nil
}

// SyntheticData builds a balanced labelled set from the two archetypes.
// Label 0 is normal traffic, label 1 is automated.
func SyntheticData(n int, rng *rand.Rand) ([][]float64, []int) {
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	X := make([][]float64, 0, n)
	y := make([]int, 0, n)

	for i := 0; i < n/2; i++ {
		X = append(X, []float64{
			uniform(1, 20),  // low rate
			uniform(0.5, 1), // browses many pages
			1.0,             // clean UA
			uniform(2, 60),  // human click cadence
		})
		y = append(y, 0)
	}

	for i := 0; i < n/2; i++ {
		if rng.Float64() > 0.5 {
			// high-rate bot hitting the same endpoints
			ua := 0.0
			if rng.IntN(2) == 1 {
				ua = 0.5
			}
			X = append(X, []float64{uniform(40, 100), uniform(0.1, 0.4), ua, uniform(0.01, 1)})
		} else {
			// slow but repetitive scraper
			X = append(X, []float64{uniform(5, 30), uniform(0, 0.2), 0.0, uniform(1, 5)})
		}
		y = append(y, 1)
	}

	return X, y
}

// Train fits a random forest on freshly generated synthetic data.
func Train(cfg TrainConfig) *Forest {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	X, y := SyntheticData(cfg.Samples, rng)
	return Fit(X, y, cfg, rng)
}

// Fit grows cfg.Trees trees on bootstrap resamples of X.
func Fit(X [][]float64, y []int, cfg TrainConfig, rng *rand.Rand) *Forest {
	f := &Forest{
		Version:   ArtifactVersion,
		TrainedAt: time.Now().UTC(),
		Seed:      cfg.Seed,
		Features:  append([]string(nil), FeatureNames...),
		Trees:     make([]Tree, 0, cfg.Trees),
	}

	minLeaf := cfg.MinLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}
	g := grower{X: X, y: y, maxDepth: cfg.MaxDepth, minLeaf: minLeaf, rng: rng}
	g.mtry = int(math.Sqrt(float64(len(FeatureNames))))

	for t := 0; t < cfg.Trees; t++ {
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = rng.IntN(len(X))
		}
		tree := &Tree{}
		g.grow(tree, idx, 0)
		f.Trees = append(f.Trees, *tree)
	}
	return f
}

type grower struct {
	X        [][]float64
	y        []int
	maxDepth int
	minLeaf  int
	mtry     int
	rng      *rand.Rand
}

func (g *grower) grow(t *Tree, idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += g.y[i]
	}
	prob := float64(pos) / float64(len(idx))

	at := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Leaf: true, Prob: prob})

	if depth >= g.maxDepth || pos == 0 || pos == len(idx) || len(idx) < 2*g.minLeaf {
		return at
	}

	feature, threshold, ok := g.bestSplit(idx, pos)
	if !ok {
		return at
	}

	var left, right []int
	for _, i := range idx {
		if g.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := g.grow(t, left, depth+1)
	r := g.grow(t, right, depth+1)
	t.Nodes[at] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Prob: prob}
	return at
}

// bestSplit searches mtry random features for the threshold with the lowest
// weighted gini impurity.
func (g *grower) bestSplit(idx []int, pos int) (int, float64, bool) {
	n := len(idx)
	best := float64(n) * gini(pos, n)
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, n)
	for _, feature := range g.rng.Perm(len(FeatureNames))[:g.mtry] {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, b int) bool { return g.X[sorted[a]][feature] < g.X[sorted[b]][feature] })

		leftPos := 0
		for k := 1; k < n; k++ {
			leftPos += g.y[sorted[k-1]]
			lo, hi := g.X[sorted[k-1]][feature], g.X[sorted[k]][feature]
			if lo == hi || k < g.minLeaf || n-k < g.minLeaf {
				continue
			}
			impurity := float64(k)*gini(leftPos, k) + float64(n-k)*gini(pos-leftPos, n-k)
			if impurity < best {
				best = impurity
				bestFeature = feature
				bestThreshold = (lo + hi) / 2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
