// Package estimator provides the statistical half of the verdict: a small
// random forest over the four request features, its offline training
// procedure, and a provider that loads the trained artifact.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"bot-admission-gateway/internal/core"
)

// FeatureNames is the column order of core.FeatureVector.Values.
var FeatureNames = []string{"request_rate", "path_diversity", "user_agent_score", "avg_inter_arrival"}

// ArtifactVersion is bumped whenever the JSON layout changes.
const ArtifactVersion = "forest/v1"

// Node is one split or leaf. Leaves carry the share of anomalous training
// samples that reached them.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Leaf      bool    `json:"leaf,omitempty"`
	Prob      float64 `json:"p"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is the persisted model artifact.
type Forest struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Seed      uint64    `json:"seed"`
	Features  []string  `json:"features"`
	Trees     []Tree    `json:"trees"`
}

// Predict implements core.Estimator.
func (f *Forest) Predict(features core.FeatureVector) (bool, float64) {
	p := f.Probability(features.Values())
	return p > 0.5, p
}

// Probability averages the leaf probabilities of every tree.
func (f *Forest) Probability(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].eval(x)
	}
	return sum / float64(len(f.Trees))
}

func (t *Tree) eval(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Prob
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Validate checks an artifact before it is allowed near the request path:
// children must point forward, so evaluation always terminates.
func (f *Forest) Validate() error {
	if f.Version != ArtifactVersion {
		return fmt.Errorf("unsupported model version %q", f.Version)
	}
	if len(f.Features) != len(FeatureNames) {
		return fmt.Errorf("model expects %d features, pipeline provides %d", len(f.Features), len(FeatureNames))
	}
	if len(f.Trees) == 0 {
		return errors.New("model has no trees")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if math.IsNaN(n.Prob) || n.Prob < 0 || n.Prob > 1 {
				return fmt.Errorf("tree %d node %d: probability %v out of range", ti, ni, n.Prob)
			}
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= len(FeatureNames) {
				return fmt.Errorf("tree %d node %d: bad feature %d", ti, ni, n.Feature)
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: bad children %d/%d", ti, ni, n.Left, n.Right)
			}
		}
	}
	return nil
}
