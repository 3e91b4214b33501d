package models

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

// BoostParams tunes the tree ensemble.
type BoostParams struct {
	Rounds         int     `yaml:"rounds" json:"rounds"`
	MaxDepth       int     `yaml:"max_depth" json:"max_depth"`
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	MinSamplesLeaf int     `yaml:"min_samples_leaf" json:"min_samples_leaf"`
	LeafL2         float64 `yaml:"leaf_l2" json:"leaf_l2"`
	BaseL2         float64 `yaml:"base_l2" json:"base_l2"`
}

// DefaultBoostParams returns 100 rounds of depth-6 trees at learning rate 0.1.
func DefaultBoostParams() BoostParams {
	return BoostParams{
		Rounds:         100,
		MaxDepth:       6,
		LearningRate:   0.1,
		MinSamplesLeaf: 2,
		LeafL2:         1,
		BaseL2:         1,
	}
}

// Validate rejects parameters the fitter cannot use.
func (p BoostParams) Validate() error {
	switch {
	case p.Rounds < 0:
		return fmt.Errorf("rounds %d must be >= 0", p.Rounds)
	case p.MaxDepth < 1:
		return fmt.Errorf("max depth %d must be >= 1", p.MaxDepth)
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return fmt.Errorf("learning rate %v must be in (0, 1]", p.LearningRate)
	case p.MinSamplesLeaf < 1:
		return fmt.Errorf("min samples per leaf %d must be >= 1", p.MinSamplesLeaf)
	case p.LeafL2 < 0 || p.BaseL2 < 0:
		return errors.New("l2 penalties must be >= 0")
	}
	return nil
}

// minSplitGain stops splits that only separate rounding noise.
const minSplitGain = 1e-10

// treeNode is a flattened tree node. Left == 0 marks a leaf: the root sits
// at index 0 and can never be a child.
type treeNode struct {
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t regressionTree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left == 0 {
			return n.Value
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// boostedModel is a linear base margin plus shrunken regression trees fitted
// to its residuals under squared loss.
type boostedModel struct {
	Base         linearModel      `json:"base"`
	LearningRate float64          `json:"learning_rate"`
	Trees        []regressionTree `json:"trees"`
}

func (m *boostedModel) predict(x []float64) float64 {
	y := m.Base.predict(x)
	for _, t := range m.Trees {
		y += m.LearningRate * t.predict(x)
	}
	return y
}

// fitBoosted fits the ensemble. Ties between equally good splits resolve to
// the lowest feature index and threshold, so fitting is deterministic.
func fitBoosted(rows [][]float64, y []float64, p BoostParams) (*boostedModel, error) {
	base, err := fitLinear(rows, y, p.BaseL2)
	if err != nil {
		return nil, err
	}
	m := &boostedModel{Base: base, LearningRate: p.LearningRate}

	residuals := make([]float64, len(y))
	for i, r := range rows {
		residuals[i] = y[i] - base.predict(r)
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}

	for round := 0; round < p.Rounds; round++ {
		g := &treeGrower{rows: rows, residuals: residuals, params: p}
		g.grow(slices.Clone(idx), 0)
		tree := regressionTree{Nodes: g.nodes}
		if len(tree.Nodes) == 1 && math.Abs(tree.Nodes[0].Value) < minSplitGain {
			break
		}
		m.Trees = append(m.Trees, tree)
		for i, r := range rows {
			residuals[i] -= p.LearningRate * tree.predict(r)
		}
	}
	return m, nil
}

type treeGrower struct {
	rows      [][]float64
	residuals []float64
	params    BoostParams
	nodes     []treeNode
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

func (g *treeGrower) grow(idx []int, depth int) int {
	node := len(g.nodes)
	g.nodes = append(g.nodes, treeNode{})

	sum := 0.0
	for _, i := range idx {
		sum += g.residuals[i]
	}
	leaf := treeNode{Value: sum / (float64(len(idx)) + g.params.LeafL2)}

	if depth >= g.params.MaxDepth || len(idx) < 2*g.params.MinSamplesLeaf {
		g.nodes[node] = leaf
		return node
	}
	s, ok := g.bestSplit(idx, sum)
	if !ok {
		g.nodes[node] = leaf
		return node
	}

	var left, right []int
	for _, i := range idx {
		if g.rows[i][s.feature] < s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		g.nodes[node] = leaf
		return node
	}
	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)
	g.nodes[node] = treeNode{Feature: s.feature, Threshold: s.threshold, Left: l, Right: r}
	return node
}

func (g *treeGrower) bestSplit(idx []int, total float64) (split, bool) {
	lambda := g.params.LeafL2
	minLeaf := g.params.MinSamplesLeaf
	n := len(idx)
	parent := total * total / (float64(n) + lambda)

	best := split{gain: minSplitGain}
	found := false
	sorted := slices.Clone(idx)
	for f := range g.rows[idx[0]] {
		slices.SortStableFunc(sorted, func(a, b int) int {
			return cmp.Compare(g.rows[a][f], g.rows[b][f])
		})

		left := 0.0
		for pos := 1; pos < n; pos++ {
			left += g.residuals[sorted[pos-1]]
			if pos < minLeaf || n-pos < minLeaf {
				continue
			}
			lo, hi := g.rows[sorted[pos-1]][f], g.rows[sorted[pos]][f]
			if lo == hi {
				continue
			}
			right := total - left
			gain := left*left/(float64(pos)+lambda) + right*right/(float64(n-pos)+lambda) - parent
			if gain > best.gain {
				threshold := lo + (hi-lo)/2
				if threshold <= lo {
					threshold = hi
				}
				best = split{feature: f, threshold: threshold, gain: gain}
				found = true
			}
		}
	}
	return best, found
}
