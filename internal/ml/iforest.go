package ml

import (
	"fmt"
	"math"
)

const eulerGamma = 0.5772156649

// RobustScaler centers and scales each feature independently
type RobustScaler struct {
	Center []float64 `yaml:"center" json:"center"`
	Scale  []float64 `yaml:"scale" json:"scale"`
}

// Transform returns (x - center) / scale; a zero scale is treated as 1
func (s *RobustScaler) Transform(x FeatureVector) (FeatureVector, error) {
	if len(s.Center) != FeatureCount || len(s.Scale) != FeatureCount {
		return FeatureVector{}, fmt.Errorf("scaler expects %d features, has center=%d scale=%d",
			FeatureCount, len(s.Center), len(s.Scale))
	}

	var out FeatureVector
	for i := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (x[i] - s.Center[i]) / scale
	}
	return out, nil
}

// TreeNode is one node of a flattened isolation tree. A node with a
// negative Left index is a leaf holding Size training samples.
type TreeNode struct {
	Feature   int     `yaml:"feature" json:"feature"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Left      int     `yaml:"left" json:"left"`
	Right     int     `yaml:"right" json:"right"`
	Size      int     `yaml:"size" json:"size"`
}

// Tree is an isolation tree rooted at Nodes[0]
type Tree struct {
	Nodes []TreeNode `yaml:"nodes" json:"nodes"`
}

// IsolationForest evaluates a fitted isolation forest
type IsolationForest struct {
	MaxSamples int     `yaml:"max_samples" json:"max_samples"`
	Offset     float64 `yaml:"offset" json:"offset"`
	Trees      []Tree  `yaml:"trees" json:"trees"`
}

// Score returns -2^(-E[h(x)]/c(max_samples)) - offset
func (f *IsolationForest) Score(x FeatureVector) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("forest has no trees")
	}

	total := 0.0
	for i := range f.Trees {
		h, err := f.Trees[i].pathLength(x)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		total += h
	}
	mean := total / float64(len(f.Trees))

	norm := averagePathLength(float64(f.MaxSamples))
	if norm == 0 {
		return 0, fmt.Errorf("max_samples %d gives zero normalization", f.MaxSamples)
	}
	return -math.Pow(2, -mean/norm) - f.Offset, nil
}

func (t *Tree) pathLength(x FeatureVector) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, fmt.Errorf("empty tree")
	}

	idx, depth := 0, 0
	for {
		node := t.Nodes[idx]
		if node.Left < 0 {
			return float64(depth) + averagePathLength(float64(node.Size)), nil
		}
		if node.Feature < 0 || node.Feature >= FeatureCount {
			return 0, fmt.Errorf("node %d splits on feature %d", idx, node.Feature)
		}

		next := node.Right
		if x[node.Feature] <= node.Threshold {
			next = node.Left
		}
		if next < 0 || next >= len(t.Nodes) || depth >= len(t.Nodes) {
			return 0, fmt.Errorf("node %d points outside the tree", idx)
		}
		idx = next
		depth++
	}
}

// averagePathLength is c(n), the mean path length of an unsuccessful
// search in a binary search tree of n points
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}
