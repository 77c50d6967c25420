package training

import (
	"math"

	"StockSense/internal/domain/models"
)

// treeParams are the per-tree growth constraints derived from BoosterParams.
type treeParams struct {
	growth          string
	numLeaves       int
	maxDepth        int
	l1, l2          float64
	minSplitGain    float64
	minChildSamples int
}

type split struct {
	feature int
	bin     int
	gain    float64
	gl, hl  float64
}

// growNode is a leaf under construction.
type growNode struct {
	id    int
	idx   []int
	g, h  float64
	depth int
	best  *split
}

// growTree fits one regression tree to the gradients grad (unit hessians) over
// the rows in idx, considering only the given features.
func growTree(bins [][]uint8, b *binner, grad []float64, idx []int, feats []int, p treeParams) models.Tree {
	var t models.Tree
	root := &growNode{id: 0, idx: idx}
	for _, i := range idx {
		root.g += grad[i]
		root.h++
	}
	t.Nodes = append(t.Nodes, models.TreeNode{Feature: -1, Value: leafValue(root.g, root.h, p)})
	root.best = findSplit(bins, b, grad, root, feats, p)

	open := []*growNode{root}
	leaves := 1
	for leaves < p.numLeaves && len(open) > 0 {
		pick := pickLeaf(open, p.growth)
		if pick < 0 {
			break
		}
		n := open[pick]
		open = append(open[:pick], open[pick+1:]...)

		s := n.best
		var left, right []int
		for _, i := range n.idx {
			if int(bins[s.feature][i]) <= s.bin {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		l := &growNode{id: len(t.Nodes), idx: left, g: s.gl, h: s.hl, depth: n.depth + 1}
		r := &growNode{id: len(t.Nodes) + 1, idx: right, g: n.g - s.gl, h: n.h - s.hl, depth: n.depth + 1}
		t.Nodes = append(t.Nodes,
			models.TreeNode{Feature: -1, Value: leafValue(l.g, l.h, p)},
			models.TreeNode{Feature: -1, Value: leafValue(r.g, r.h, p)},
		)
		t.Nodes[n.id] = models.TreeNode{
			Feature:   s.feature,
			Threshold: b.threshold(s.feature, s.bin),
			Left:      l.id,
			Right:     r.id,
		}
		leaves++

		for _, c := range []*growNode{l, r} {
			if p.maxDepth <= 0 || c.depth < p.maxDepth {
				c.best = findSplit(bins, b, grad, c, feats, p)
			}
			open = append(open, c)
		}
	}
	return t
}

// pickLeaf chooses the next leaf to split: the highest gain for leaf-wise
// growth, the shallowest (then oldest) for depth-wise growth. Returns -1 when no
// leaf has a valid split.
func pickLeaf(open []*growNode, growth string) int {
	pick := -1
	for i, n := range open {
		if n.best == nil {
			continue
		}
		if pick < 0 {
			pick = i
			continue
		}
		cur := open[pick]
		if growth == models.GrowthDepthWise {
			if n.depth < cur.depth {
				pick = i
			}
			continue
		}
		if n.best.gain > cur.best.gain {
			pick = i
		}
	}
	return pick
}

func findSplit(bins [][]uint8, b *binner, grad []float64, n *growNode, feats []int, p treeParams) *split {
	if len(n.idx) < 2*p.minChildSamples || len(n.idx) < 2 {
		return nil
	}
	parent := score(n.g, n.h, p)
	var best *split
	for _, f := range feats {
		nb := b.numBins(f)
		if nb < 2 {
			continue
		}
		hg := make([]float64, nb)
		hh := make([]float64, nb)
		col := bins[f]
		for _, i := range n.idx {
			k := col[i]
			hg[k] += grad[i]
			hh[k]++
		}
		gl, hl := 0.0, 0.0
		for k := 0; k < nb-1; k++ {
			gl += hg[k]
			hl += hh[k]
			hr := n.h - hl
			if hl < float64(p.minChildSamples) || hr < float64(p.minChildSamples) || hl == 0 || hr == 0 {
				continue
			}
			gain := score(gl, hl, p) + score(n.g-gl, hr, p) - parent
			if gain <= p.minSplitGain || gain <= 1e-12 {
				continue
			}
			if best == nil || gain > best.gain {
				best = &split{feature: f, bin: k, gain: gain, gl: gl, hl: hl}
			}
		}
	}
	return best
}

// thresholdL1 soft-thresholds a gradient sum by the L1 penalty.
func thresholdL1(g, l1 float64) float64 {
	if g > l1 {
		return g - l1
	}
	if g < -l1 {
		return g + l1
	}
	return 0
}

func score(g, h float64, p treeParams) float64 {
	t := thresholdL1(g, p.l1)
	return t * t / (h + p.l2)
}

func leafValue(g, h float64, p treeParams) float64 {
	if h == 0 {
		return 0
	}
	return -thresholdL1(g, p.l1) / (h + p.l2)
}

// predictTree walks a fitted tree for one raw feature row.
func predictTree(t *models.Tree, x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 || n.Feature >= len(x) {
			return n.Value
		}
		v := x[n.Feature]
		if v <= n.Threshold || math.IsNaN(v) {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
