package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"DigitCast/internal/domain/models"
	domsvc "DigitCast/internal/domain/service"
	"DigitCast/internal/services/features"
)

// GBDTConfig holds the boosting hyperparameters. They are fixed for the lifetime of a trainer.
type GBDTConfig struct {
	Estimators     int
	LearningRate   float64
	MaxDepth       int
	Subsample      float64
	MinSamplesLeaf int
	Seed           int64
}

// DefaultGBDTConfig returns moderate boosting defaults.
func DefaultGBDTConfig() GBDTConfig {
	return GBDTConfig{
		Estimators:     100,
		LearningRate:   0.1,
		MaxDepth:       3,
		Subsample:      1.0,
		MinSamplesLeaf: 1,
		Seed:           42,
	}
}

func (c GBDTConfig) validate() error {
	if c.Estimators <= 0 {
		return fmt.Errorf("estimators must be > 0, got %d", c.Estimators)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0, got %v", c.LearningRate)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("max_depth must be > 0, got %d", c.MaxDepth)
	}
	if c.Subsample <= 0 || c.Subsample > 1 {
		return fmt.Errorf("subsample must be in (0,1], got %v", c.Subsample)
	}
	if c.MinSamplesLeaf <= 0 {
		return fmt.Errorf("min_samples_leaf must be > 0, got %d", c.MinSamplesLeaf)
	}
	return nil
}

// GBDTTrainer fits multi-class gradient boosted regression trees with softmax loss.
type GBDTTrainer struct {
	cfg GBDTConfig
}

func NewGBDTTrainer(cfg GBDTConfig) (*GBDTTrainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("gbdt config: %w", err)
	}
	return &GBDTTrainer{cfg: cfg}, nil
}

func (t *GBDTTrainer) Name() string { return BackendGBDT }

func (t *GBDTTrainer) Train(ctx context.Context, rows []models.FeatureRow) (domsvc.Model, error) {
	if len(rows) == 0 {
		return nil, models.ErrEmptyTable
	}
	k := len(rows[0].Window)
	if err := features.Validate(rows, k); err != nil {
		return nil, err
	}

	n := len(rows)
	counts := features.LabelCounts(rows)
	classes := make([]int, 0, models.NumSymbols)
	for c, cnt := range counts {
		if cnt > 0 {
			classes = append(classes, c)
		}
	}

	m := &gbdtModel{k: k, lr: t.cfg.LearningRate, classes: classes}
	for c := range m.prior {
		if counts[c] == 0 {
			m.prior[c] = math.Inf(-1)
			continue
		}
		m.prior[c] = math.Log(float64(counts[c]) / float64(n))
	}
	if len(classes) < 2 {
		return m, nil
	}

	x := make([][]uint8, n)
	y := make([]int, n)
	raw := make([][models.NumSymbols]float64, n)
	for i, r := range rows {
		x[i] = make([]uint8, k)
		for j, s := range r.Window {
			x[i][j] = uint8(s)
		}
		y[i] = int(r.Next)
		raw[i] = m.prior
	}

	rng := rand.New(rand.NewSource(t.cfg.Seed))
	nSub := int(math.Round(t.cfg.Subsample * float64(n)))
	if nSub < 1 {
		nSub = 1
	}
	if nSub > n {
		nSub = n
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	scale := float64(len(classes)-1) / float64(len(classes))
	probs := make([][models.NumSymbols]float64, n)
	resid := make([]float64, n)
	b := &treeBuilder{x: x, k: k, maxDepth: t.cfg.MaxDepth, minLeaf: t.cfg.MinSamplesLeaf, scale: scale}

	for stage := 0; stage < t.cfg.Estimators; stage++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gbdt train: %w", err)
		}
		for i := range raw {
			probs[i] = softmax(raw[i], classes)
		}

		sample := all
		if nSub < n {
			perm := rng.Perm(n)[:nSub]
			sort.Ints(perm)
			sample = perm
		}

		stageTrees := make([]*tree, len(classes))
		for ci, c := range classes {
			for i := range resid {
				target := 0.0
				if y[i] == c {
					target = 1
				}
				resid[i] = target - probs[i][c]
			}
			b.resid = resid
			tr := b.build(sample)
			stageTrees[ci] = tr
			for i := range raw {
				raw[i][c] += m.lr * tr.eval(x[i])
			}
		}
		m.stages = append(m.stages, stageTrees)
	}
	return m, nil
}

type gbdtModel struct {
	k       int
	lr      float64
	prior   [models.NumSymbols]float64
	classes []int
	stages  [][]*tree
}

func (m *gbdtModel) WindowSize() int { return m.k }

func (m *gbdtModel) Distribution(_ context.Context, w models.Window) (models.Distribution, error) {
	if err := checkWindow(w, m.k); err != nil {
		return models.Distribution{}, err
	}
	x := make([]uint8, len(w))
	for i, s := range w {
		x[i] = uint8(s)
	}
	raw := m.prior
	for _, st := range m.stages {
		for ci, c := range m.classes {
			raw[c] += m.lr * st[ci].eval(x)
		}
	}
	return models.Distribution(softmax(raw, m.classes)), nil
}

// softmax over the given classes; other entries are zero.
func softmax(raw [models.NumSymbols]float64, classes []int) [models.NumSymbols]float64 {
	var out [models.NumSymbols]float64
	maxv := math.Inf(-1)
	for _, c := range classes {
		if raw[c] > maxv {
			maxv = raw[c]
		}
	}
	var sum float64
	for _, c := range classes {
		e := math.Exp(raw[c] - maxv)
		out[c] = e
		sum += e
	}
	if sum == 0 {
		return out
	}
	for _, c := range classes {
		out[c] /= sum
	}
	return out
}

// tree is a depth-limited regression tree over ordinal features in [0,9].
type tree struct {
	nodes []node
}

type node struct {
	leaf      bool
	feature   int
	threshold uint8 // x[feature] <= threshold goes left
	left      int
	right     int
	value     float64
}

func (t *tree) eval(x []uint8) float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.leaf {
			return n.value
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

type treeBuilder struct {
	x        [][]uint8
	resid    []float64
	k        int
	maxDepth int
	minLeaf  int
	scale    float64
}

func (b *treeBuilder) build(idx []int) *tree {
	capacity := 2 * len(idx)
	if b.maxDepth < 16 && 1<<(b.maxDepth+1) < capacity {
		capacity = 1 << (b.maxDepth + 1)
	}
	t := &tree{nodes: make([]node, 0, capacity)}
	b.grow(t, idx, 0)
	return t
}

func (b *treeBuilder) grow(t *tree, idx []int, depth int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, node{})

	feat, thr, ok := -1, uint8(0), false
	if depth < b.maxDepth && len(idx) >= 2*b.minLeaf {
		feat, thr, ok = b.bestSplit(idx)
	}
	if !ok {
		t.nodes[id] = node{leaf: true, value: b.leafValue(idx)}
		return id
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.x[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.nodes[id] = node{feature: feat, threshold: thr, left: l, right: r}
	return id
}

// bestSplit maximises squared-error reduction. Ties keep the lowest feature and threshold.
func (b *treeBuilder) bestSplit(idx []int) (int, uint8, bool) {
	var total float64
	for _, i := range idx {
		total += b.resid[i]
	}
	n := float64(len(idx))
	base := total * total / n

	bestGain := 1e-12
	bestFeat, bestThr, found := -1, uint8(0), false
	for f := 0; f < b.k; f++ {
		var sum [models.NumSymbols]float64
		var cnt [models.NumSymbols]int
		for _, i := range idx {
			v := b.x[i][f]
			sum[v] += b.resid[i]
			cnt[v]++
		}
		var sl float64
		nl := 0
		for thr := 0; thr < models.NumSymbols-1; thr++ {
			sl += sum[thr]
			nl += cnt[thr]
			nr := len(idx) - nl
			if nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			if cnt[thr] == 0 {
				// same partition as the previous threshold
				continue
			}
			sr := total - sl
			gain := sl*sl/float64(nl) + sr*sr/float64(nr) - base
			if gain > bestGain {
				bestGain, bestFeat, bestThr, found = gain, f, uint8(thr), true
			}
		}
	}
	return bestFeat, bestThr, found
}

// leafValue is a single Newton step for the multinomial deviance.
func (b *treeBuilder) leafValue(idx []int) float64 {
	var num, den float64
	for _, i := range idx {
		r := b.resid[i]
		num += r
		a := math.Abs(r)
		den += a * (1 - a)
	}
	if den < 1e-150 {
		return 0
	}
	return b.scale * num / den
}
