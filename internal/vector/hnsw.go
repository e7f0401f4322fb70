package vector

import (
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/vecpager/internal/models"
)

// maxLevelCap caps node levels against pathological hash values.
const maxLevelCap = 16

// ctxCheckEvery is how many node expansions pass between context checks.
const ctxCheckEvery = 64

type distItem struct {
	h    Handle
	dist float32
}

func closer(a, b distItem) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.h < b.h
}

// minDistHeap pops the closest item first.
type minDistHeap []distItem

func (q minDistHeap) Len() int           { return len(q) }
func (q minDistHeap) Less(i, j int) bool { return closer(q[i], q[j]) }
func (q minDistHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *minDistHeap) Push(x any)        { *q = append(*q, x.(distItem)) }
func (q *minDistHeap) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// maxDistHeap pops the farthest item first.
type maxDistHeap []distItem

func (q maxDistHeap) Len() int           { return len(q) }
func (q maxDistHeap) Less(i, j int) bool { return closer(q[j], q[i]) }
func (q maxDistHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *maxDistHeap) Push(x any)        { *q = append(*q, x.(distItem)) }
func (q *maxDistHeap) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

type hnswNode struct {
	vector  []float32
	level   int
	deleted bool
	friends [][]Handle
}

// HNSW is a hierarchical navigable small world graph.
//
// Node levels are derived from (Seed, handle), so inserting the same vectors
// in the same order always yields the same graph. Deleted nodes stay in the
// graph as routing points until the owner rebuilds the index.
type HNSW struct {
	cfg      Config
	nodes    []*hnswNode
	entry    int64
	maxLevel int
	live     int
	levelMul float64
}

var _ Index = (*HNSW)(nil)

// NewHNSW creates an empty graph index.
func NewHNSW(cfg Config) (*HNSW, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}
	if cfg.M < 2 {
		return nil, fmt.Errorf("m must be at least 2, got %d", cfg.M)
	}
	if cfg.EfConstruction <= 0 {
		return nil, fmt.Errorf("ef_construction must be positive, got %d", cfg.EfConstruction)
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	return &HNSW{
		cfg:      cfg,
		entry:    -1,
		levelMul: 1.0 / math.Log(float64(cfg.M)),
	}, nil
}

// Type returns IndexTypeHNSW.
func (g *HNSW) Type() IndexType { return IndexTypeHNSW }

// Config returns the construction parameters.
func (g *HNSW) Config() Config { return g.cfg }

// Len returns the number of live nodes.
func (g *HNSW) Len() int { return g.live }

// Slots returns the number of allocated handles.
func (g *HNSW) Slots() int { return len(g.nodes) }

// Tombstones returns the number of deleted nodes.
func (g *HNSW) Tombstones() int { return len(g.nodes) - g.live }

// Vector returns the vector of a live node.
func (g *HNSW) Vector(h Handle) ([]float32, bool) {
	if int(h) >= len(g.nodes) || g.nodes[h].deleted {
		return nil, false
	}
	return g.nodes[h].vector, true
}

func (g *HNSW) maxConns(layer int) int {
	if layer == 0 {
		return g.cfg.M * 2
	}
	return g.cfg.M
}

func (g *HNSW) dist(a []float32, h Handle) float32 {
	return g.cfg.Metric.Distance(a, g.nodes[h].vector)
}

// levelFor draws the level of a handle from an exponential distribution,
// P(level >= l) = M^-l, using a hash of (Seed, handle) as the uniform source.
func (g *HNSW) levelFor(h Handle) int {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], g.cfg.Seed)
	binary.LittleEndian.PutUint32(buf[8:], uint32(h))
	u := float64(xxhash.Sum64(buf[:])>>11) / float64(1<<53)
	u = math.Max(u, math.SmallestNonzeroFloat64)
	level := int(-math.Log(u) * g.levelMul)
	if level > maxLevelCap {
		level = maxLevelCap
	}
	return level
}

// Insert adds vec to the graph.
func (g *HNSW) Insert(vec []float32) (Handle, error) {
	if len(vec) != g.cfg.Dim {
		return 0, fmt.Errorf("insert: got %d, want %d: %w", len(vec), g.cfg.Dim, models.ErrDimensionMismatch)
	}
	if err := models.CheckFinite(vec); err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	if g.cfg.MaxElements > 0 && len(g.nodes) >= g.cfg.MaxElements {
		return 0, fmt.Errorf("insert: %d slots in use: %w", len(g.nodes), models.ErrCapacityExceeded)
	}
	if uint64(len(g.nodes)) >= math.MaxUint32 {
		return 0, fmt.Errorf("insert: handle space exhausted: %w", models.ErrCapacityExceeded)
	}

	v := make([]float32, len(vec))
	copy(v, vec)

	h := Handle(len(g.nodes))
	level := g.levelFor(h)
	nd := &hnswNode{vector: v, level: level, friends: make([][]Handle, level+1)}
	g.nodes = append(g.nodes, nd)
	g.live++
	g.link(h)
	return h, nil
}

// link connects an already-appended node into the graph.
func (g *HNSW) link(h Handle) {
	nd := g.nodes[h]
	if g.entry < 0 {
		g.entry = int64(h)
		g.maxLevel = nd.level
		return
	}

	cur := g.greedy(nd.vector, Handle(g.entry), g.maxLevel, nd.level)

	top := nd.level
	if top > g.maxLevel {
		top = g.maxLevel
	}
	ep := []Handle{cur}
	for lev := top; lev >= 0; lev-- {
		candidates, _ := g.searchLayer(context.Background(), nd.vector, ep, g.cfg.EfConstruction, lev, true)
		maxC := g.maxConns(lev)
		nd.friends[lev] = g.selectClosest(nd.vector, candidates, maxC)

		for _, n := range nd.friends[lev] {
			nn := g.nodes[n]
			if lev >= len(nn.friends) {
				continue
			}
			nn.friends[lev] = append(nn.friends[lev], h)
			if len(nn.friends[lev]) > maxC {
				nn.friends[lev] = g.selectClosest(nn.vector, nn.friends[lev], maxC)
			}
		}
		ep = candidates
	}

	if nd.level > g.maxLevel {
		g.entry = int64(h)
		g.maxLevel = nd.level
	}
}

// greedy walks from start down to layer stop+1, keeping the single closest node.
func (g *HNSW) greedy(q []float32, start Handle, from, stop int) Handle {
	cur := start
	curDist := g.dist(q, cur)
	for lev := from; lev > stop; lev-- {
		changed := true
		for changed {
			changed = false
			nd := g.nodes[cur]
			if lev >= len(nd.friends) {
				break
			}
			for _, f := range nd.friends[lev] {
				d := g.dist(q, f)
				if closer(distItem{f, d}, distItem{cur, curDist}) {
					cur, curDist = f, d
					changed = true
				}
			}
		}
	}
	return cur
}

// Delete tombstones h.
func (g *HNSW) Delete(h Handle) error {
	if int(h) >= len(g.nodes) || g.nodes[h].deleted {
		return fmt.Errorf("delete handle %d: %w", h, models.ErrNotFound)
	}
	g.nodes[h].deleted = true
	g.live--
	return nil
}

// Search returns the k live nodes closest to query.
func (g *HNSW) Search(ctx context.Context, query []float32, k, ef int) ([]Hit, error) {
	if len(query) != g.cfg.Dim {
		return nil, fmt.Errorf("search: got %d, want %d: %w", len(query), g.cfg.Dim, models.ErrDimensionMismatch)
	}
	if g.live == 0 || k <= 0 {
		return nil, nil
	}
	if ef < k {
		ef = k
	}

	cur := g.greedy(query, Handle(g.entry), g.maxLevel, 0)
	found, err := g.searchLayer(ctx, query, []Handle{cur}, ef, 0, false)

	hits := make([]Hit, 0, len(found))
	for _, h := range found {
		hits = append(hits, Hit{Handle: h, Distance: g.dist(query, h)})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, err
}

// searchLayer runs a beam search of width ef on one layer. Tombstoned nodes
// are expanded but only returned when withDeleted is set.
func (g *HNSW) searchLayer(ctx context.Context, q []float32, entryPoints []Handle, ef, layer int, withDeleted bool) ([]Handle, error) {
	visited := make(map[Handle]struct{}, ef*2)
	var candidates minDistHeap
	var results maxDistHeap

	admit := func(it distItem) {
		if g.nodes[it.h].deleted && !withDeleted {
			return
		}
		heap.Push(&results, it)
		if results.Len() > ef {
			heap.Pop(&results)
		}
	}

	for _, ep := range entryPoints {
		if _, seen := visited[ep]; seen {
			continue
		}
		visited[ep] = struct{}{}
		it := distItem{ep, g.dist(q, ep)}
		heap.Push(&candidates, it)
		admit(it)
	}

	var err error
	expanded := 0
	for candidates.Len() > 0 {
		if expanded%ctxCheckEvery == 0 {
			if err = ctx.Err(); err != nil {
				break
			}
		}
		expanded++

		c := heap.Pop(&candidates).(distItem)
		if results.Len() >= ef && closer(results[0], c) {
			break
		}
		nd := g.nodes[c.h]
		if layer >= len(nd.friends) {
			continue
		}
		for _, f := range nd.friends[layer] {
			if _, seen := visited[f]; seen {
				continue
			}
			visited[f] = struct{}{}
			it := distItem{f, g.dist(q, f)}
			if results.Len() < ef || closer(it, results[0]) {
				heap.Push(&candidates, it)
				admit(it)
			}
		}
	}

	out := make([]Handle, results.Len())
	for i := range out {
		out[i] = results[i].h
	}
	return out, err
}

// selectClosest keeps the maxN handles closest to q.
func (g *HNSW) selectClosest(q []float32, candidates []Handle, maxN int) []Handle {
	items := make([]distItem, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, distItem{c, g.dist(q, c)})
	}
	sort.Slice(items, func(i, j int) bool { return closer(items[i], items[j]) })
	if len(items) > maxN {
		items = items[:maxN]
	}
	out := make([]Handle, len(items))
	for i := range items {
		out[i] = items[i].h
	}
	return out
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		return closer(distItem{hits[i].Handle, hits[i].Distance}, distItem{hits[j].Handle, hits[j].Distance})
	})
}
