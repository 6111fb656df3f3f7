package hydro

import (
	"cmp"
	"container/heap"
	"context"
	"fmt"
	"math"
	"slices"

	"watershed/pkg/raster"
)

// DefaultMaxFillIterations caps the verified fill passes of Resolve.
const DefaultMaxFillIterations = 8

// ctxCheckEvery is how many queue pops run between context checks.
const ctxCheckEvery = 4096

// ResolveOptions controls depression resolution.
type ResolveOptions struct {
	// MaxBreachDistance is the breach search radius in cells. Zero disables
	// breaching and every depression is filled.
	MaxBreachDistance int
	// MaxIterations caps fill passes; zero selects DefaultMaxFillIterations.
	MaxIterations int
}

// ResolveStats reports what conditioning changed.
type ResolveStats struct {
	Pits     int // depressions (single cells or flat clusters) found before breaching
	Breached int // depressions drained by carving a channel
	Carved   int // cells lowered while breaching
	Raised   int // cells raised by filling
	Passes   int // fill passes run
}

// Resolve removes depressions from dem so that every valid cell away from the
// data edge has a strictly lower neighbour. Depressions are first breached
// along the cheapest path to a lower cell, or a data-edge cell at or below
// their level, within MaxBreachDistance; whatever remains is filled to its
// spill elevation. No-data cells are left untouched.
func Resolve(ctx context.Context, dem *raster.Raster, opts ResolveOptions) (*raster.Raster, error) {
	out, _, err := ResolveWithStats(ctx, dem, opts)
	return out, err
}

// ResolveWithStats is Resolve that also reports what changed.
func ResolveWithStats(ctx context.Context, dem *raster.Raster, opts ResolveOptions) (*raster.Raster, ResolveStats, error) {
	var stats ResolveStats
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxFillIterations
	}
	if opts.MaxBreachDistance < 0 {
		return nil, stats, fmt.Errorf("hydro: negative breach distance %d", opts.MaxBreachDistance)
	}
	c := newConditioner(dem)

	if opts.MaxBreachDistance > 0 {
		deps := c.depressions()
		stats.Pits = len(deps)
		for _, d := range deps {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
			if !c.stillDepression(d) {
				continue
			}
			if n := c.breach(d, opts.MaxBreachDistance); n > 0 {
				stats.Breached++
				stats.Carved += n
			}
		}
	}

	prev := math.MaxInt
	for pass := 1; ; pass++ {
		stats.Passes = pass
		raised, err := c.fill(ctx)
		if err != nil {
			return nil, stats, err
		}
		stats.Raised += raised
		left, first := c.unresolved()
		if left == 0 {
			break
		}
		if left >= prev || pass >= opts.MaxIterations {
			r, col := c.g.RowCol(first)
			return nil, stats, &CellError{
				Err:    ErrUnresolvableDepression,
				Row:    r,
				Col:    col,
				Detail: fmt.Sprintf("%d cells without a downslope neighbour after %d passes", left, pass),
			}
		}
		prev = left
	}
	return raster.Adopt(c.g, c.z, dem.NoData()), stats, nil
}

type conditioner struct {
	g     raster.Geometry
	z     []float64
	valid []bool
	edge  []bool
}

func newConditioner(dem *raster.Raster) *conditioner {
	g := dem.Geometry()
	c := &conditioner{g: g, z: dem.Values(), valid: make([]bool, g.Len()), edge: make([]bool, g.Len())}
	for i := range c.z {
		c.valid[i] = dem.ValidIndex(i)
	}
	for i := range c.z {
		c.edge[i] = c.valid[i] && isDataEdge(g, c.valid, i)
	}
	return c
}

// isDataEdge reports whether a valid cell sits on the grid border or next to
// no-data, where water may leave the surface.
func isDataEdge(g raster.Geometry, valid []bool, i int) bool {
	r, c := g.RowCol(i)
	if g.IsBorder(r, c) {
		return true
	}
	for _, n := range neighbours {
		if !valid[g.Index(r+n.dr, c+n.dc)] {
			return true
		}
	}
	return false
}

func (c *conditioner) hasLowerNeighbour(i int, orEqual bool) bool {
	r, col := c.g.RowCol(i)
	for _, n := range neighbours {
		rr, cc := r+n.dr, col+n.dc
		if !c.g.InBounds(rr, cc) {
			continue
		}
		j := c.g.Index(rr, cc)
		if !c.valid[j] {
			continue
		}
		if c.z[j] < c.z[i] || (orEqual && c.z[j] == c.z[i]) {
			return true
		}
	}
	return false
}

// depression is a connected group of equal-elevation interior cells none of
// which has a strictly lower neighbour. A single-cell pit is a group of one.
type depression struct {
	cells []int
	z     float64
}

// depressions labels every depression, lowest first. Flat groups touching the
// data edge drain there and are left to the fill.
func (c *conditioner) depressions() []depression {
	seen := make([]bool, len(c.z))
	var out []depression
	for i := range c.z {
		if seen[i] || !c.valid[i] {
			continue
		}
		z := c.z[i]
		group := []int{i}
		seen[i] = true
		closed := true
		for k := 0; k < len(group); k++ {
			j := group[k]
			if c.edge[j] || c.hasLowerNeighbour(j, false) {
				closed = false
			}
			r, col := c.g.RowCol(j)
			for _, n := range neighbours {
				rr, cc := r+n.dr, col+n.dc
				if !c.g.InBounds(rr, cc) {
					continue
				}
				m := c.g.Index(rr, cc)
				if seen[m] || !c.valid[m] || c.z[m] != z {
					continue
				}
				seen[m] = true
				group = append(group, m)
			}
		}
		if closed {
			slices.Sort(group)
			out = append(out, depression{cells: group, z: z})
		}
	}
	slices.SortStableFunc(out, func(a, b depression) int {
		if v := cmp.Compare(a.z, b.z); v != 0 {
			return v
		}
		return cmp.Compare(a.cells[0], b.cells[0])
	})
	return out
}

// stillDepression reports whether earlier carving left d intact.
func (c *conditioner) stillDepression(d depression) bool {
	for _, i := range d.cells {
		if c.z[i] != d.z || c.hasLowerNeighbour(i, false) {
			return false
		}
	}
	return true
}

// reach returns the cells within radius (Chebyshev distance) of any cell in
// cells, whether or not they hold data.
func (c *conditioner) reach(cells []int, radius int) map[int]bool {
	in := make(map[int]bool, len(cells))
	frontier := make([]int, 0, len(cells))
	for _, i := range cells {
		in[i] = true
		frontier = append(frontier, i)
	}
	for step := 0; step < radius && len(frontier) > 0; step++ {
		var next []int
		for _, i := range frontier {
			r, col := c.g.RowCol(i)
			for _, n := range neighbours {
				rr, cc := r+n.dr, col+n.dc
				if !c.g.InBounds(rr, cc) {
					continue
				}
				j := c.g.Index(rr, cc)
				if !in[j] {
					in[j] = true
					next = append(next, j)
				}
			}
		}
		frontier = next
	}
	return in
}

// unresolved counts interior cells still lacking a strictly lower neighbour
// and returns the first one found.
func (c *conditioner) unresolved() (int, int) {
	n, first := 0, -1
	for i := range c.z {
		if !c.valid[i] || c.edge[i] || c.hasLowerNeighbour(i, false) {
			continue
		}
		if first < 0 {
			first = i
		}
		n++
	}
	return n, first
}

// breach searches for the cheapest path from any cell of d to a strictly
// lower cell, or a data-edge cell no higher than d, within radius cells, and
// carves it to a strictly decreasing profile. An edge target at the level of
// d is lowered below the last carved cell. It returns the number of cells
// lowered, zero when no usable path exists.
func (c *conditioner) breach(d depression, radius int) int {
	zp := d.z
	within := c.reach(d.cells, radius)
	member := make(map[int]bool, len(d.cells))

	cost := map[int]float64{}
	from := map[int]int{}
	done := map[int]bool{}
	q := &cellQueue{}
	for _, i := range d.cells {
		member[i] = true
		cost[i] = 0
		heap.Push(q, cellItem{key: 0, idx: i})
	}
	target := -1
	for q.Len() > 0 {
		it := heap.Pop(q).(cellItem)
		if done[it.idx] {
			continue
		}
		done[it.idx] = true
		if !member[it.idx] && (c.z[it.idx] < zp || (c.edge[it.idx] && c.z[it.idx] <= zp)) {
			target = it.idx
			break
		}
		r, col := c.g.RowCol(it.idx)
		for _, n := range neighbours {
			rr, cc := r+n.dr, col+n.dc
			if !c.g.InBounds(rr, cc) {
				continue
			}
			j := c.g.Index(rr, cc)
			if !within[j] || !c.valid[j] || done[j] || member[j] {
				continue
			}
			nc := it.key + math.Max(0, c.z[j]-zp)
			if old, seen := cost[j]; seen && old <= nc {
				continue
			}
			cost[j] = nc
			from[j] = it.idx
			heap.Push(q, cellItem{key: nc, idx: j})
		}
	}
	if target < 0 {
		return 0
	}

	// path runs depression cell -> ... -> target
	var path []int
	i := target
	for ; !member[i]; i = from[i] {
		path = append(path, i)
	}
	path = append(path, i)
	slices.Reverse(path)

	steps := len(path) - 1
	zt := c.z[target]
	lowerTarget := zt >= zp
	zEnd := zt
	if lowerTarget {
		zEnd = zp
	}
	profile := make([]float64, steps+1)
	prev := zp
	for k := 1; k < steps; k++ {
		v := zp - (zp-zEnd)*float64(k)/float64(steps)
		v = math.Min(v, c.z[path[k]])
		if v >= prev {
			v = math.Nextafter(prev, math.Inf(-1))
		}
		if !lowerTarget && v <= zt {
			return 0
		}
		profile[k] = v
		prev = v
	}
	lowered := 0
	for k := 1; k < steps; k++ {
		if profile[k] < c.z[path[k]] {
			c.z[path[k]] = profile[k]
			lowered++
		}
	}
	if lowerTarget {
		c.z[target] = math.Nextafter(prev, math.Inf(-1))
		lowered++
	}
	return lowered
}

// fill runs one priority-flood pass from the data edge, raising every cell
// that is not above the cell it was reached from to the next representable
// value above it. Returns the number of cells raised.
func (c *conditioner) fill(ctx context.Context) (int, error) {
	closed := make([]bool, len(c.z))
	q := &cellQueue{}
	for i := range c.z {
		if c.edge[i] {
			closed[i] = true
			q.items = append(q.items, cellItem{key: c.z[i], idx: i})
		}
	}
	heap.Init(q)
	raised, pops := 0, 0
	for q.Len() > 0 {
		if pops++; pops%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return raised, err
			}
		}
		it := heap.Pop(q).(cellItem)
		r, col := c.g.RowCol(it.idx)
		for _, n := range neighbours {
			rr, cc := r+n.dr, col+n.dc
			if !c.g.InBounds(rr, cc) {
				continue
			}
			j := c.g.Index(rr, cc)
			if !c.valid[j] || closed[j] {
				continue
			}
			closed[j] = true
			if c.z[j] <= c.z[it.idx] {
				if up := math.Nextafter(c.z[it.idx], math.Inf(1)); up != c.z[j] {
					c.z[j] = up
					raised++
				}
			}
			heap.Push(q, cellItem{key: c.z[j], idx: j})
		}
	}
	return raised, nil
}

type cellItem struct {
	key float64
	idx int
}

// cellQueue is a min-heap on key, ties broken by cell index so that results
// never depend on insertion order.
type cellQueue struct{ items []cellItem }

func (q *cellQueue) Len() int { return len(q.items) }
func (q *cellQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.key != b.key {
		return a.key < b.key
	}
	return a.idx < b.idx
}
func (q *cellQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *cellQueue) Push(x any)    { q.items = append(q.items, x.(cellItem)) }
func (q *cellQueue) Pop() any {
	n := len(q.items)
	it := q.items[n-1]
	q.items = q.items[:n-1]
	return it
}
