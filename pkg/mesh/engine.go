package mesh

import (
	"bufio"
	"context"
	"io"
	gomath "math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/raybridge/pkg/math"
)

// DefaultChunkSize is the number of facets handled by one task.
const DefaultChunkSize = 20000

// Engine runs the mesh pipeline over chunks of facets in parallel.
// Results are identical to the serial Mesh methods.
type Engine struct {
	Workers   int // concurrent tasks; zero means GOMAXPROCS
	ChunkSize int // facets per chunk; zero means DefaultChunkSize
	Threshold int // meshes with fewer facets run serially
}

// NewEngine creates an engine with default chunking.
func NewEngine(workers int) *Engine {
	return &Engine{
		Workers:   workers,
		ChunkSize: DefaultChunkSize,
		Threshold: DefaultChunkSize,
	}
}

func (e *Engine) workers() int {
	if e == nil || e.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return e.Workers
}

func (e *Engine) chunkSize() int {
	if e == nil || e.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return e.ChunkSize
}

// serial reports whether n items are better handled without goroutines.
func (e *Engine) serial(n int) bool {
	return e == nil || e.workers() <= 1 || n < e.Threshold || n <= e.chunkSize()
}

// chunk is a half-open index range.
type chunk struct{ lo, hi int }

func (e *Engine) chunks(n int) []chunk {
	size := e.chunkSize()
	out := make([]chunk, 0, n/size+1)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, chunk{lo, hi})
	}
	return out
}

// each runs fn over every chunk of [0, n), at most Workers at a time.
func (e *Engine) each(ctx context.Context, n int, fn func(c chunk) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for _, c := range e.chunks(n) {
		c := c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(c)
		})
	}
	return g.Wait()
}

// ComputeVertexNormals computes facet contributions in parallel and folds
// them serially in facet order.
func (e *Engine) ComputeVertexNormals(ctx context.Context, m *Mesh) error {
	if e.serial(len(m.Facets)) {
		m.ComputeVertexNormals()
		return nil
	}
	contrib := make([][3]math.Vec3, len(m.Facets))
	err := e.each(ctx, len(m.Facets), func(c chunk) error {
		for i := c.lo; i < c.hi; i++ {
			contrib[i] = m.facetContribution(i)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sums := make([]math.Vec3, len(m.Points))
	for i, f := range m.Facets {
		for k, p := range f {
			sums[p] = sums[p].Add(contrib[i][k])
		}
	}
	err = e.each(ctx, len(sums), func(c chunk) error {
		normalizeAll(sums[c.lo:c.hi])
		return nil
	})
	if err != nil {
		return err
	}
	m.VNormals = sums
	return nil
}

// Adjacency computes facet normals and adjacency slots in parallel.
// The edge map is built serially.
func (e *Engine) Adjacency(ctx context.Context, m *Mesh, splitAngle float64) ([]Adjacents, error) {
	if e.serial(len(m.Facets)) {
		return m.Adjacency(splitAngle), nil
	}
	split := splitAngle * gomath.Pi / 180
	normals := make([]math.Vec3, len(m.Facets))
	err := e.each(ctx, len(m.Facets), func(c chunk) error {
		for i := c.lo; i < c.hi; i++ {
			normals[i] = m.FacetNormal(i)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	edges := m.edgeMap()
	adj := make([]Adjacents, len(m.Facets))
	err = e.each(ctx, len(m.Facets), func(c chunk) error {
		for i := c.lo; i < c.hi; i++ {
			adj[i] = m.facetAdjacents(i, edges, normals, split)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return adj, nil
}

// unionFind is a disjoint set over facet indices. The root of a set is
// always its smallest member.
type unionFind []int

func newUnionFind(n int) unionFind {
	uf := make(unionFind, n)
	for i := range uf {
		uf[i] = i
	}
	return uf
}

func (uf unionFind) find(i int) int {
	for uf[i] != i {
		uf[i] = uf[uf[i]]
		i = uf[i]
	}
	return i
}

func (uf unionFind) union(i, j int) {
	ri, rj := uf.find(i), uf.find(j)
	switch {
	case ri < rj:
		uf[rj] = ri
	case rj < ri:
		uf[ri] = rj
	}
}

// ConnectedComponents tags facets like the serial ConnectedComponents.
// Pass one joins facets within each chunk in parallel; pass two joins
// across chunk boundaries serially.
func (e *Engine) ConnectedComponents(ctx context.Context, adj []Adjacents) ([]int, int, error) {
	if e.serial(len(adj)) {
		tags, n := ConnectedComponents(adj)
		return tags, n, nil
	}
	uf := newUnionFind(len(adj))
	err := e.each(ctx, len(adj), func(c chunk) error {
		for i := c.lo; i < c.hi; i++ {
			for _, j := range adj[i] {
				if j >= c.lo && j < c.hi {
					uf.union(i, j)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	size := e.chunkSize()
	for i, a := range adj {
		for _, j := range a {
			if j != NoAdjacent && j/size != i/size {
				uf.union(i, j)
			}
		}
	}
	tags := make([]int, len(adj))
	labels := make(map[int]int)
	for i := range adj {
		root := uf.find(i)
		tag, ok := labels[root]
		if !ok {
			tag = len(labels)
			labels[root] = tag
		}
		tags[i] = tag
	}
	return tags, len(labels), nil
}

// Autosmooth is the parallel form of Mesh.Autosmooth.
func (e *Engine) Autosmooth(ctx context.Context, m *Mesh, splitAngle float64) (int, error) {
	if splitAngle <= 0 {
		splitAngle = DefaultSplitAngle
	}
	if m.IsEmpty() {
		m.emptyOut()
		return 0, nil
	}
	adj, err := e.Adjacency(ctx, m, splitAngle)
	if err != nil {
		return 0, err
	}
	tags, n, err := e.ConnectedComponents(ctx, adj)
	if err != nil {
		return 0, err
	}
	m.Split(tags)
	if err := e.ComputeVertexNormals(ctx, m); err != nil {
		return 0, err
	}
	return n, nil
}

// ComputeUVMap classifies facets in parallel for the cubic projection.
// Other projections run serially.
func (e *Engine) ComputeUVMap(ctx context.Context, m *Mesh, p Projection) error {
	if p != Cubic || e.serial(len(m.Facets)) {
		return m.ComputeUVMap(p)
	}
	colors := make([]int, len(m.Facets))
	err := e.each(ctx, len(m.Facets), func(c chunk) error {
		for i := c.lo; i < c.hi; i++ {
			colors[i] = CubeColor(m.FacetNormal(i))
		}
		return nil
	})
	if err != nil {
		return err
	}
	centroid := m.Centroid()
	_, keys := m.Split(colors)
	uv := make([]math.Vec2, len(m.Points))
	err = e.each(ctx, len(m.Points), func(c chunk) error {
		for i := c.lo; i < c.hi; i++ {
			uv[i] = cubeUV(m.Points[i].Sub(centroid), keys[i])
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.UVMap = uv
	return nil
}

// WriteOBJ serializes chunks in parallel and writes them in order.
func (e *Engine) WriteOBJ(ctx context.Context, w io.Writer, m *Mesh, opts OBJOptions) error {
	if e.serial(len(m.Facets)) {
		return m.WriteOBJ(w, opts)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	mask := m.objMask(opts)
	np, nf := len(m.Points), len(m.Facets)
	pointChunks := e.chunks(np)
	faceChunks := e.chunks(nf)

	render := func(cs []chunk, fn func(buf []byte, c chunk) []byte) ([][]byte, error) {
		out := make([][]byte, len(cs))
		if len(cs) == 0 {
			return out, nil
		}
		idx := make(map[chunk]int, len(cs))
		for i, c := range cs {
			idx[c] = i
		}
		err := e.each(ctx, cs[len(cs)-1].hi, func(c chunk) error {
			out[idx[c]] = fn(nil, c)
			return nil
		})
		return out, err
	}

	var sections [][]byte
	sections = append(sections, objHeader(opts), []byte("# Vertices\n"))
	vs, err := render(pointChunks, func(buf []byte, c chunk) []byte { return m.appendPoints(buf, c.lo, c.hi) })
	if err != nil {
		return err
	}
	sections = append(sections, vs...)
	if mask == maskVVt || mask == maskVVtVn {
		uvs, err := render(pointChunks, func(buf []byte, c chunk) []byte { return m.appendUVs(buf, c.lo, c.hi) })
		if err != nil {
			return err
		}
		sections = append(sections, []byte("# Texture coordinates\n"))
		sections = append(sections, uvs...)
	}
	if mask == maskVVn || mask == maskVVtVn {
		vns, err := render(pointChunks, func(buf []byte, c chunk) []byte { return m.appendNormals(buf, c.lo, c.hi) })
		if err != nil {
			return err
		}
		sections = append(sections, []byte("# Vertex normals\n"))
		sections = append(sections, vns...)
	}
	fs, err := render(faceChunks, func(buf []byte, c chunk) []byte { return m.appendFaces(buf, c.lo, c.hi, mask) })
	if err != nil {
		return err
	}
	sections = append(sections, objObject(opts), []byte("# Faces\n"))
	sections = append(sections, fs...)

	bw := bufio.NewWriter(w)
	for _, s := range sections {
		if _, err := bw.Write(s); err != nil {
			return err
		}
	}
	return bw.Flush()
}
