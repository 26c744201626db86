package mesh

import (
	gomath "math"

	"github.com/Faultbox/raybridge/pkg/math"
)

// DefaultSplitAngle is the autosmooth split angle in degrees.
const DefaultSplitAngle = 30.0

// NoAdjacent pads adjacency slots.
const NoAdjacent = -1

// Adjacents holds up to three adjacent facet indices, padded with NoAdjacent.
type Adjacents [3]int

// Count returns the number of used slots.
func (a Adjacents) Count() int {
	n := 0
	for _, j := range a {
		if j != NoAdjacent {
			n++
		}
	}
	return n
}

// Contains reports whether j is one of the adjacents.
func (a Adjacents) Contains(j int) bool {
	for _, k := range a {
		if k == j && j != NoAdjacent {
			return true
		}
	}
	return false
}

func edgeKey(a, b int) uint64 {
	if a > b {
		a, b = b, a
	}
	return uint64(a)<<32 | uint64(uint32(b))
}

// edgeMap maps every edge of the valid facets to the facets using it.
func (m *Mesh) edgeMap() map[uint64][]int {
	edges := make(map[uint64][]int, len(m.Facets)*3/2)
	for i, f := range m.Facets {
		if f.IsDegenerate() {
			continue
		}
		for k := 0; k < 3; k++ {
			key := edgeKey(f[k], f[(k+1)%3])
			edges[key] = append(edges[key], i)
		}
	}
	return edges
}

// facetAdjacents fills the adjacency slots of facet i in edge order.
func (m *Mesh) facetAdjacents(i int, edges map[uint64][]int, normals []math.Vec3, split float64) Adjacents {
	adj := Adjacents{NoAdjacent, NoAdjacent, NoAdjacent}
	f := m.Facets[i]
	if f.IsDegenerate() {
		return adj
	}
	slot := 0
	for k := 0; k < 3; k++ {
		users := edges[edgeKey(f[k], f[(k+1)%3])]
		if len(users) != 2 {
			continue
		}
		j := users[0]
		if j == i {
			j = users[1]
		}
		if j == i || adj.Contains(j) {
			continue
		}
		if math.VectAngle(normals[i], normals[j]) <= split {
			adj[slot] = j
			slot++
		}
	}
	return adj
}

// Adjacency returns, for each facet, the facets sharing an edge with it
// whose normals differ by at most splitAngle degrees. An edge counts only
// when exactly two facets use it. Degenerate facets have no adjacents.
func (m *Mesh) Adjacency(splitAngle float64) []Adjacents {
	split := splitAngle * gomath.Pi / 180
	normals := m.facetNormals()
	edges := m.edgeMap()
	adj := make([]Adjacents, len(m.Facets))
	for i := range m.Facets {
		adj[i] = m.facetAdjacents(i, edges, normals, split)
	}
	return adj
}

func (m *Mesh) facetNormals() []math.Vec3 {
	normals := make([]math.Vec3, len(m.Facets))
	for i := range m.Facets {
		normals[i] = m.FacetNormal(i)
	}
	return normals
}

// ConnectedComponents tags facets by connected component of adj.
// Tags are numbered in order of the smallest facet index of each component.
// It returns the tags and the component count.
func ConnectedComponents(adj []Adjacents) ([]int, int) {
	tags := make([]int, len(adj))
	for i := range tags {
		tags[i] = -1
	}
	tag := 0
	var stack []int
	for start := range adj {
		if tags[start] != -1 {
			continue
		}
		tags[start] = tag
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, j := range adj[i] {
				if j != NoAdjacent && tags[j] == -1 {
					tags[j] = tag
					stack = append(stack, j)
				}
			}
		}
		tag++
	}
	return tags, tag
}

// Autosmooth splits the mesh across edges sharper than splitAngle degrees
// (zero means DefaultSplitAngle) and recomputes vertex normals. UVs are
// carried. It returns the number of smooth components.
func (m *Mesh) Autosmooth(splitAngle float64) int {
	if splitAngle <= 0 {
		splitAngle = DefaultSplitAngle
	}
	if m.IsEmpty() {
		m.emptyOut()
		return 0
	}
	tags, n := ConnectedComponents(m.Adjacency(splitAngle))
	m.Split(tags)
	m.ComputeVertexNormals()
	return n
}

func (m *Mesh) emptyOut() {
	m.Points = []math.Vec3{}
	m.Facets = []Facet{}
	m.UVMap = []math.Vec2{}
	m.VNormals = []math.Vec3{}
}
