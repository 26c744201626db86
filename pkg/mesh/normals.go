package mesh

import "github.com/Faultbox/raybridge/pkg/math"

// facetContribution returns the weighted normal added to each corner of
// facet i: unit normal * area * interior angle at that corner.
func (m *Mesh) facetContribution(i int) [3]math.Vec3 {
	var out [3]math.Vec3
	if m.Facets[i].IsDegenerate() {
		return out
	}
	a, b, c := m.Corners(i)
	n := math.TriangleUnitNormal(a, b, c)
	if n.IsZero() {
		return out
	}
	weighted := n.Scale(math.TriangleArea(a, b, c))
	angles := math.TriangleAngles(a, b, c)
	for k := 0; k < 3; k++ {
		out[k] = weighted.Scale(angles[k])
	}
	return out
}

// ComputeVertexNormals computes area- and angle-weighted vertex normals.
// Points not used by any valid facet get the zero vector.
func (m *Mesh) ComputeVertexNormals() {
	sums := make([]math.Vec3, len(m.Points))
	for i, f := range m.Facets {
		contrib := m.facetContribution(i)
		for k, p := range f {
			sums[p] = sums[p].Add(contrib[k])
		}
	}
	m.VNormals = normalizeAll(sums)
}

func normalizeAll(sums []math.Vec3) []math.Vec3 {
	for i := range sums {
		sums[i] = math.SafeNormalize(sums[i])
	}
	return sums
}
