package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/Faultbox/raybridge/pkg/math"
)

// OBJOptions controls Wavefront OBJ output.
type OBJOptions struct {
	Name      string // object name ("o" statement)
	MtlLib    string // material library file, if any
	MtlName   string // material used by the faces, if any
	NoUVMap   bool   // omit texture coordinates even when present
	NoNormals bool   // omit vertex normals even when present
}

// faceMask selects how face corners are written.
type faceMask int

const (
	maskV       faceMask = iota // v
	maskVVt                     // v/vt
	maskVVn                     // v//vn
	maskVVtVn                   // v/vt/vn
)

func (m *Mesh) objMask(opts OBJOptions) faceMask {
	uv := m.HasUVMap() && !opts.NoUVMap
	vn := m.HasVNormals() && !opts.NoNormals
	switch {
	case uv && vn:
		return maskVVtVn
	case uv:
		return maskVVt
	case vn:
		return maskVVn
	default:
		return maskV
	}
}

func appendFloat(buf []byte, v float64) []byte {
	return strconv.AppendFloat(buf, v, 'f', -1, 64)
}

func appendTriple(buf []byte, tag string, v math.Vec3) []byte {
	buf = append(buf, tag...)
	buf = append(buf, ' ')
	buf = appendFloat(buf, v.X)
	buf = append(buf, ' ')
	buf = appendFloat(buf, v.Y)
	buf = append(buf, ' ')
	buf = appendFloat(buf, v.Z)
	return append(buf, '\n')
}

// appendPoints writes "v" lines for points [lo, hi), placement applied.
func (m *Mesh) appendPoints(buf []byte, lo, hi int) []byte {
	identity := m.Placement.IsIdentity()
	for _, p := range m.Points[lo:hi] {
		if !identity {
			p = m.Placement.TransformPoint(p)
		}
		buf = appendTriple(buf, "v", p)
	}
	return buf
}

func (m *Mesh) appendUVs(buf []byte, lo, hi int) []byte {
	for _, uv := range m.UVMap[lo:hi] {
		buf = append(buf, "vt "...)
		buf = appendFloat(buf, uv.X)
		buf = append(buf, ' ')
		buf = appendFloat(buf, uv.Y)
		buf = append(buf, '\n')
	}
	return buf
}

func (m *Mesh) appendNormals(buf []byte, lo, hi int) []byte {
	identity := m.Placement.IsIdentity()
	for _, n := range m.VNormals[lo:hi] {
		if !identity {
			n = m.Placement.TransformDirection(n).Normalize()
		}
		buf = appendTriple(buf, "vn", n)
	}
	return buf
}

// appendFaces writes "f" lines for facets [lo, hi) with 1-based indices.
func (m *Mesh) appendFaces(buf []byte, lo, hi int, mask faceMask) []byte {
	for _, f := range m.Facets[lo:hi] {
		buf = append(buf, 'f')
		for _, p := range f {
			idx := strconv.AppendInt(nil, int64(p+1), 10)
			buf = append(buf, ' ')
			buf = append(buf, idx...)
			switch mask {
			case maskVVt:
				buf = append(buf, '/')
				buf = append(buf, idx...)
			case maskVVn:
				buf = append(buf, '/', '/')
				buf = append(buf, idx...)
			case maskVVtVn:
				buf = append(buf, '/')
				buf = append(buf, idx...)
				buf = append(buf, '/')
				buf = append(buf, idx...)
			}
		}
		buf = append(buf, '\n')
	}
	return buf
}

func objHeader(opts OBJOptions) []byte {
	buf := []byte("# Written by raybridge\n")
	if opts.MtlLib != "" {
		buf = append(buf, "mtllib "+opts.MtlLib+"\n"...)
	}
	return buf
}

func objObject(opts OBJOptions) []byte {
	var buf []byte
	if opts.Name != "" {
		buf = append(buf, "o "+opts.Name+"\n"...)
	}
	if opts.MtlName != "" {
		buf = append(buf, "usemtl "+opts.MtlName+"\n"...)
	}
	return buf
}

// WriteOBJ writes the mesh as a Wavefront OBJ stream.
func (m *Mesh) WriteOBJ(w io.Writer, opts OBJOptions) error {
	if err := m.Validate(); err != nil {
		return err
	}
	mask := m.objMask(opts)
	bw := bufio.NewWriter(w)
	np, nf := len(m.Points), len(m.Facets)

	sections := [][]byte{
		objHeader(opts),
		[]byte("# Vertices\n"),
		m.appendPoints(nil, 0, np),
	}
	if mask == maskVVt || mask == maskVVtVn {
		sections = append(sections, []byte("# Texture coordinates\n"), m.appendUVs(nil, 0, np))
	}
	if mask == maskVVn || mask == maskVVtVn {
		sections = append(sections, []byte("# Vertex normals\n"), m.appendNormals(nil, 0, np))
	}
	sections = append(sections, objObject(opts), []byte("# Faces\n"), m.appendFaces(nil, 0, nf, mask))

	for _, s := range sections {
		if _, err := bw.Write(s); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteOBJFile writes the mesh to path.
func (m *Mesh) WriteOBJFile(path string, opts OBJOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create obj: %w", err)
	}
	if err := m.WriteOBJ(f, opts); err != nil {
		f.Close()
		return fmt.Errorf("write obj %s: %w", path, err)
	}
	return f.Close()
}
