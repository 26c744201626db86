package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Faultbox/raybridge/pkg/math"
)

// objCorner identifies a face corner by its v/vt/vn indices.
type objCorner struct {
	v, vt, vn int
}

// objReader accumulates OBJ statements into a mesh.
type objReader struct {
	positions []math.Vec3
	texcoords []math.Vec2
	normals   []math.Vec3

	corners map[objCorner]int
	mesh    *Mesh
	hasUV   bool
	hasVN   bool
	name    string
}

// ReadOBJ reads a Wavefront OBJ stream into a single mesh. Polygons are
// fan-triangulated; corners sharing v/vt/vn indices share a point.
// It also returns the first object or group name, if any.
func ReadOBJ(r io.Reader) (*Mesh, string, error) {
	rd := &objReader{
		corners: make(map[objCorner]int),
		mesh:    New(nil, nil),
		hasUV:   true,
		hasVN:   true,
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}
		var err error
		switch lineTokens[0] {
		case "v":
			var v math.Vec3
			if v, err = parseVec3(lineTokens); err == nil {
				rd.positions = append(rd.positions, v)
			}
		case "vn":
			var v math.Vec3
			if v, err = parseVec3(lineTokens); err == nil {
				rd.normals = append(rd.normals, v)
			}
		case "vt":
			var v math.Vec2
			if v, err = parseVec2(lineTokens); err == nil {
				rd.texcoords = append(rd.texcoords, v)
			}
		case "g", "o":
			if rd.name == "" && len(lineTokens) > 1 {
				rd.name = strings.Join(lineTokens[1:], " ")
			}
		case "f":
			err = rd.parseFace(lineTokens)
		}
		if err != nil {
			return nil, "", fmt.Errorf("obj line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, "", err
	}
	m := rd.mesh
	if !rd.hasUV || len(m.Facets) == 0 {
		m.UVMap = nil
	}
	if !rd.hasVN || len(m.Facets) == 0 {
		m.VNormals = nil
	}
	return m, rd.name, nil
}

// ReadOBJFile reads an OBJ file from disk.
func ReadOBJFile(path string) (*Mesh, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	return ReadOBJ(f)
}

func (rd *objReader) parseFace(lineTokens []string) error {
	if len(lineTokens) < 4 {
		return fmt.Errorf("unsupported syntax for 'f'; expected at least 3 arguments; got %d", len(lineTokens)-1)
	}
	points := make([]int, 0, len(lineTokens)-1)
	for _, token := range lineTokens[1:] {
		p, err := rd.corner(token)
		if err != nil {
			return err
		}
		points = append(points, p)
	}
	for k := 1; k+1 < len(points); k++ {
		rd.mesh.Facets = append(rd.mesh.Facets, Facet{points[0], points[k], points[k+1]})
	}
	return nil
}

// corner resolves a "v", "v/vt", "v//vn" or "v/vt/vn" token to a point index.
func (rd *objReader) corner(token string) (int, error) {
	parts := strings.Split(token, "/")
	c := objCorner{v: -1, vt: -1, vn: -1}
	var err error
	if c.v, err = selectFaceCoordIndex(parts[0], len(rd.positions)); err != nil {
		return -1, fmt.Errorf("vertex index %q: %w", parts[0], err)
	}
	if len(parts) > 1 && parts[1] != "" {
		if c.vt, err = selectFaceCoordIndex(parts[1], len(rd.texcoords)); err != nil {
			return -1, fmt.Errorf("texture index %q: %w", parts[1], err)
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		if c.vn, err = selectFaceCoordIndex(parts[2], len(rd.normals)); err != nil {
			return -1, fmt.Errorf("normal index %q: %w", parts[2], err)
		}
	}
	if idx, ok := rd.corners[c]; ok {
		return idx, nil
	}
	m := rd.mesh
	idx := len(m.Points)
	rd.corners[c] = idx
	m.Points = append(m.Points, rd.positions[c.v])
	if c.vt >= 0 {
		m.UVMap = append(m.UVMap, rd.texcoords[c.vt])
	} else {
		rd.hasUV = false
		m.UVMap = append(m.UVMap, math.Vec2{})
	}
	if c.vn >= 0 {
		m.VNormals = append(m.VNormals, rd.normals[c.vn])
	} else {
		rd.hasVN = false
		m.VNormals = append(m.VNormals, math.Vec3{})
	}
	return idx, nil
}

// selectFaceCoordIndex converts a 1-based (or negative, relative) OBJ index
// into a 0-based offset.
func selectFaceCoordIndex(indexToken string, coordListLen int) (int, error) {
	index, err := strconv.ParseInt(indexToken, 10, 32)
	if err != nil {
		return -1, err
	}
	var offset int
	if index < 0 {
		offset = coordListLen + int(index)
	} else {
		offset = int(index - 1)
	}
	if offset < 0 || offset >= coordListLen {
		return -1, fmt.Errorf("index out of bounds")
	}
	return offset, nil
}

func parseFloats(lineTokens []string, n int) ([]float64, error) {
	if len(lineTokens) < n+1 {
		return nil, fmt.Errorf("unsupported syntax for '%s'; expected %d arguments; got %d", lineTokens[0], n, len(lineTokens)-1)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(lineTokens[i+1], 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseVec3(lineTokens []string) (math.Vec3, error) {
	v, err := parseFloats(lineTokens, 3)
	if err != nil {
		return math.Vec3{}, err
	}
	return math.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseVec2(lineTokens []string) (math.Vec2, error) {
	v, err := parseFloats(lineTokens, 2)
	if err != nil {
		return math.Vec2{}, err
	}
	return math.Vec2{X: v[0], Y: v[1]}, nil
}
