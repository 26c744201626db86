package renderer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

// Scale converts scene millimetres to renderer metres.
const Scale = 0.001

// GroundPlaneName names the ground plane object.
const GroundPlaneName = "__ground_plane__"

var (
	ErrNoResolution = errors.New("frame resolution not set")
	ErrMeshMissing  = errors.New("exported mesh missing, cannot skip meshing")
)

// Options configures a Handler.
type Options struct {
	// ProjectDir is the directory holding the instantiated scene file.
	ProjectDir string
	// ObjectDir receives exported meshes; relative paths are resolved
	// against ProjectDir. Empty disables OBJ export.
	ObjectDir string
	// SkipMeshing reuses meshes exported by a previous run.
	SkipMeshing bool
	// Width and Height are the frame size, needed by cameras.
	Width, Height int
	// TransparencyBoost (0..10) sharpens the transparency of object colors.
	TransparencyBoost int
	ColorMode         color.Mode
	Engine            *mesh.Engine
	// Lookup finds materials by name, for father inheritance.
	Lookup func(name string) (*material.Material, bool)
	Logger *zap.Logger
}

// View is an object with the material assigned by the project.
type View struct {
	Object   *scene.Object
	Material *material.Material
	// AutoSmooth splits sharp edges before computing normals.
	AutoSmooth      bool
	AutoSmoothAngle float64 // degrees
	UVProjection    mesh.Projection
}

// Handler translates scene entities into text for one renderer.
type Handler struct {
	plugin Plugin
	opts   Options
	log    *zap.Logger
}

// NewHandler loads the named plugin.
func NewHandler(name string, opts Options) (*Handler, error) {
	p, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return NewHandlerFor(p, opts), nil
}

// NewHandlerFor creates a handler around an already loaded plugin.
func NewHandlerFor(p Plugin, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Engine == nil {
		opts.Engine = mesh.NewEngine(0)
	}
	return &Handler{
		plugin: p,
		opts:   opts,
		log:    opts.Logger.With(zap.String("renderer", p.Name())),
	}
}

// Plugin returns the plugin behind h.
func (h *Handler) Plugin() Plugin { return h.plugin }

// TemplateFilter returns the plugin template file filter.
func (h *Handler) TemplateFilter() string { return h.plugin.TemplateFilter() }

// objectDir returns the absolute object directory, or "".
func (h *Handler) objectDir() string {
	dir := h.opts.ObjectDir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(h.opts.ProjectDir, dir)
}

// RenderingString returns the renderer text for a view. Views that cannot
// be rendered are logged and yield an empty string; only I/O failures and
// cancellation are returned.
func (h *Handler) RenderingString(ctx context.Context, src scene.Source, v View) (string, error) {
	obj := v.Object
	name := obj.Name
	plc := obj.Placement.Resolve()

	switch obj.Kind() {
	case scene.KindCamera:
		cam := *obj.Camera
		cam.Placement = plc
		return h.CameraString(name, cam)

	case scene.KindPointLight:
		l := obj.PointLight
		c, err := l.RGB()
		if err != nil {
			return h.skip(name, err), nil
		}
		return h.plugin.WritePointLight(name, PointLight{
			Position: plc.Base.Scale(Scale),
			Color:    c.Linear(h.opts.ColorMode),
			Power:    l.EffectivePower(),
		})

	case scene.KindAreaLight:
		l := obj.AreaLight
		c, err := l.RGB()
		if err == nil {
			err = l.Validate()
		}
		if err != nil {
			return h.skip(name, err), nil
		}
		return h.plugin.WriteAreaLight(name, AreaLight{
			Placement:   plc.Scaled(Scale),
			SizeU:       l.SizeU * Scale,
			SizeV:       l.SizeV * Scale,
			Color:       c.Linear(h.opts.ColorMode),
			Power:       l.Power,
			Transparent: l.Transparent,
			Dir:         h.objectDir(),
		})

	case scene.KindSunSkyLight:
		l := obj.SunSkyLight
		if err := l.Validate(); err != nil {
			return h.skip(name, err), nil
		}
		sun, sky := l.Intensities()
		return h.plugin.WriteSunSkyLight(name, SunSkyLight{
			Direction:    l.Direction,
			Distance:     scene.SunDistance * 1000,
			Turbidity:    l.Turbidity,
			Albedo:       l.GroundAlbedo,
			SunIntensity: sun,
			SkyIntensity: sky,
		})

	case scene.KindImageLight:
		l := obj.ImageLight
		if err := l.Validate(); err != nil {
			return h.skip(name, err), nil
		}
		return h.plugin.WriteImageLight(name, ImageLight{Image: l.Image, Dir: h.objectDir()})

	case scene.KindDistantLight:
		l := obj.DistantLight
		c, err := l.RGB()
		if err == nil {
			err = l.Validate()
		}
		if err != nil {
			return h.skip(name, err), nil
		}
		return h.plugin.WriteDistantLight(name, DistantLight{
			Color:     c.Linear(h.opts.ColorMode),
			Power:     l.Power,
			Direction: l.Direction,
			Angle:     l.Angle,
		})
	}

	rends, err := scene.Renderables(src, obj, v.Material, scene.Options{
		TransparencyBoost: h.opts.TransparencyBoost,
	})
	if err == nil {
		err = scene.CheckRenderables(rends)
	}
	if err != nil {
		return h.skip(name, err), nil
	}
	return h.writeRenderables(ctx, rends, v, obj.Renderer)
}

// skip logs why an entity is not rendered and returns the empty string.
func (h *Handler) skip(name string, err error) string {
	h.log.Warn("cannot render, skipping", zap.String("object", name), zap.Error(err))
	return ""
}

func (h *Handler) writeRenderables(ctx context.Context, rends []scene.Renderable, v View, params map[string]map[string]string) (string, error) {
	var b strings.Builder
	for _, r := range rends {
		text, err := h.writeRenderable(ctx, r, v, rendererParams(params, h.plugin.Name()))
		if err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func (h *Handler) writeRenderable(ctx context.Context, r scene.Renderable, v View, params map[string]string) (string, error) {
	shader, err := material.Resolve(r.Material, h.plugin.Name(), r.Color, material.Options{
		Mode:   h.opts.ColorMode,
		Lookup: h.opts.Lookup,
	})
	if err != nil {
		return h.skip(r.Name, err), nil
	}
	for _, w := range shader.Warnings {
		h.log.Warn(w, zap.String("object", r.Name))
	}
	if shader.Type != material.KindPassthrough && !supports(h.plugin, shader.Type) {
		h.log.Warn("material kind not supported, using diffuse",
			zap.String("object", r.Name), zap.String("kind", shader.Type))
		shader = diffuseFallback(shader)
	}

	m, objFile, err := h.prepareMesh(ctx, r, shader, v)
	if err != nil {
		if errors.Is(err, ErrMeshMissing) {
			return h.skip(r.Name, err), nil
		}
		return "", err
	}

	text, err := h.plugin.WriteObject(r.Name, Object{
		Mesh:    m,
		Shader:  shader,
		Color:   r.Color,
		OBJFile: objFile,
		Dir:     h.objectDir(),
		Params:  params,
	})
	if err != nil {
		return "", fmt.Errorf("writing object %s: %w", r.Name, err)
	}
	return text, nil
}

// prepareMesh uv maps, smooths and scales the renderable mesh, then
// exports it when an object directory is set.
func (h *Handler) prepareMesh(ctx context.Context, r scene.Renderable, shader *material.Shader, v View) (*mesh.Mesh, string, error) {
	m := r.Mesh
	dir := h.objectDir()
	var path string
	if dir != "" {
		path = filepath.Join(dir, FileName(r.Name)+".obj")
	}

	if h.opts.SkipMeshing && path != "" {
		cached, _, err := mesh.ReadOBJFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrMeshMissing, path, err)
		}
		cached.Placement = m.Placement
		cached.Placement[12] *= Scale
		cached.Placement[13] *= Scale
		cached.Placement[14] *= Scale
		return cached, h.relative(path), nil
	}

	eng := h.opts.Engine
	if shader.HasTextures() {
		if err := eng.ComputeUVMap(ctx, m, v.UVProjection); err != nil {
			return nil, "", fmt.Errorf("uv mapping %s: %w", r.Name, err)
		}
	}
	if v.AutoSmooth {
		if _, err := eng.Autosmooth(ctx, m, v.AutoSmoothAngle); err != nil {
			return nil, "", fmt.Errorf("autosmoothing %s: %w", r.Name, err)
		}
	} else if err := eng.ComputeVertexNormals(ctx, m); err != nil {
		return nil, "", fmt.Errorf("computing normals of %s: %w", r.Name, err)
	}
	m.Scale(Scale)

	if path == "" {
		return m, "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	if err := h.writeOBJ(ctx, path, r.Name, m); err != nil {
		return nil, "", fmt.Errorf("exporting %s: %w", r.Name, err)
	}
	return m, h.relative(path), nil
}

// writeOBJ exports m in its local frame; plugins referencing the file
// apply the placement through their instance transform.
func (h *Handler) writeOBJ(ctx context.Context, path, name string, m *mesh.Mesh) error {
	local := *m
	local.Placement = math.Identity()

	opts := mesh.OBJOptions{Name: Identifier(name)}
	if mf, ok := h.plugin.(MeshFiler); ok {
		opts = mf.OBJOptions(name)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := h.opts.Engine.WriteOBJ(ctx, f, &local, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// relative returns path relative to the project directory when possible.
func (h *Handler) relative(path string) string {
	if h.opts.ProjectDir == "" {
		return path
	}
	rel, err := filepath.Rel(h.opts.ProjectDir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// CameraString returns the renderer text for a camera in scene units.
func (h *Handler) CameraString(name string, cam scene.Camera) (string, error) {
	if h.opts.Width <= 0 || h.opts.Height <= 0 {
		return "", ErrNoResolution
	}
	if err := cam.Normalize(); err != nil {
		return "", err
	}
	c := cam.Scaled(Scale)
	return h.plugin.WriteCamera(name, Camera{
		Position:    c.Position(),
		Target:      c.Target(),
		Up:          c.Up(),
		Rotation:    c.Placement.Rotation,
		FOV:         c.FOV,
		Projection:  c.Projection,
		OrthoHeight: c.Height,
		Width:       h.opts.Width,
		Height:      h.opts.Height,
	})
}

// DefaultCameraString frames a scene bounding box with a default camera.
func (h *Handler) DefaultCameraString(bb mesh.BoundBox) (string, error) {
	center, diag := math.Vec3{}, 1000.0
	if bb.IsValid() {
		center, diag = bb.Center(), bb.DiagonalLength()
	}
	return h.CameraString("Camera", scene.DefaultCamera(center, diag))
}

// GroundPlaneMesh builds the ground plane for a scene bounding box: a
// rectangle around the box, extended by diagonal/2*sizeFactor beyond
// each side, at height z.
func GroundPlaneMesh(bb mesh.BoundBox, z, sizeFactor float64) *mesh.Mesh {
	if !bb.IsValid() {
		return mesh.New(nil, nil)
	}
	margin := bb.DiagonalLength() / 2 * sizeFactor
	xmin, xmax := bb.Min.X-margin, bb.Max.X+margin
	ymin, ymax := bb.Min.Y-margin, bb.Max.Y+margin
	return mesh.New(
		[]math.Vec3{
			{X: xmin, Y: ymin, Z: z},
			{X: xmax, Y: ymin, Z: z},
			{X: xmax, Y: ymax, Z: z},
			{X: xmin, Y: ymax, Z: z},
		},
		[]mesh.Facet{{0, 1, 2}, {0, 2, 3}},
	)
}

// GroundPlane returns the renderer text for a ground plane of color c
// under the scene bounding box.
func (h *Handler) GroundPlane(ctx context.Context, bb mesh.BoundBox, z float64, c color.RGB, sizeFactor float64) (string, error) {
	r := scene.Renderable{
		Name:  GroundPlaneName,
		Mesh:  GroundPlaneMesh(bb, z, sizeFactor),
		Color: c,
	}
	if err := scene.CheckRenderables([]scene.Renderable{r}); err != nil {
		return h.skip(GroundPlaneName, err), nil
	}
	return h.writeRenderable(ctx, r, View{}, nil)
}

// Render asks the plugin for the command rendering req.
func (h *Handler) Render(req RenderRequest) (Command, error) {
	if req.Width == 0 {
		req.Width = h.opts.Width
	}
	if req.Height == 0 {
		req.Height = h.opts.Height
	}
	cmd, err := h.plugin.Render(req)
	if err != nil {
		return Command{}, &PluginError{Name: h.plugin.Name(), Err: err}
	}
	return cmd, nil
}

// diffuseFallback replaces s by a diffuse shader of its default color.
func diffuseFallback(s *material.Shader) *material.Shader {
	return &material.Shader{
		Name:         s.Name,
		Type:         material.KindDiffuse,
		Params:       []material.Resolved{{Name: "Color", Type: material.TypeRGB, Color: s.DefaultColor}},
		DefaultColor: s.DefaultColor,
	}
}

// rendererParams returns the parameters for renderer, matched
// case-insensitively.
func rendererParams(all map[string]map[string]string, renderer string) map[string]string {
	for k, v := range all {
		if strings.EqualFold(k, renderer) {
			return v
		}
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileName turns an object name into a file name.
func FileName(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	if s == "" {
		return "_"
	}
	return s
}
