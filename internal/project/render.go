package project

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Faultbox/raybridge/internal/assembler"
	"github.com/Faultbox/raybridge/internal/assets"
	"github.com/Faultbox/raybridge/internal/config"
	"github.com/Faultbox/raybridge/internal/executor"
	"github.com/Faultbox/raybridge/internal/logger"
	"github.com/Faultbox/raybridge/internal/renderer"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

// Source is the scene a project renders.
type Source interface {
	scene.Source
	// Bounds returns the bounding box of the scene geometry.
	Bounds() mesh.BoundBox
}

// Options carries what a render needs beyond the project itself.
type Options struct {
	// Config is snapshotted when the render starts; nil uses defaults.
	Config *config.Config
	// Assets finds templates. Nil searches the project directory, then
	// the preference template directories.
	Assets *assets.Manager
	// WorkDir receives the scene file and exported meshes; it defaults
	// to the project directory.
	WorkDir string
	// Batch runs the console renderer instead of its GUI.
	Batch bool
	// SkipMeshing reuses meshes exported by a previous render.
	SkipMeshing bool
	// Env is the renderer environment; nil means os.Environ().
	Env    []string
	Logger *zap.Logger
	// Events receives renderer events while it runs.
	Events func(executor.Event)
}

// Result describes a finished render.
type Result struct {
	// Scene is the instantiated scene file.
	Scene   string
	Command renderer.Command
	// Image is the rendered image, empty when the renderer failed.
	Image string
	Code  int
	// DryRun is set when the renderer was not run.
	DryRun bool
}

type build struct {
	scene   string
	cfg     *config.Config
	handler *renderer.Handler
	width   int
	height  int
	workDir string
	log     *zap.Logger
}

// Build exports the views of p and writes the instantiated scene file.
// It returns the scene file path.
func (p *Project) Build(ctx context.Context, src Source, opts Options) (string, error) {
	b, err := p.build(ctx, src, opts)
	if err != nil {
		return "", err
	}
	return b.scene, nil
}

// Render builds the scene file and runs the renderer on it, unless the
// preferences ask for a dry run.
func (p *Project) Render(ctx context.Context, src Source, opts Options) (*Result, error) {
	b, err := p.build(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	res := &Result{Scene: b.scene}

	exe, err := b.cfg.Executable(p.Renderer, opts.Batch)
	if err != nil {
		return res, &RenderingError{Op: "render", Err: &ConfigurationError{Field: p.Renderer, Err: err}}
	}
	rc, _ := b.cfg.Renderer(p.Renderer)
	output := p.OutputImage
	if output != "" && !filepath.IsAbs(output) {
		output = filepath.Join(p.Dir(), output)
	}
	cmd, err := b.handler.Render(renderer.RenderRequest{
		ProjectName: p.Name,
		Prefix:      b.cfg.Prefix,
		Executable:  exe,
		Parameters:  rc.Parameters,
		Batch:       opts.Batch,
		Input:       b.scene,
		Output:      output,
		Width:       b.width,
		Height:      b.height,
		Spp:         p.Spp,
		Denoise:     p.Denoise,
	})
	if err != nil {
		return res, &RenderingError{Op: "render", Err: err}
	}
	res.Command = cmd

	if b.cfg.DryRun {
		b.log.Info("dry run, renderer not started", zap.String("command", cmd.String()))
		res.DryRun = true
		return res, nil
	}

	ex, err := executor.NewArgs(cmd.Args, b.workDir, cmd.Image, executor.Options{
		Env:    opts.Env,
		Logger: b.log.Named("executor"),
	})
	if err != nil {
		return res, &RenderingError{Op: "render", Err: err}
	}
	b.log.Info("rendering", zap.String("renderer", p.Renderer), zap.String("command", cmd.String()))
	res.Code = executor.ExitFailure
	for ev := range ex.Start(ctx) {
		switch ev.Kind {
		case executor.EventResultReady:
			res.Image = ev.Image
		case executor.EventFinished:
			res.Code = ev.Code
		}
		if opts.Events != nil {
			opts.Events(ev)
		}
	}
	switch {
	case ex.Signaled() || ctx.Err() != nil:
		return res, &RenderingError{Op: "render", Err: ErrRendererSignaled}
	case res.Code != 0:
		return res, &RenderingError{Op: "render", Err: &ExitError{Code: res.Code}}
	}
	return res, nil
}

func (p *Project) build(ctx context.Context, src Source, opts Options) (*build, error) {
	if err := p.Validate(); err != nil {
		return nil, &RenderingError{Op: "validate", Err: err}
	}
	cfg := config.Default()
	if opts.Config != nil {
		cfg = opts.Config.Snapshot()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("project")
	}
	log = log.With(zap.String("project", p.Name))

	b := &build{cfg: cfg, log: log, workDir: opts.WorkDir}
	if b.workDir == "" {
		b.workDir = p.Dir()
	}
	b.width, b.height = p.frame(cfg.RenderWidth, cfg.RenderHeight)
	uv, _ := mesh.ParseProjection(p.UVProjection)

	h, err := renderer.NewHandler(p.Renderer, renderer.Options{
		ProjectDir:        b.workDir,
		ObjectDir:         renderer.FileName(p.Name) + "_objects",
		SkipMeshing:       opts.SkipMeshing,
		Width:             b.width,
		Height:            b.height,
		TransparencyBoost: p.TransparencySensitivity,
		ColorMode:         cfg.ColorMode(),
		Engine:            mesh.NewEngine(cfg.Workers()),
		Lookup:            src.Material,
		Logger:            log.Named("renderer"),
	})
	if err != nil {
		return nil, &RenderingError{Op: "build", Err: err}
	}
	b.handler = h

	bb := src.Bounds()
	camera, err := h.DefaultCameraString(bb)
	if err != nil {
		return nil, &RenderingError{Op: "build", Err: &ConfigurationError{Field: "width/height", Err: err}}
	}

	objects := make([]string, 0, len(p.Views)+1)
	for _, v := range p.Views {
		if err := ctx.Err(); err != nil {
			return nil, &RenderingError{Op: "build", Err: err}
		}
		obj, ok := src.Object(v.Object)
		if !ok {
			log.Warn("view source not found, skipping", zap.String("object", v.Object))
			continue
		}
		view := renderer.View{
			Object:          obj,
			AutoSmooth:      p.AutoSmooth,
			AutoSmoothAngle: p.smoothAngle(),
			UVProjection:    uv,
		}
		if v.Material != "" {
			mat, ok := src.Material(v.Material)
			if !ok {
				log.Warn("view material not found, using the object's", zap.String("object", v.Object), zap.String("material", v.Material))
			}
			view.Material = mat
		}
		text, err := h.RenderingString(ctx, src, view)
		if err != nil {
			return nil, &RenderingError{Op: "build", Err: err}
		}
		objects = append(objects, text)
	}

	if gp := p.GroundPlane; gp.Enabled {
		c, _ := gp.RGB()
		text, err := h.GroundPlane(ctx, bb, gp.Z, c, gp.SizeFactor)
		if err != nil {
			return nil, &RenderingError{Op: "build", Err: err}
		}
		objects = append(objects, text)
	}

	am := opts.Assets
	if am == nil {
		am = assets.NewManager()
		am.AddDir(p.Dir())
		for _, dir := range cfg.TemplateDirs {
			am.AddDir(dir)
		}
		defer am.Close()
	}
	asm := assembler.New(am, log.Named("assembler"))
	template, err := asm.LoadTemplate(p.Template)
	if err != nil {
		return nil, &RenderingError{Op: "build", Err: &ConfigurationError{Field: p.Template, Err: err}}
	}
	content := asm.Assemble(template, camera, objects)

	b.scene, err = assembler.WriteScene(b.workDir, p.Name, p.Template, content)
	if err != nil {
		return nil, &RenderingError{Op: "build", Err: err}
	}
	log.Info("scene written", zap.String("file", b.scene), zap.Int("views", len(p.Views)))
	return b, nil
}
