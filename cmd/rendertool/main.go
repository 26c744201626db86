// rendertool is a CLI utility for inspecting scenes, material cards,
// templates and renderer plugins.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"github.com/Faultbox/raybridge/internal/assembler"
	"github.com/Faultbox/raybridge/internal/baker"
	"github.com/Faultbox/raybridge/internal/config"
	"github.com/Faultbox/raybridge/internal/logger"
	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/renderer"
	_ "github.com/Faultbox/raybridge/internal/renderer/plugins"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/encoding"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "obj":
		cmdOBJ(args)
	case "card":
		cmdCard(args)
	case "plugins":
		cmdPlugins(args)
	case "import":
		cmdImport(args)
	case "template":
		cmdTemplate(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`rendertool - raybridge scene and material utility

Usage:
  rendertool <command> [options]

Commands:
  info <scene>                         List scene objects and materials
  obj [-uv P] [-smooth A] <scene> <object> [outdir]
                                       Export the meshes of an object as OBJ
  card [-renderer R] [-precise] <file.FCMat>
                                       Resolve a material card for a renderer
  plugins                              List renderer plugins
  import <file> <destdir>              Convert a MaterialX file to a card
  template <file>                      Check a scene template for markers

Examples:
  rendertool info scene.yaml
  rendertool obj -uv spherical scene.yaml Sphere ./out
  rendertool card -renderer Cycles Wood.FCMat
  rendertool import wood.zip ./materials`)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rendertool info <scene>")
		os.Exit(1)
	}

	doc, err := scene.Load(args[0])
	if err != nil {
		fail(err)
	}

	names := doc.Names()
	fmt.Printf("Scene: %s\n", doc.Path)
	fmt.Printf("Objects: %d\n", len(names))
	fmt.Printf("Materials: %d\n", len(doc.Materials))
	bb := doc.Bounds()
	if bb.IsValid() {
		fmt.Printf("Bounds: (%.3f, %.3f, %.3f) - (%.3f, %.3f, %.3f)\n",
			bb.Min.X, bb.Min.Y, bb.Min.Z, bb.Max.X, bb.Max.Y, bb.Max.Z)
	}

	fmt.Println("\nObjects:")
	for _, name := range names {
		o, _ := doc.Object(name)
		label := o.Label
		if label == "" {
			label = "-"
		}
		mat := o.Material
		if mat == "" {
			mat = "-"
		}
		fmt.Printf("  %-30s %-20s %s\n", name, label, mat)
	}
}

func cmdOBJ(args []string) {
	fs := flag.NewFlagSet("obj", flag.ExitOnError)
	uv := fs.String("uv", "", "Compute a UV map: cubic, spherical or cylindric")
	smooth := fs.Float64("smooth", 0, "Autosmooth split angle in degrees (0: off)")
	boost := fs.Int("boost", 0, "Transparency boost, 0 to 10")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: rendertool obj [-uv P] [-smooth A] <scene> <object> [outdir]")
		os.Exit(1)
	}
	outDir := "."
	if fs.NArg() > 2 {
		outDir = fs.Arg(2)
	}

	doc, err := scene.Load(fs.Arg(0))
	if err != nil {
		fail(err)
	}
	obj, ok := doc.Object(fs.Arg(1))
	if !ok {
		fail(fmt.Errorf("object %q not found", fs.Arg(1)))
	}

	rends, err := scene.Renderables(doc, obj, nil, scene.Options{TransparencyBoost: *boost})
	if err != nil {
		fail(err)
	}
	if err := scene.CheckRenderables(rends); err != nil {
		fail(err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := mesh.NewEngine(runtime.NumCPU())
	for _, r := range rends {
		path, err := exportOBJ(ctx, eng, r, outDir, *uv, *smooth)
		if err != nil {
			fail(fmt.Errorf("%s: %w", r.Name, err))
		}
		fmt.Printf("%s: %d points, %d facets -> %s\n", r.Name, len(r.Mesh.Points), len(r.Mesh.Facets), path)
	}
}

// exportOBJ writes one renderable in scene coordinates.
func exportOBJ(ctx context.Context, eng *mesh.Engine, r scene.Renderable, outDir, uv string, smooth float64) (string, error) {
	m := r.Mesh.Copy()
	m.ApplyPlacement()

	if uv != "" || r.NeedsUVMap() {
		p, err := mesh.ParseProjection(uv)
		if err != nil {
			return "", err
		}
		if err := eng.ComputeUVMap(ctx, m, p); err != nil {
			return "", err
		}
	}
	if smooth > 0 {
		if _, err := eng.Autosmooth(ctx, m, smooth); err != nil {
			return "", err
		}
	}
	if !m.HasVNormals() {
		if err := eng.ComputeVertexNormals(ctx, m); err != nil {
			return "", err
		}
	}

	path := filepath.Join(outDir, renderer.FileName(r.Name)+".obj")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := eng.WriteOBJ(ctx, f, m, mesh.OBJOptions{Name: r.Name}); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func cmdCard(args []string) {
	fs := flag.NewFlagSet("card", flag.ExitOnError)
	rend := fs.String("renderer", "Pbrt", "Renderer to resolve the material for")
	precise := fs.Bool("precise", false, "Use the precise sRGB transfer curve")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rendertool card [-renderer R] [-precise] <file.FCMat>")
		os.Exit(1)
	}

	mat, err := material.LoadCard(fs.Arg(0))
	if err != nil {
		fail(err)
	}
	if err := mat.Validate(); err != nil {
		fail(err)
	}

	mode := color.Fast
	if *precise {
		mode = color.Precise
	}
	shader, err := material.Resolve(mat, *rend, color.White, material.Options{Mode: mode})
	if err != nil {
		fail(err)
	}

	fmt.Printf("Material: %s\n", mat.Name)
	fmt.Printf("Renderer: %s\n", *rend)
	if shader.Passthrough != "" {
		fmt.Printf("Passthrough:\n%s\n", shader.Passthrough)
		return
	}
	fmt.Printf("Shader: %s\n", shader.Type)
	fmt.Println("\nParameters:")
	for _, p := range shader.Params {
		fmt.Printf("  %-20s %-10s %s\n", p.Name, p.Type, paramValue(p))
	}
	for _, w := range shader.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
}

func paramValue(p material.Resolved) string {
	if p.Texture != nil {
		return fmt.Sprintf("texture %s (%s)", p.Texture.Name, p.Texture.File)
	}
	switch p.Type {
	case material.TypeRGB:
		return fmt.Sprintf("(%.4f, %.4f, %.4f)", p.Color.R, p.Color.G, p.Color.B)
	case material.TypeFloat, material.TypeTexScalar:
		return fmt.Sprintf("%g", p.Float)
	default:
		return p.Str
	}
}

func cmdPlugins(args []string) {
	names := renderer.Names()
	sort.Strings(names)
	fmt.Printf("Renderer plugins: %d\n\n", len(names))
	for _, name := range names {
		p, err := renderer.Lookup(name)
		if err != nil {
			fail(err)
		}
		fmt.Printf("  %-12s templates: %-10s materials: %s\n",
			name, p.TemplateFilter(), strings.Join(p.Materials(), ", "))
	}
}

func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	size := fs.Float64("polyhaven-size", 0, "Real size of the textures, in meters")
	disp2bump := fs.Bool("disp2bump", false, "Use the displacement map as bump map")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: rendertool import <file> <destdir>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	if err := logger.Init(cfg.Logging.Level, ""); err != nil {
		fail(err)
	}
	defer logger.Sync()

	command, err := cfg.Converter()
	if err != nil {
		fail(err)
	}
	im, err := baker.NewImporter(command, logger.Named("importer"))
	if err != nil {
		fail(err)
	}
	im.PolyhavenSize = *size
	im.Disp2Bump = *disp2bump

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	im.Progress = func(value, maximum int) {
		bar.ChangeMax(maximum)
		bar.Set(value)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mat, err := im.Run(ctx, fs.Arg(0), fs.Arg(1))
	bar.Finish()
	if err != nil {
		fail(err)
	}
	fmt.Printf("Material: %s\n", mat.Name)
	fmt.Printf("Directory: %s\n", mat.BaseDir)
	fmt.Printf("Textures: %d\n", len(mat.Textures))
}

func cmdTemplate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rendertool template <file>")
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fail(err)
	}
	text := encoding.DecodeText(data)

	camera := strings.Contains(text, assembler.CameraMarker)
	content := strings.Contains(text, assembler.ContentMarker)
	fmt.Printf("Template: %s\n", args[0])
	fmt.Printf("Lines: %d\n", strings.Count(text, "\n")+1)
	fmt.Printf("Camera marker: %v\n", camera)
	fmt.Printf("Content marker: %v\n", content)

	var fits []string
	base := filepath.Base(args[0])
	for _, name := range renderer.Names() {
		p, err := renderer.Lookup(name)
		if err != nil {
			continue
		}
		if matchFilter(p.TemplateFilter(), base) {
			fits = append(fits, name)
		}
	}
	sort.Strings(fits)
	if len(fits) > 0 {
		fmt.Printf("Renderers: %s\n", strings.Join(fits, ", "))
	}
	if !content {
		fail(fmt.Errorf("%s has no %s marker", args[0], assembler.ContentMarker))
	}
}

// matchFilter matches a file name against the patterns of a file dialog
// filter such as "Pbrt templates (pbrt_*.pbrt)".
func matchFilter(filter, name string) bool {
	open, end := strings.IndexByte(filter, '('), strings.LastIndexByte(filter, ')')
	if open < 0 || end < open {
		return false
	}
	for _, pattern := range strings.Fields(filter[open+1 : end]) {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
