package baker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/raybridge/internal/assets"
	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/pkg/archive"
	"github.com/Faultbox/raybridge/pkg/imageio"
)

// CardName is the file name of the card a conversion produces.
const CardName = "out.FCMat"

// ConvertOptions configures Convert.
type ConvertOptions struct {
	// File is a .mtlx document or a zip archive holding one.
	File string
	// DestDir receives the extracted archive, baked images and the card.
	DestDir string
	// PolyhavenSize, when positive, is the real texture size in meters.
	PolyhavenSize float64
	// Disp2Bump routes displacement to the bump input.
	Disp2Bump bool
	// Baker holds baking options; size and output directory are computed.
	Baker  Options
	Logger *zap.Logger
}

// Convert runs the full conversion: extract, read, translate, bake and
// write a card. It returns the card path. Failures are *MaterialXError
// values carrying the converter code, or ErrInterrupted.
func Convert(ctx context.Context, opts ConvertOptions) (string, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if st, err := os.Stat(opts.DestDir); err != nil || !st.IsDir() {
		return "", NewError(CodeBadDestination, fmt.Errorf("%s is not a directory", opts.DestDir))
	}
	destDir, err := filepath.Abs(opts.DestDir)
	if err != nil {
		return "", NewError(CodeBadDestination, err)
	}

	mtlxPath, err := unpack(ctx, opts.File, destDir, log)
	if err != nil {
		return "", err
	}

	log.Info("reading MaterialX file", zap.String("file", mtlxPath))
	doc, err := LoadDocument(mtlxPath)
	if err != nil {
		return "", NewError(CodeUnrecognized, err)
	}
	switch n := len(doc.Materials()); {
	case n == 0:
		return "", NewError(CodeNoMaterial, nil)
	case n > 1:
		return "", NewError(CodeTooManyMaterials, fmt.Errorf("%d materials", n))
	}

	log.Info("translating material to render format")
	if err := Translate(doc); err != nil {
		if errors.Is(err, ErrDisplacementTranslation) {
			return "", NewError(CodeDisplacement, err)
		}
		return "", NewError(CodeSurface, err)
	}
	if ctx.Err() != nil {
		return "", ErrInterrupted
	}

	if opts.PolyhavenSize > 0 {
		correctPolyhavenSize(doc, opts.PolyhavenSize, log)
	}

	subs := fileSubstitutions(doc, destDir, log)

	am := assets.NewManager()
	defer am.Close()
	am.AddDir(doc.Dir())
	am.AddDir(destDir)

	bopts := opts.Baker
	bopts.OutputDir = destDir
	bopts.FilenameSubstitutions = subs
	w, h := imageio.MaxSize(referencedImages(doc, am, subs))
	bopts.Width = max(w, imageio.MinFrameSize)
	bopts.Height = max(h, imageio.MinFrameSize)
	if bopts.FilenameTemplate == "" {
		bopts.FilenameTemplate = DefaultFilenameTemplate
	}

	b, err := New(bopts, am, log.Named("baker"))
	if err != nil {
		return "", NewError(CodeUnhandled, err)
	}
	log.Info("baking material", zap.Int("width", bopts.Width), zap.Int("height", bopts.Height))
	baked, err := b.Bake(ctx, doc)
	if err != nil {
		if errors.Is(err, ErrInterrupted) {
			return "", err
		}
		return "", NewError(CodeUnhandled, err)
	}

	// keep the baked document next to the images and read it back
	tmp, err := os.CreateTemp(destDir, "*.mtlx")
	if err != nil {
		return "", NewError(CodeUnhandled, err)
	}
	tmp.Close()
	if err := baked.Save(tmp.Name()); err != nil {
		return "", NewError(CodeUnhandled, err)
	}
	baked, err = LoadDocument(tmp.Name())
	if err != nil {
		return "", NewError(CodeUnhandled, err)
	}
	for _, w := range baked.Validate() {
		log.Warn("validation warning for baked document", zap.String("detail", w))
	}

	mat, err := ToMaterial(baked, opts.Disp2Bump)
	if err != nil {
		return "", NewError(CodeUnhandled, err)
	}
	cardPath := filepath.Join(destDir, CardName)
	log.Info("creating material card", zap.String("file", cardPath))
	if err := material.SaveCard(cardPath, mat); err != nil {
		return "", NewError(CodeUnhandled, err)
	}
	return cardPath, nil
}

// unpack extracts an archive into destDir and returns the document path.
// A plain document path is returned unchanged.
func unpack(ctx context.Context, file, destDir string, log *zap.Logger) (string, error) {
	isZip, err := archive.IsArchive(file)
	if err != nil {
		return "", NewError(CodeMissingMtlx, err)
	}
	if !isZip {
		return file, nil
	}
	if ctx.Err() != nil {
		return "", ErrInterrupted
	}

	a, err := archive.Open(file)
	if err != nil {
		return "", NewError(CodeUnrecognized, err)
	}
	defer a.Close()
	log.Info("extracting archive", zap.String("dest", destDir))
	if _, err := a.Extract(destDir); err != nil {
		return "", NewError(CodeUnhandled, err)
	}
	docs := a.FindByExt(".mtlx")
	sort.Slice(docs, func(i, j int) bool {
		// prefer top-level documents
		di, dj := strings.Count(docs[i], "/"), strings.Count(docs[j], "/")
		if di != dj {
			return di < dj
		}
		return docs[i] < docs[j]
	})
	if len(docs) == 0 {
		return "", NewError(CodeMissingMtlx, fmt.Errorf("no .mtlx file in %s", file))
	}
	return filepath.Join(destDir, filepath.FromSlash(docs[0])), nil
}

// correctPolyhavenSize sets the "uv" scaling node to 1/size.
func correctPolyhavenSize(doc *Document, size float64, log *zap.Logger) {
	uv := doc.FindByName("uv")
	if uv == nil {
		return
	}
	unit := "meter"
	if size > 1 {
		unit = "meters"
	}
	log.Info("polyhaven material detected, using actual texture size",
		zap.String("size", strconv.FormatFloat(size, 'g', -1, 64)+" "+unit))
	value := uv.Input("value")
	if value == nil {
		value = uv.AddChild("input", "value", "vector2")
	}
	value.SetAttr("value", strconv.FormatFloat(1/size, 'g', -1, 64))
}

// fileInputs lists the values of every filename input.
func fileInputs(doc *Document) []string {
	seen := map[string]bool{}
	var files []string
	doc.Root.Walk(func(e *Element) {
		if e.Category() != "input" || e.Type() != "filename" {
			return
		}
		v := e.Attr("value")
		if v != "" && !seen[v] {
			seen[v] = true
			files = append(files, v)
		}
	})
	return files
}

// fileSubstitutions finds, for each missing referenced file, a file with
// the same name ignoring case.
func fileSubstitutions(doc *Document, destDir string, log *zap.Logger) map[string]string {
	subs := map[string]string{}
	tiles := doc.UDIMSet()
	if len(tiles) == 0 {
		tiles = []string{""}
	}
	for _, name := range fileInputs(doc) {
		for _, tile := range tiles {
			probe := strings.ReplaceAll(name, udimToken, tile)
			if _, done := subs[probe]; done {
				continue
			}
			rel := filepath.FromSlash(probe)
			if filepath.IsAbs(rel) || fileExists(filepath.Join(doc.Dir(), rel)) || fileExists(filepath.Join(destDir, rel)) {
				continue
			}
			for _, root := range []string{doc.Dir(), destDir} {
				if found, ok := archive.FindCaseInsensitive(root, rel); ok {
					if r, err := filepath.Rel(root, found); err == nil {
						found = r
					}
					subs[probe] = filepath.ToSlash(found)
					log.Info("file substitution", zap.String("from", probe), zap.String("to", subs[probe]))
					break
				}
			}
		}
	}
	return subs
}

func firstTile(doc *Document) string {
	if tiles := doc.UDIMSet(); len(tiles) > 0 {
		return tiles[0]
	}
	return ""
}

// referencedImages returns the resolved paths of the document images.
func referencedImages(doc *Document, am *assets.Manager, subs map[string]string) []string {
	var paths []string
	for _, name := range fileInputs(doc) {
		name = strings.ReplaceAll(name, udimToken, firstTile(doc))
		if s, ok := subs[name]; ok {
			name = s
		}
		if p, ok := am.Resolve(filepath.FromSlash(name)); ok {
			paths = append(paths, p)
		}
	}
	return paths
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
