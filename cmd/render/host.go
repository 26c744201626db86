package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"
	"golang.org/x/text/language"

	"github.com/Faultbox/raybridge/internal/config"
	"github.com/Faultbox/raybridge/internal/executor"
	"github.com/Faultbox/raybridge/internal/ipc"
	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/project"
	"github.com/Faultbox/raybridge/internal/scene"
)

// ImageLightName names the environment light set by a sub-application.
const ImageLightName = "__image_light__"

// update changes the host state from the render loop goroutine; it
// reports whether a new render is needed.
type update func(h *host) bool

// host renders one project and re-renders it on file changes and
// sub-application requests.
type host struct {
	cfg         *config.Config
	projectPath string
	scenePath   string
	lang        language.Tag
	batch       bool
	skipMeshing bool
	workDir     string
	buildOnly   bool
	out         io.Writer
	log         *zap.Logger

	proj *project.Project
	doc  *scene.Document
	// set by sub-applications, kept across reloads
	materials  []*material.Material
	imageLight string

	updates chan update
}

// reload reads the project and scene files again.
func (h *host) reload() error {
	proj, err := project.Load(h.projectPath)
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}
	doc, err := scene.Load(h.scenePath)
	if err != nil {
		return fmt.Errorf("loading scene: %w", err)
	}
	h.proj, h.doc = proj, doc
	for _, m := range h.materials {
		doc.AddMaterial(m)
	}
	if h.imageLight != "" {
		return h.setImageLight(h.imageLight)
	}
	return nil
}

// setImageLight adds or replaces the environment light and its view.
func (h *host) setImageLight(image string) error {
	h.imageLight = image
	if o, ok := h.doc.Object(ImageLightName); ok && o.ImageLight != nil {
		o.ImageLight.Image = image
		return nil
	}
	h.doc.Objects = append(h.doc.Objects, &scene.Object{
		Name:       ImageLightName,
		ImageLight: &scene.ImageLight{Image: image},
	})
	if err := h.doc.Index(); err != nil {
		return err
	}
	h.proj.Views = append(h.proj.Views, project.View{Object: ImageLightName})
	return nil
}

// render runs one render and reports the outcome on h.out.
func (h *host) render(ctx context.Context) bool {
	opts := project.Options{
		Config:      h.cfg,
		WorkDir:     h.workDir,
		Batch:       h.batch,
		SkipMeshing: h.skipMeshing,
		Logger:      h.log.Named("project"),
		Events:      h.relay(),
	}
	if h.buildOnly {
		path, err := h.proj.Build(ctx, h.doc, opts)
		if err != nil {
			fmt.Fprintln(h.out, project.LocalizeIn(h.lang, err))
			return false
		}
		fmt.Fprintf(h.out, "Scene: %s\n", path)
		return true
	}

	res, err := h.proj.Render(ctx, h.doc, opts)
	if err != nil {
		h.log.Error("render failed", zap.Error(err))
		fmt.Fprintln(h.out, project.LocalizeIn(h.lang, err))
		return false
	}
	switch {
	case res.DryRun:
		fmt.Fprintf(h.out, "Scene: %s\nCommand: %s\n", res.Scene, res.Command)
	default:
		fmt.Fprintf(h.out, "Image: %s\n", res.Image)
	}
	return true
}

// relay echoes renderer output on terminals, cut to the terminal width.
// Output is always logged by the executor.
func (h *host) relay() func(executor.Event) {
	f, ok := h.out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return func(ev executor.Event) {
		if ev.Kind != executor.EventOutput {
			return
		}
		line := ev.Line
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 1 && len(line) >= w {
			line = line[:w-1]
		}
		fmt.Fprintln(f, line)
	}
}

// loop applies updates and renders again until ctx is done.
func (h *host) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-h.updates:
			if u(h) {
				h.render(ctx)
			}
		}
	}
}

// post queues an update, dropping it when the host is shutting down.
func (h *host) post(ctx context.Context, u update) {
	select {
	case h.updates <- u:
	case <-ctx.Done():
	}
}

// serveIPC accepts sub-applications on a unix socket. MATERIAL loads a
// card into the scene, IMAGELIGHT sets the environment image, CLOSE
// ends the connection.
func (h *host) serveIPC(ctx context.Context, path string) error {
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() { l.Close() })

	go func() {
		for {
			c, err := ipc.Accept(l, h.log.Named("ipc"))
			if err != nil {
				return
			}
			h.handleConn(ctx, c)
			go c.Process(ctx)
		}
	}()
	h.log.Info("waiting for sub-applications", zap.String("socket", path))
	return nil
}

func (h *host) handleConn(ctx context.Context, c *ipc.Conn) {
	c.Handle(ipc.VerbAppName, func(m ipc.Message) error {
		h.log.Info("sub-application connected", zap.String("name", m.Text()))
		return c.Send(ipc.Text(ipc.VerbAppName, "render"))
	})
	c.Handle(ipc.VerbWinID, func(m ipc.Message) error {
		id, err := m.WinID()
		if err != nil {
			return err
		}
		// a console host has no window to embed into
		h.log.Info("sub-application window not embedded", zap.Uint64("winid", id))
		return c.Send(ipc.Signal(ipc.VerbRelease))
	})
	c.Handle(ipc.VerbMaterial, func(m ipc.Message) error {
		mat, err := material.LoadCard(strings.TrimSpace(m.Text()))
		if err != nil {
			return err
		}
		h.post(ctx, func(h *host) bool {
			h.materials = append(h.materials, mat)
			h.doc.AddMaterial(mat)
			h.log.Info("material imported", zap.String("material", mat.Name))
			return true
		})
		return nil
	})
	c.Handle(ipc.VerbImageLight, func(m ipc.Message) error {
		image, err := filepath.Abs(strings.TrimSpace(m.Text()))
		if err != nil {
			return err
		}
		if _, err := os.Stat(image); err != nil {
			return err
		}
		h.post(ctx, func(h *host) bool {
			if err := h.setImageLight(image); err != nil {
				h.log.Warn("cannot set image light", zap.Error(err))
				return false
			}
			return true
		})
		return nil
	})
	c.Handle(ipc.VerbDetach, func(ipc.Message) error {
		return c.Send(ipc.Signal(ipc.VerbRelease))
	})
}
