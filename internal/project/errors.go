package project

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Faultbox/raybridge/internal/assembler"
	"github.com/Faultbox/raybridge/internal/baker"
	"github.com/Faultbox/raybridge/internal/config"
	"github.com/Faultbox/raybridge/internal/renderer"
)

var (
	ErrNoRenderer       = errors.New("no renderer selected")
	ErrNoTemplate       = errors.New("no template selected")
	ErrBadDimensions    = errors.New("invalid frame dimensions")
	ErrBadSensitivity   = errors.New("transparency sensitivity out of range")
	ErrBadSmoothAngle   = errors.New("autosmooth angle out of range")
	ErrBadGroundPlane   = errors.New("invalid ground plane")
	ErrBadSamples       = errors.New("invalid samples per pixel")
	ErrRendererExited   = errors.New("renderer exited with an error")
	ErrRendererSignaled = errors.New("renderer was interrupted")
)

// ConfigurationError reports a project or preference setting that
// prevents rendering.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// RenderingError is the error surfaced by the project for a failed
// render step.
type RenderingError struct {
	Op  string
	Err error
}

func (e *RenderingError) Error() string {
	return fmt.Sprintf("rendering (%s): %v", e.Op, e.Err)
}

func (e *RenderingError) Unwrap() error { return e.Err }

// ExitError carries the exit code of a failed renderer run.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%v (code %d)", ErrRendererExited, e.Code)
}

func (e *ExitError) Unwrap() error { return ErrRendererExited }

// User messages, keyed by their English text.
const (
	msgCannotRender    = "Cannot render project: %s"
	msgNoRenderer      = "No renderer selected"
	msgPlugin          = "Cannot load renderer plugin '%s'"
	msgNotConfigured   = "Renderer executable not set for '%s', check the preferences"
	msgNoTemplate      = "Cannot find template file '%s'"
	msgNoTemplateSet   = "No template selected"
	msgDimensions      = "Invalid render dimensions"
	msgNoCamera        = "The scene has no camera"
	msgRendererExited  = "Renderer exited with code %d"
	msgInterrupted     = "Rendering interrupted"
	msgMaterialX       = "MaterialX import failed: %s"
	msgConverterSetup  = "Cannot find the material converter"
	msgInvalidSettings = "Invalid project setting '%s'"
)

func init() {
	fr := language.French
	for key, msg := range map[string]string{
		msgCannotRender:    "Impossible de faire le rendu du projet : %s",
		msgNoRenderer:      "Aucun moteur de rendu sélectionné",
		msgPlugin:          "Impossible de charger le greffon de rendu '%s'",
		msgNotConfigured:   "Exécutable du moteur '%s' non défini, vérifiez les préférences",
		msgNoTemplate:      "Fichier modèle '%s' introuvable",
		msgNoTemplateSet:   "Aucun modèle sélectionné",
		msgDimensions:      "Dimensions de rendu invalides",
		msgNoCamera:        "La scène n'a pas de caméra",
		msgRendererExited:  "Le moteur de rendu s'est terminé avec le code %d",
		msgInterrupted:     "Rendu interrompu",
		msgMaterialX:       "Échec de l'import MaterialX : %s",
		msgConverterSetup:  "Convertisseur de matériaux introuvable",
		msgInvalidSettings: "Paramètre de projet invalide '%s'",
	} {
		message.SetString(fr, key, msg)
	}
}

// Localize returns the user message for err in English.
func Localize(err error) string {
	return LocalizeIn(language.English, err)
}

// LocalizeIn returns the user message for err in the language tag.
func LocalizeIn(tag language.Tag, err error) string {
	if err == nil {
		return ""
	}
	p := message.NewPrinter(tag)

	var (
		plugin *renderer.PluginError
		cfgErr *ConfigurationError
		exit   *ExitError
		mtlx   *baker.MaterialXError
		venv   *config.VenvError
	)
	switch {
	case errors.Is(err, ErrRendererSignaled), errors.Is(err, baker.ErrInterrupted):
		return p.Sprintf(msgInterrupted)
	case errors.As(err, &exit):
		return p.Sprintf(msgRendererExited, exit.Code)
	case errors.Is(err, renderer.ErrNoCamera):
		return p.Sprintf(msgNoCamera)
	case errors.As(err, &plugin) && errors.Is(err, renderer.ErrPluginNotFound):
		return p.Sprintf(msgPlugin, plugin.Name)
	case errors.Is(err, assembler.ErrTemplateNotFound):
		return p.Sprintf(msgNoTemplate, templateName(err))
	case errors.As(err, &mtlx):
		return p.Sprintf(msgMaterialX, mtlx.Message())
	case errors.As(err, &venv):
		return p.Sprintf(msgConverterSetup)
	case errors.As(err, &cfgErr):
		switch {
		case errors.Is(err, ErrNoRenderer):
			return p.Sprintf(msgNoRenderer)
		case errors.Is(err, ErrNoTemplate):
			return p.Sprintf(msgNoTemplateSet)
		case errors.Is(err, ErrBadDimensions), errors.Is(err, renderer.ErrNoResolution):
			return p.Sprintf(msgDimensions)
		case errors.Is(err, config.ErrRendererNotConfigured):
			return p.Sprintf(msgNotConfigured, cfgErr.Field)
		}
		return p.Sprintf(msgInvalidSettings, cfgErr.Field)
	}
	return p.Sprintf(msgCannotRender, err.Error())
}

// templateName extracts the path from a wrapped ErrTemplateNotFound.
func templateName(err error) string {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Field
	}
	return ""
}
