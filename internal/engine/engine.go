// Package engine runs the label pipeline end to end: resolve the template
// against data, lay it out, render it, serialize it to TSPL and dispatch it.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/layout"
	"github.com/thereceipt/label-engine/internal/logging"
	"github.com/thereceipt/label-engine/internal/printer"
	"github.com/thereceipt/label-engine/internal/renderer"
	"github.com/thereceipt/label-engine/internal/resolver"
	"github.com/thereceipt/label-engine/internal/textraster"
	"github.com/thereceipt/label-engine/internal/tspl"
	"github.com/thereceipt/label-engine/pkg/labelformat"
)

// Options configures an Engine
type Options struct {
	Fonts     textraster.Options
	OutputDir string
	// Backends are routed after the virtual backend, in order
	Backends []printer.Backend
}

// Engine owns the long-lived pipeline pieces. It is safe for concurrent use.
type Engine struct {
	fonts   textraster.Options
	base    *pipeline
	virtual *printer.VirtualBackend
	manager *printer.Manager

	mu sync.Mutex
	// keyed by the template's font paths
	pipelines map[labelformat.Fonts]*pipeline
}

// pipeline is the font-dependent part of rendering
type pipeline struct {
	text     *textraster.Rasterizer
	layout   *layout.Engine
	renderer *renderer.Renderer
}

func newPipeline(text *textraster.Rasterizer) *pipeline {
	return &pipeline{
		text:     text,
		layout:   layout.New(text),
		renderer: renderer.New(text),
	}
}

// New loads fonts and prepares the virtual backend under opts.OutputDir
func New(opts Options) (*Engine, error) {
	text, err := textraster.New(opts.Fonts)
	if err != nil {
		return nil, fmt.Errorf("failed to load fonts: %w", err)
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "output"
	}
	virtual, err := printer.NewVirtualBackend(dir, tspl.DefaultDPI, text)
	if err != nil {
		return nil, err
	}

	backends := append([]printer.Backend{virtual}, opts.Backends...)

	return &Engine{
		fonts:     opts.Fonts,
		base:      newPipeline(text),
		virtual:   virtual,
		manager:   printer.NewManager(backends...),
		pipelines: make(map[labelformat.Fonts]*pipeline),
	}, nil
}

// pipelineFor returns the pipeline for the template's font overrides,
// loading the fonts the first time a pair is seen
func (e *Engine) pipelineFor(tpl *labelformat.Template) (*pipeline, error) {
	if tpl.Fonts == (labelformat.Fonts{}) {
		return e.base, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.pipelines[tpl.Fonts]; ok {
		return p, nil
	}

	opts := e.fonts
	if tpl.Fonts.LatinPath != "" {
		opts.LatinPath = tpl.Fonts.LatinPath
	}
	if tpl.Fonts.CJKPath != "" {
		opts.CJKPath = tpl.Fonts.CJKPath
	}
	text, err := textraster.New(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: fonts: %v", labelerr.ErrInvalidTemplate, err)
	}

	p := newPipeline(text)
	e.pipelines[tpl.Fonts] = p
	logging.Logger().Info("loaded template fonts", "template", tpl.Name, "latin", tpl.Fonts.LatinPath, "cjk", tpl.Fonts.CJKPath)
	return p, nil
}

// Manager returns the device router
func (e *Engine) Manager() *printer.Manager {
	return e.manager
}

// Virtual returns the file backend used for previews
func (e *Engine) Virtual() *printer.VirtualBackend {
	return e.virtual
}

// Text returns the rasterizer for templates without font overrides
func (e *Engine) Text() *textraster.Rasterizer {
	return e.base.text
}

// ResolveMode picks the requested mode, then the template's, then mixed
func ResolveMode(requested string, tpl *labelformat.Template) (renderer.Mode, error) {
	name := requested
	if name == "" && tpl != nil {
		name = tpl.Output.Mode
	}
	if name == "" {
		return renderer.ModeMixed, nil
	}

	mode, err := renderer.ParseMode(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", labelerr.ErrInvalidMode, err)
	}
	return mode, nil
}

// Render resolves, lays out and renders tpl. A nil template uses the
// built-in default.
func (e *Engine) Render(tpl *labelformat.Template, data map[string]string, mode string) (renderer.Result, error) {
	if tpl == nil {
		tpl = labelformat.Default()
	}
	if err := labelformat.Validate(tpl); err != nil {
		return nil, fmt.Errorf("%w: %v", labelerr.ErrInvalidTemplate, err)
	}

	m, err := ResolveMode(mode, tpl)
	if err != nil {
		return nil, err
	}

	p, err := e.pipelineFor(tpl)
	if err != nil {
		return nil, err
	}

	resolved, err := resolver.Resolve(tpl, data)
	if err != nil {
		return nil, err
	}

	res, err := p.layout.Layout(tpl, resolved)
	if err != nil {
		return nil, err
	}

	result, err := p.renderer.Render(res, m)
	if err != nil {
		return nil, err
	}

	logging.Logger().Debug("rendered label", "template", tpl.Name, "mode", m.String(), "elements", len(res.Elements))
	return result, nil
}

// GenerateTSPL renders tpl and serializes it into a print job. Equal
// inputs produce byte-identical output.
func (e *Engine) GenerateTSPL(tpl *labelformat.Template, data map[string]string, mode string) ([]byte, error) {
	if tpl == nil {
		tpl = labelformat.Default()
	}

	result, err := e.Render(tpl, data, mode)
	if err != nil {
		return nil, err
	}

	return tspl.Generate(result, TSPLConfig(tpl))
}

// Preview renders tpl and writes the composed page as a PNG
func (e *Engine) Preview(tpl *labelformat.Template, data map[string]string, mode string) (*printer.Preview, error) {
	result, err := e.Render(tpl, data, mode)
	if err != nil {
		return nil, err
	}

	return e.virtual.Preview(result)
}

// Print generates the job for tpl and sends it to device
func (e *Engine) Print(ctx context.Context, device string, tpl *labelformat.Template, data map[string]string, mode string) (printer.Result, error) {
	job, err := e.GenerateTSPL(tpl, data, mode)
	if err != nil {
		return printer.Result{}, err
	}

	return e.manager.SendRaw(ctx, device, job)
}

// TSPLConfig derives the page config for tpl. Out-of-range settings are
// replaced with defaults and logged.
func TSPLConfig(tpl *labelformat.Template) tspl.Config {
	cfg := tspl.DefaultConfig(tpl.Page.WidthMM, tpl.Page.HeightMM)
	cfg.DPI = tpl.Page.DPI
	cfg.Threshold = uint8(tpl.Output.ThresholdOrDefault())

	cfg, warnings := tspl.NormalizeConfig(cfg)
	for _, w := range warnings {
		logging.Logger().Warn("adjusted print config", "template", tpl.Name, "warning", w)
	}
	return cfg
}
