// Package d2 compiles D2 diagram source to SVG in-process.
package d2

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"oss.terrastruct.com/d2/d2graph"
	"oss.terrastruct.com/d2/d2layouts/d2dagrelayout"
	"oss.terrastruct.com/d2/d2layouts/d2elklayout"
	"oss.terrastruct.com/d2/d2lib"
	"oss.terrastruct.com/d2/d2renderers/d2svg"
	"oss.terrastruct.com/d2/d2themes/d2themescatalog"
	d2log "oss.terrastruct.com/d2/lib/log"
	"oss.terrastruct.com/d2/lib/textmeasure"
)

// ErrEmptyDiagram is returned for a fence with no content.
var ErrEmptyDiagram = errors.New("empty d2 diagram")

// Result is a compiled diagram.
type Result struct {
	SVG      string
	Duration time.Duration
}

// Options configure the compiler.
type Options struct {
	// Timeout bounds a single compilation. Defaults to 12s.
	Timeout time.Duration
	// Light selects the light theme for both color schemes.
	Light bool
}

// Renderer compiles diagrams and remembers the SVG of every source it has
// seen, so re-rendering an unchanged page skips layout.
type Renderer struct {
	logger  *slog.Logger
	timeout time.Duration
	theme   int64
	cache   sync.Map // [sha256.Size]byte -> Result
}

// New returns a renderer. opts may be nil.
func New(logger *slog.Logger, opts *Options) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{
		logger:  logger.With("component", "d2"),
		timeout: 12 * time.Second,
		theme:   d2themescatalog.DarkFlagshipTerrastruct.ID,
	}
	if opts != nil {
		if opts.Timeout > 0 {
			r.timeout = opts.Timeout
		}
		if opts.Light {
			r.theme = d2themescatalog.NeutralDefault.ID
		}
	}
	return r
}

// Compile renders source to SVG. Layout engines are chosen by the diagram's
// own vars block; dagre is the default.
func (r *Renderer) Compile(ctx context.Context, source string) (Result, error) {
	if strings.TrimSpace(source) == "" {
		return Result{}, ErrEmptyDiagram
	}
	key := sha256.Sum256([]byte(source))
	if cached, ok := r.cache.Load(key); ok {
		return cached.(Result), nil
	}

	ctx, cancel := context.WithTimeout(d2log.With(ctx, r.logger), r.timeout)
	defer cancel()

	ruler, err := textmeasure.NewRuler()
	if err != nil {
		return Result{}, fmt.Errorf("init ruler: %w", err)
	}

	pad := int64(d2svg.DEFAULT_PADDING)
	renderOpts := &d2svg.RenderOpts{
		ThemeID:     &r.theme,
		DarkThemeID: &r.theme,
		Pad:         &pad,
	}

	start := time.Now()
	diagram, _, err := d2lib.Compile(ctx, source, &d2lib.CompileOptions{
		Ruler:          ruler,
		LayoutResolver: layoutFor,
	}, renderOpts)
	if err != nil {
		return Result{}, fmt.Errorf("compile d2: %w", err)
	}
	if diagram == nil {
		return Result{}, errors.New("compile d2: no diagram produced")
	}

	svg, err := d2svg.Render(diagram, renderOpts)
	if err != nil {
		return Result{}, fmt.Errorf("render svg: %w", err)
	}

	res := Result{SVG: string(svg), Duration: time.Since(start)}
	r.cache.Store(key, res)
	r.logger.Debug("compiled diagram", slog.Duration("elapsed", res.Duration))
	return res, nil
}

func layoutFor(engine string) (d2graph.LayoutGraph, error) {
	switch strings.ToLower(engine) {
	case "", "dagre":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2dagrelayout.Layout(ctx, g, nil)
		}, nil
	case "elk":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2elklayout.Layout(ctx, g, nil)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported d2 layout %q", engine)
	}
}
