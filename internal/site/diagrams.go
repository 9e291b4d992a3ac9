package site

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/euforicio/docsite/internal/renderer/d2"
)

// diagramEncoder replaces diagram fences with PNG data URI images, so the
// PDF renderer needs no knowledge of diagram nodes.
type diagramEncoder struct {
	d2 *d2.Renderer
}

type fence struct {
	marker string
	lang   string
	open   string
	body   bytes.Buffer
}

// encode rewrites ```d2 and ```mermaid fences. A fence that fails to render
// is kept verbatim.
func (e diagramEncoder) encode(ctx context.Context, raw []byte) ([]byte, error) {
	var (
		out     bytes.Buffer
		current *fence
	)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if current == nil {
			if marker, lang, ok := parseFenceStart(trimmed); ok && isDiagramLang(lang) {
				current = &fence{marker: marker, lang: strings.ToLower(lang), open: line}
				continue
			}
			writeLine(&out, line)
			continue
		}

		if trimmed != strings.Repeat(current.marker[:1], len(current.marker)) {
			writeLine(&current.body, line)
			continue
		}

		img, err := e.image(ctx, current.lang, current.body.String())
		if err != nil {
			writeLine(&out, current.open)
			out.Write(current.body.Bytes())
			writeLine(&out, line)
		} else if img != "" {
			fmt.Fprintf(&out, "![%s diagram](%s)\n\n", current.lang, img)
		}
		current = nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// An unclosed fence runs to the end of the document.
	if current != nil {
		writeLine(&out, current.open)
		out.Write(current.body.Bytes())
	}
	return out.Bytes(), nil
}

// image returns a data URI for the diagram, or "" for an empty fence.
func (e diagramEncoder) image(ctx context.Context, lang, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", nil
	}

	var (
		pngData []byte
		err     error
	)
	switch lang {
	case "d2":
		if e.d2 == nil {
			return "", errors.New("d2 renderer unavailable")
		}
		var res d2.Result
		if res, err = e.d2.Compile(ctx, source); err != nil {
			return "", fmt.Errorf("render d2: %w", err)
		}
		if pngData, err = svgToPNG([]byte(res.SVG)); err != nil {
			return "", fmt.Errorf("rasterize d2 svg: %w", err)
		}
	case "mermaid":
		if pngData, err = renderMermaidWithCLI(ctx, source); err != nil {
			return "", fmt.Errorf("render mermaid: %w", err)
		}
	default:
		return "", fmt.Errorf("unsupported diagram language %q", lang)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData), nil
}

func parseFenceStart(line string) (marker, lang string, ok bool) {
	for _, ch := range []byte{'`', '~'} {
		n := 0
		for n < len(line) && line[n] == ch {
			n++
		}
		if n >= 3 {
			return line[:n], strings.TrimSpace(line[n:]), true
		}
	}
	return "", "", false
}

func isDiagramLang(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	return lang == "d2" || lang == "mermaid"
}

func writeLine(buf *bytes.Buffer, line string) {
	buf.WriteString(line)
	buf.WriteByte('\n')
}

// svgToPNG rasterizes an SVG at its view box size.
func svgToPNG(svg []byte) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	width := int(math.Ceil(icon.ViewBox.W))
	height := int(math.Ceil(icon.ViewBox.H))
	if width <= 0 || height <= 0 {
		width, height = 800, 600
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// renderMermaidWithCLI shells out to mermaid-cli; there is no Go renderer.
func renderMermaidWithCLI(ctx context.Context, source string) ([]byte, error) {
	bin, err := exec.LookPath("mmdc")
	if err != nil {
		return nil, fmt.Errorf("mmdc not found: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "docsite-mermaid-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	inPath := filepath.Join(tmpDir, "diagram.mmd")
	outPath := filepath.Join(tmpDir, "diagram.png")
	if err := os.WriteFile(inPath, []byte(source), 0o600); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "-i", inPath, "-o", outPath, "-b", "white", "-s", "2", "--quiet") //nolint:gosec // fixed binary, temp paths
	cmd.Dir = tmpDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("mmdc failed: %w; output: %s", err, output)
	}

	data, err := os.ReadFile(outPath) //nolint:gosec // path inside our temp dir
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("mmdc produced empty png")
	}
	return data, nil
}
