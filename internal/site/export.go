package site

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	pdf "github.com/stephenafamo/goldmark-pdf"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// Format represents an export format.
type Format string

const (
	// FormatHTML exports as a standalone HTML document.
	FormatHTML Format = "html"
	// FormatMarkdown exports the source unchanged.
	FormatMarkdown Format = "markdown"
	// FormatPlainText exports the rendered text.
	FormatPlainText Format = "txt"
	// FormatPDF exports as PDF.
	FormatPDF Format = "pdf"
)

// ValidFormats returns the list of supported export formats.
func ValidFormats() []Format {
	return []Format{FormatHTML, FormatMarkdown, FormatPlainText, FormatPDF}
}

// ParseFormat normalizes a user supplied format name.
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(raw)))
	if f == "md" {
		f = FormatMarkdown
	}
	for _, valid := range ValidFormats() {
		if f == valid {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported format: %s (allowed: html, pdf, markdown, txt)", raw)
}

// ExportPageOptions configures a single page export.
type ExportPageOptions struct {
	Writer  io.Writer
	Format  Format
	RootDir string
	Path    string
}

// ExportPage writes one page in the requested format.
func (b *Builder) ExportPage(ctx context.Context, opts ExportPageOptions) error {
	if err := validateExportPageOptions(opts); err != nil {
		return err
	}

	rootDir, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	rel, absPath, err := resolveExportPath(rootDir, opts.Path)
	if err != nil {
		return err
	}
	info, raw, err := readExportSource(absPath, opts.Path)
	if err != nil {
		return err
	}

	switch opts.Format {
	case FormatHTML:
		return b.exportHTML(ctx, rel, info.ModTime(), raw, opts.Writer)
	case FormatMarkdown:
		_, err := opts.Writer.Write(raw)
		return err
	case FormatPlainText:
		return b.exportPlainText(ctx, rel, info.ModTime(), raw, opts.Writer)
	case FormatPDF:
		return b.exportPDF(ctx, raw, opts.Writer)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func validateExportPageOptions(opts ExportPageOptions) error {
	if strings.TrimSpace(opts.RootDir) == "" {
		return errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.Path) == "" {
		return errors.New("page path is required")
	}
	if opts.Writer == nil {
		return errors.New("writer is required")
	}
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return err
	}
	return nil
}

func resolveExportPath(rootDir, pagePath string) (string, string, error) {
	clean := filepath.Clean(filepath.FromSlash(pagePath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", errors.New("invalid path: directory traversal not allowed")
	}
	absPath := filepath.Join(rootDir, clean)
	if !strings.HasPrefix(absPath, rootDir+string(filepath.Separator)) {
		return "", "", errors.New("invalid path: must be within root directory")
	}
	return filepath.ToSlash(clean), absPath, nil
}

func readExportSource(absPath, originalPath string) (os.FileInfo, []byte, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("page not found: %s", originalPath)
		}
		return nil, nil, fmt.Errorf("stat page: %w", err)
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("page not found: %s is a directory", originalPath)
	}
	raw, err := os.ReadFile(absPath) //nolint:gosec // absPath constructed from validated root
	if err != nil {
		return nil, nil, fmt.Errorf("read page: %w", err)
	}
	return info, raw, nil
}

func (b *Builder) exportHTML(ctx context.Context, rel string, modTime time.Time, raw []byte, w io.Writer) error {
	doc, err := b.exporter.Render(ctx, rel, modTime, raw)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return b.templates.render(w, "export", struct {
		Title string
		HTML  template.HTML
	}{
		Title: doc.Metadata.Title,
		HTML:  template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
	})
}

func (b *Builder) exportPlainText(ctx context.Context, rel string, modTime time.Time, raw []byte, w io.Writer) error {
	doc, err := b.exporter.Render(ctx, rel, modTime, raw)
	if err != nil {
		return fmt.Errorf("render text: %w", err)
	}
	text, err := plainText(doc.HTML)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, text)
	return err
}

// plainText extracts the visible text of an HTML fragment.
func plainText(fragment string) (string, error) {
	dom, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	dom.Find("script, style").Remove()

	text := dom.Text()
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text), nil
}

func (b *Builder) exportPDF(ctx context.Context, raw []byte, w io.Writer) error {
	enc := diagramEncoder{d2: b.cfg.D2}
	source, err := enc.encode(ctx, raw)
	if err != nil {
		return fmt.Errorf("encode diagrams: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			meta.Meta,
			highlighting.NewHighlighting(highlighting.WithStyle("monokai")),
		),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRenderer(pdf.New()),
	)
	if err := md.Convert(source, w); err != nil {
		return fmt.Errorf("convert markdown to PDF: %w", err)
	}
	return nil
}

// ContentType returns the MIME type for the given format.
func ContentType(format Format) string {
	switch format {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPlainText:
		return "text/plain; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// FileExtension returns the file extension for the given format.
func FileExtension(format Format) string {
	switch format {
	case FormatHTML:
		return ".html"
	case FormatMarkdown:
		return ".md"
	case FormatPlainText:
		return ".txt"
	case FormatPDF:
		return ".pdf"
	default:
		return ""
	}
}
