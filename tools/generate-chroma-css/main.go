// Package main writes the Chroma stylesheet matching the renderer's
// highlighting classes to stdout. Pass a style name to override github-dark.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
)

func main() {
	name := "github-dark"
	if len(os.Args) > 1 {
		name = os.Args[1]
	}
	// styles.Get falls back to a default style for unknown names.
	style, ok := styles.Registry[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "style %q not found\n", name)
		os.Exit(1)
	}

	formatter := html.New(
		html.WithClasses(true),
		html.ClassPrefix(""),
	)

	if err := formatter.WriteCSS(os.Stdout, style); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating CSS: %v\n", err)
		os.Exit(1)
	}
}
