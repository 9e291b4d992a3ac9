// Package docsite renders a markdown documentation site whose blocks carry
// stable comment anchors.
//
// Regenerate the syntax highlighting stylesheet with:
//
//	go generate
package docsite

//go:generate sh -c "go run ./tools/generate-chroma-css > static/vendor/chroma-github-dark.min.css"
