// Package assets embeds the browser tester served at the proxy root.
package assets

import (
	"embed"
	"fmt"
	"html/template"
	"path"
	"strings"
)

//go:embed files/templates/*.html files/static/*
var FS embed.FS

// TesterPage is the data rendered into tester.html.
type TesterPage struct {
	DefaultModel string
	Version      string
}

func ParseTemplates() (*template.Template, error) {
	t, err := template.ParseFS(FS, "files/templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse embedded templates: %w", err)
	}
	return t, nil
}

func LoadStaticAsset(name string) ([]byte, error) {
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	if clean == "" || clean == "." || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid static asset name")
	}
	b, err := FS.ReadFile("files/static/" + clean)
	if err != nil {
		return nil, fmt.Errorf("read static asset: %w", err)
	}
	return b, nil
}
