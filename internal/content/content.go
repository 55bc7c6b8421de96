// Package content serves the static informational pages bundled with the
// binary. Pages are Markdown rendered once at startup.
package content

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

//go:embed pages/*.md
var pagesFS embed.FS

// ErrNotFound is returned for unknown page slugs.
var ErrNotFound = errors.New("page not found")

// Summary lists a page without its body.
type Summary struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// Page is a rendered page.
type Page struct {
	Summary
	HTML string `json:"html"`
}

// Library holds the rendered pages.
type Library struct {
	pages map[string]Page
	order []Summary
}

// Load renders the embedded pages.
func Load() (*Library, error) {
	sub, err := fs.Sub(pagesFS, "pages")
	if err != nil {
		return nil, err
	}
	return NewLibrary(sub)
}

// NewLibrary renders every .md file at the root of fsys. The slug is the
// file name without extension; the title is the first level-one heading.
func NewLibrary(fsys fs.FS) (*Library, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read pages: %w", err)
	}

	policy := bluemonday.UGCPolicy()
	lib := &Library{pages: make(map[string]Page)}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".md" {
			continue
		}
		src, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read page %s: %w", entry.Name(), err)
		}
		slug := strings.TrimSuffix(entry.Name(), ".md")
		page := Page{
			Summary: Summary{Slug: slug, Title: title(src, slug)},
			HTML:    string(policy.SanitizeBytes(Render(src))),
		}
		lib.pages[slug] = page
		lib.order = append(lib.order, page.Summary)
	}
	sort.Slice(lib.order, func(i, j int) bool { return lib.order[i].Title < lib.order[j].Title })
	return lib, nil
}

// Render converts Markdown to unsanitised HTML.
func Render(src []byte) []byte {
	src = bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))
	return blackfriday.Run(src, blackfriday.WithExtensions(blackfriday.CommonExtensions|blackfriday.AutoHeadingIDs))
}

func title(src []byte, fallback string) string {
	for _, line := range strings.Split(string(src), "\n") {
		if heading, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(heading)
		}
	}
	return fallback
}

// List returns the pages ordered by title.
func (l *Library) List() []Summary {
	return append([]Summary(nil), l.order...)
}

// Get returns the page for slug.
func (l *Library) Get(slug string) (Page, error) {
	page, ok := l.pages[strings.ToLower(strings.TrimSpace(slug))]
	if !ok {
		return Page{}, ErrNotFound
	}
	return page, nil
}
