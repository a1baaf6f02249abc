package server

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
)

// Page templates looked up in the template directory.
const (
	IndexPage          = "index.html"
	NotFoundPage       = "404.html"
	NotImplementedPage = "501.html"
)

// Pages renders the HTML templates found in the template directory.
type Pages struct {
	log  *slog.Logger
	tmpl *template.Template
}

// LoadPages parses every template matching glob. At least one file must match.
func LoadPages(log *slog.Logger, glob string) (*Pages, error) {
	tmpl, err := template.ParseGlob(glob)
	if err != nil {
		return nil, fmt.Errorf("parse templates %q: %w", glob, err)
	}
	return &Pages{log: log, tmpl: tmpl}, nil
}

// Render writes the named template with status. When it cannot be rendered
// the 501 page is served instead, and a plain 500 if that fails too.
func (p *Pages) Render(w http.ResponseWriter, name string, status int) {
	body, err := p.execute(name)
	if err != nil {
		p.log.Warn("Cannot render page", "page", name, "err", err)

		var fallbackErr error
		body, fallbackErr = p.execute(NotImplementedPage)
		if fallbackErr != nil {
			p.log.Error("Cannot render fallback page", "page", name, "err", err, "fallback_err", fallbackErr)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		status = http.StatusNotImplemented
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		p.log.Warn("Failed to write page", "page", name, "err", err)
	}
}

func (p *Pages) execute(name string) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
