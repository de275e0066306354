package ui

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joescharf/ghcanvas/internal/models"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

//go:embed all:static
var staticFS embed.FS

// StaticFS returns the embedded static/ filesystem with the prefix stripped.
func StaticFS() (fs.FS, error) {
	return fs.Sub(staticFS, "static")
}

// StaticHandler serves embedded assets. Missing files and directories return
// 404.
func StaticHandler() (http.Handler, error) {
	sub, err := StaticFS()
	if err != nil {
		return nil, err
	}

	fileServer := http.FileServerFS(sub)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		info, err := fs.Stat(sub, p)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	}), nil
}

var funcs = template.FuncMap{
	"time": humanize.Time,
	"date": func(t time.Time) string { return t.Format("Jan 2, 2006") },
	"slug": func(r models.Repository) string { return r.Owner + "/" + r.Repo },
	"sameRepo": func(a models.Repository, b *models.Repository) bool {
		return b != nil && a.Owner == b.Owner && a.Repo == b.Repo
	},
	// toggle links to base with key=n, or without key when already on.
	"toggle": func(base, key string, n int, on bool) string {
		u, err := url.Parse(base)
		if err != nil {
			return "/"
		}
		q := u.Query()
		if on {
			q.Del(key)
		} else {
			q.Set(key, strconv.Itoa(n))
		}
		u.RawQuery = q.Encode()
		return u.String()
	},
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl")
}
