// Package web embeds the built study frontend (dist/) and serves it as a
// single-page application. dist/ ships with a placeholder index.html until
// the frontend is built into it.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SPAHandler serves embedded files and answers every other non-API path
// with index.html so the client router can take over. Bundled assets under
// assets/ carry content hashes and are cached indefinitely.
func SPAHandler() http.Handler {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: dist is missing from the embedded filesystem: " + err.Error())
	}
	files := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		switch {
		case name == "api" || strings.HasPrefix(name, "api/"),
			name == "ws" || strings.HasPrefix(name, "ws/"):
			http.NotFound(w, r)
			return
		case name == "" || name == "." || name == "index.html":
			serveIndex(w, r, files)
			return
		}

		info, err := fs.Stat(sub, name)
		if err != nil || info.IsDir() {
			serveIndex(w, r, files)
			return
		}
		if strings.HasPrefix(name, "assets/") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}
		files.ServeHTTP(w, r)
	})
}

func serveIndex(w http.ResponseWriter, r *http.Request, files http.Handler) {
	w.Header().Set("Cache-Control", "no-cache")
	req := r.Clone(r.Context())
	req.URL.Path = "/"
	slog.Debug("web: serving index", "path", r.URL.Path)
	files.ServeHTTP(w, req)
}
