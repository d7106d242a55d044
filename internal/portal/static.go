package portal

import (
	"net/http"
	"os"
	"path/filepath"
)

// Static serves the single-page application build from a directory. Page
// routes all get index.html; the guard in front of them decides who sees it.
type Static struct {
	dir string
}

func NewStatic(dir string) *Static {
	return &Static{dir: dir}
}

// Assets serves the build's asset directory under prefix without any guard.
func (s *Static) Assets(prefix string) http.Handler {
	fs := http.FileServer(http.Dir(filepath.Join(s.dir, "assets")))
	return http.StripPrefix(prefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		fs.ServeHTTP(w, r)
	}))
}

// Index serves index.html for every page route.
func (s *Static) Index(w http.ResponseWriter, r *http.Request) {
	index := filepath.Join(s.dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, index)
}
