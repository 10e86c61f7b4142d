package monitor

import (
	"net/http"
	"os"
	"path/filepath"
)

// assetHandler serves flat files from the assets directory. Only the base
// name of the request path is used, so requests cannot leave the directory.
type assetHandler struct {
	dir string
}

func (h assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(h.dir, filepath.Base(r.URL.Path))
	if !fileExists(path) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
