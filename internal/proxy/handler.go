package proxy

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"bot-admission-gateway/pkg/response"
)

// NewUpstream picks what serves admitted traffic: the origin proxy, a
// static directory, or a placeholder when neither is configured.
func NewUpstream(originURL, staticDir string, logger *slog.Logger) (http.Handler, error) {
	switch {
	case originURL != "":
		return NewProxy(originURL, logger)
	case staticDir != "":
		return NewStatic(staticDir)
	default:
		return http.HandlerFunc(placeholder), nil
	}
}

// NewStatic serves files from dir, falling back to index.html for paths
// that do not exist so client-side routes keep working.
func NewStatic(dir string) (http.Handler, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}
	files := http.FileServer(http.Dir(abs))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(abs, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if !strings.HasPrefix(name, abs) {
			http.NotFound(w, r)
			return
		}
		if _, err := os.Stat(name); err != nil {
			http.ServeFile(w, r, filepath.Join(abs, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	}), nil
}

func placeholder(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, map[string]string{
		"status":  "ok",
		"message": "Request admitted",
		"path":    r.URL.Path,
	}, http.StatusOK)
}
