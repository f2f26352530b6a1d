package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

var page502 = []byte(`<!doctype html><html><head><title>502 Bad Gateway</title></head>` +
	`<body><h1>502 Bad Gateway</h1><p>The protected site is not reachable right now.</p></body></html>`)

type originProxy struct {
	target *url.URL
	logger *slog.Logger
}

// NewProxy forwards admitted traffic to a single origin.
func NewProxy(origin string, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("origin url %q needs a scheme and host", origin)
	}

	p := &originProxy{target: target, logger: logger}

	return &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		ErrorHandler: p.errorHandler,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}, nil
}

func (p *originProxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	pr.SetXForwarded()
}

func (p *originProxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return // Client disconnected
	}
	p.logger.Error("proxy error", "host", r.Host, "path", r.URL.Path, "error", err)
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusBadGateway)
	w.Write(page502)
}
