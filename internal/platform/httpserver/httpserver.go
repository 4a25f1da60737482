package httpserver

import (
	"net/http"
	"time"
)

// New wraps handler in the http.Server the compliance API listens on.
// ReadHeaderTimeout keeps slow-loris clients from pinning connections.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
