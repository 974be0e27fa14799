package api

import (
	"net/http"
	"time"
)

// NewServer wraps the router in an http.Server with sane timeouts. Search
// requests walk the in-memory cache, so nothing should run long enough to
// hit the write deadline.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
