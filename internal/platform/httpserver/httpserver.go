package httpserver

import (
	"net/http"
	"time"

	"reconciler/internal/platform/config"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 120 * time.Second
	// writeSlack leaves room to write the timeout response after the handler deadline fires.
	writeSlack = 5 * time.Second
)

// New builds the API server. Read and write deadlines follow REQUEST_TIMEOUT so
// the chi timeout middleware, not the socket, ends slow requests.
func New(cfg config.Server, handler http.Handler) *http.Server {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       requestTimeout,
		WriteTimeout:      requestTimeout + writeSlack,
		IdleTimeout:       idleTimeout,
	}
}
