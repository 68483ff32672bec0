// Package serverutil holds HTTP server plumbing shared by the binaries.
package serverutil

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// H2CHandler wraps an http.Handler with h2c support so HTTP/2 clients and
// proxies can talk to the bot without TLS.
func H2CHandler(handler http.Handler) http.Handler {
	return h2c.NewHandler(handler, &http2.Server{
		MaxConcurrentStreams: 100,
		MaxReadFrameSize:     1 << 20,
	})
}
