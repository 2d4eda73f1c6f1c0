package testserver

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

// TestSigningKey signs the tokens of servers created by Start.
var TestSigningKey = []byte("testserver-signing-key")

// Start serves a new Server on a local listener for the lifetime of t.
func Start(t testing.TB, logger zerolog.Logger) (*Server, *httptest.Server) {
	t.Helper()

	srv := NewServer(logger, TestSigningKey)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}
