// Package pprof runs the runtime profiling endpoints on a loopback port,
// separate from the API listener.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
)

type Server struct {
	server *http.Server
	port   int
}

func NewServer() *Server {
	return &Server{}
}

// Start binds to 127.0.0.1:port (0 picks a free port) and serves in the
// background. It returns the bound port.
func (s *Server) Start(port int) (int, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("bind to %s: %w", addr, err)
	}
	s.port = ln.Addr().(*net.TCPAddr).Port

	// Dedicated mux so nothing on http.DefaultServeMux leaks out.
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("pprof server stopped", "error", err)
		}
	}()
	return s.port, nil
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// PrintUsage prints go tool pprof commands for a server on port.
func PrintUsage(w io.Writer, port int) {
	base := fmt.Sprintf("http://127.0.0.1:%d/debug/pprof", port)
	fmt.Fprintf(w, "pprof: %s/\n", base)
	fmt.Fprintf(w, "  go tool pprof %s/profile?seconds=30\n", base)
	fmt.Fprintf(w, "  go tool pprof %s/heap\n", base)
	fmt.Fprintf(w, "  curl %s/goroutine?debug=2\n", base)
}
