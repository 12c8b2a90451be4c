package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/samsaffron/codereview-chat/internal/config"
	pprofserver "github.com/samsaffron/codereview-chat/internal/pprof"
	"github.com/samsaffron/codereview-chat/internal/serve"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP and websockets",
	Long: `Run the HTTP server.

Routes:
  POST /api/chat                 stream a reply as plain text
  GET|POST /api/mock-stream      stream the canned debug review
  GET  /api/chat/ws              websocket chat session
  GET  /api/histories[/{id}]     saved chats (also /diff and /export)
  GET  /metrics                  Prometheus metrics

Examples:
  codereview serve
  codereview serve --addr :8080 --token s3cret
  codereview serve --provider local
  codereview serve --pprof           # also expose pprof on a random port`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr     string
	serveToken    string
	serveProvider string
	serveNoSave   bool
	servePprof    int
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, 127.0.0.1:8080)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Require this bearer token")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "Default provider: hosted, local or a provider name")
	serveCmd.Flags().BoolVar(&serveNoSave, "no-save", false, "Do not save websocket chats to history")
	serveCmd.Flags().IntVar(&servePprof, "pprof", -1, "Serve pprof on this loopback port (0 picks one)")
	serveCmd.Flags().Lookup("pprof").NoOptDefVal = "0"
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cfg)

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	providers := buildProviders(cfg, cfg.ProviderNames()...)
	opts := serve.Options{
		Providers:       providers,
		Choices:         map[string]string{config.ChoiceHosted: cfg.HostedProvider, config.ChoiceLocal: cfg.LocalProvider},
		DefaultProvider: cfg.Serve.Provider,
		SystemPrompt:    cfg.Serve.SystemPrompt,
		Token:           cfg.Serve.Token,
		RateLimit:       cfg.Serve.RateLimit,
		Burst:           cfg.Serve.Burst,
		Store:           store,
		SurfaceAborted:  cfg.KeepPartialOnCancel,
	}
	if serveNoSave {
		opts.Store = nil
	}
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = cfg.DefaultChoice
	}
	srv := serve.New(opts)
	defer srv.Close()

	ln, err := net.Listen("tcp", cfg.Serve.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Serve.Addr, err)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if servePprof >= 0 {
		debug := pprofserver.NewServer()
		port, err := debug.Start(servePprof)
		if err != nil {
			return err
		}
		defer debug.Stop(context.Background())
		pprofserver.PrintUsage(cmd.ErrOrStderr(), port)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving", "addr", ln.Addr().String(), "default_provider", opts.DefaultProvider, "auth", opts.Token != "")
		fmt.Fprintf(cmd.ErrOrStderr(), "Listening on http://%s\n", ln.Addr())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		srv.StartGC(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func applyServeFlags(cfg *config.Config) {
	if serveAddr != "" {
		cfg.Serve.Addr = serveAddr
	}
	if serveToken != "" {
		cfg.Serve.Token = serveToken
	}
	if serveProvider != "" {
		cfg.Serve.Provider = serveProvider
	}
}
