package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rag-evaluator/internal/evaluator"
	"github.com/sells-group/rag-evaluator/internal/session"
	"github.com/sells-group/rag-evaluator/internal/web"
	"github.com/sells-group/rag-evaluator/pkg/pipeline"
)

var (
	servePort         int
	serveSecureCookie bool
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the evaluation form server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		handler, err := buildHandler(ctx)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv)
	},
}

// buildHandler wires the pipeline client, log store and sessions into the web handler.
func buildHandler(ctx context.Context) (http.Handler, error) {
	endpoints, err := cfg.Pipeline.EndpointMap()
	if err != nil {
		return nil, err
	}
	client, err := pipeline.NewClient(endpoints,
		pipeline.WithTimeout(cfg.Pipeline.Timeout()),
		pipeline.WithRateLimit(cfg.Pipeline.RatePerSec, cfg.Pipeline.RateBurst),
	)
	if err != nil {
		return nil, eris.Wrap(err, "init pipeline client")
	}

	store, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	idle := time.Duration(cfg.Server.SessionIdleMinutes) * time.Minute
	srv, err := web.NewServer(evaluator.New(client, store), session.NewManager(idle), web.Options{
		Labels:         cfg.Pipeline.LabelMap(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SecureCookie:   serveSecureCookie,
	})
	if err != nil {
		return nil, err
	}
	return srv.Routes(), nil
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSecureCookie, "secure-cookie", false, "mark the session cookie Secure (set when served over HTTPS)")
	rootCmd.AddCommand(serveCmd)
}
