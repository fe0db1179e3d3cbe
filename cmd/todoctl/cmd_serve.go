package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chimerakang/todo-go/authserver"
	"github.com/chimerakang/todo-go/federation"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCmd(get func() *app) *cobra.Command {
	var addr string
	var secure bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser-facing auth routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			cfg := a.cfg
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if cfg.Log.Dev {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			opts := []authserver.Option{
				authserver.WithLogger(a.log.With("component", "authserver")),
				authserver.WithAuditLogger(a.audit),
				authserver.WithCORSOrigins(cfg.Server.CORSOrigin),
				authserver.WithRateLimit(cfg.Server.RateLimit),
				authserver.WithRedirects(cfg.AfterLogin, cfg.AfterLogout),
				authserver.WithSecureCookies(secure),
			}
			if a.registry != nil {
				a.registry.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				)
				var g prometheus.Gatherer = a.registry
				opts = append(opts, authserver.WithMetrics(a.metrics, g))
			}
			if cfg.GoogleEnabled() {
				opts = append(opts, authserver.WithFederation(federation.ProviderGoogle, federation.NewGoogle(cfg.GoogleProvider())))
			}

			srv, err := authserver.New(cfg.APIURL, a.api, opts...)
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpSrv := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				a.log.Info("auth server listening", slog.String("addr", addr))
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: TODO_SERVER_ADDR or :3000)")
	cmd.Flags().BoolVar(&secure, "secure-cookies", false, "Mark cookies Secure (serve behind https)")
	return cmd
}
