package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/api"
	"github.com/chimerakang/todo-go/audit"
	"github.com/chimerakang/todo-go/config"
	"github.com/chimerakang/todo-go/federation"
	"github.com/chimerakang/todo-go/logging"
	"github.com/chimerakang/todo-go/metrics"
	"github.com/chimerakang/todo-go/session"
	"github.com/chimerakang/todo-go/store"
	"github.com/chimerakang/todo-go/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app wires the library for one command invocation.
type app struct {
	cfg      *config.Config
	zap      *zap.Logger
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	audit    *audit.Logger
	api      *api.Client
	sessions *session.Manager
	client   *todo.Client
	out      io.Writer
	errOut   io.Writer
}

func newApp(opts *rootOptions, out, errOut io.Writer) (*app, error) {
	var envFiles []string
	if opts.envFile != "" {
		envFiles = append(envFiles, opts.envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	a := &app{cfg: cfg, out: out, errOut: errOut}
	a.zap = logging.New(logging.Config{Level: cfg.Log.Level, Dev: cfg.Log.Dev}, errOut)
	a.log = logging.Slog(a.zap)

	if cfg.Metrics {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.New(a.registry)
	}
	a.audit = audit.New(64, audit.WithSlogHandler(a.log.With("component", "audit")))

	a.api, err = api.New(cfg.APIURL,
		api.WithLogger(a.log.With("component", "api")),
		api.WithMetrics(a.metrics),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	st, err := store.New(cfg.StoreConfig(), store.Dependencies{})
	if err != nil {
		a.close()
		return nil, err
	}

	sessOpts := []session.Option{
		session.WithStore(st),
		session.WithNavigator(todo.NavigatorFunc(a.navigate)),
		session.WithLogger(a.log.With("component", "session")),
		session.WithMetrics(a.metrics),
		session.WithAuditLogger(a.audit),
		session.WithRedirects(cfg.AfterLogin, cfg.AfterLogout),
	}
	if cfg.GoogleEnabled() {
		sessOpts = append(sessOpts, session.WithFederation(federation.ProviderGoogle, federation.NewGoogle(cfg.GoogleProvider())))
	}
	a.sessions = session.New(a.api, sessOpts...)

	a.client, err = todo.NewClient(cfg.ClientConfig(),
		todo.WithLogger(a.log),
		todo.WithSessionManager(a.sessions),
		todo.WithTaskService(tasks.New(a.api, a.sessions)),
		todo.WithStore(st),
	)
	if err != nil {
		_ = st.Close()
		a.close()
		return nil, err
	}
	return a, nil
}

// navigate shows external URLs to the user. In-app destinations only matter
// to a browser UI.
func (a *app) navigate(ctx context.Context, dest string) {
	if strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://") {
		fmt.Fprintf(a.errOut, "Open this URL in your browser to continue:\n\n  %s\n\n", dest)
		return
	}
	a.log.DebugContext(ctx, "navigate", slog.String("destination", dest))
}

func (a *app) close() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.log.Warn("close client", slog.Any("error", err))
		}
	}
	_ = a.audit.Close()
	_ = a.zap.Sync()
}
