package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	catalogapp "github.com/wulinbill/loyverse-api/internal/application/catalog"
	customerapp "github.com/wulinbill/loyverse-api/internal/application/customer"
	"github.com/wulinbill/loyverse-api/internal/application/gateway"
	orderapp "github.com/wulinbill/loyverse-api/internal/application/order"
	pendingapp "github.com/wulinbill/loyverse-api/internal/application/pending"
	"github.com/wulinbill/loyverse-api/internal/application/token"
	"github.com/wulinbill/loyverse-api/internal/domain/credential"
	"github.com/wulinbill/loyverse-api/internal/infrastructure/memory"
	"github.com/wulinbill/loyverse-api/internal/infrastructure/oauth"
	obsinfra "github.com/wulinbill/loyverse-api/internal/infrastructure/observability"
	"github.com/wulinbill/loyverse-api/internal/infrastructure/observability/oteltrace"
	"github.com/wulinbill/loyverse-api/internal/infrastructure/observability/zaplogger"
	"github.com/wulinbill/loyverse-api/internal/infrastructure/upstream"
	"github.com/wulinbill/loyverse-api/internal/observability"
	"github.com/wulinbill/loyverse-api/internal/pkg/config"
	"github.com/wulinbill/loyverse-api/internal/pkg/logging"
	httppresentation "github.com/wulinbill/loyverse-api/internal/presentation/http"
	workerpresentation "github.com/wulinbill/loyverse-api/internal/presentation/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file (default $"+config.EnvConfigPath+")")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	baseLogger := logging.MustNewLogger(logging.Options{
		Service: cfg.Service.Name,
		Env:     cfg.Service.Env,
		Level:   cfg.Service.LogLevel,
		File:    cfg.Service.LogFile,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := zaplogger.New(logging.System(baseLogger))

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tel := obsinfra.New(obsinfra.Options{
		Tracer:     oteltrace.New(nil, cfg.Service.Name, attribute.String("service.name", cfg.Service.Name)),
		Logger:     zaplogger.New(baseLogger),
		Registerer: registry,
	})

	// Credentials
	refresher := oauth.New(oauth.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		AuthURL:      cfg.OAuth.AuthURL,
		TokenURL:     cfg.OAuth.TokenURL,
		RedirectURL:  cfg.OAuth.RedirectURL,
		Scopes:       cfg.OAuth.Scopes,
	})
	tokens := token.NewManager(refresher, credential.Credential{
		AccessToken:  cfg.OAuth.AccessToken,
		RefreshToken: cfg.OAuth.RefreshToken,
	}, tel,
		token.WithSkew(cfg.OAuth.Skew),
		token.WithTimeout(cfg.Upstream.Timeout),
	)
	if st := tokens.Status(); !st.HasAccessToken && !st.CanRefresh {
		systemLogger.Warn("oauth_authorization_required",
			observability.F("authorize_url", refresher.AuthCodeURL("setup")),
		)
	}

	client := upstream.New(upstream.Config{
		BaseURL:       cfg.Upstream.BaseURL,
		Timeout:       cfg.Upstream.Timeout,
		StoreID:       cfg.Upstream.StoreID,
		PaymentTypeID: cfg.Upstream.PaymentTypeID,
		PageSize:      cfg.Upstream.PageSize,
	}, tokens, tel)

	// Components
	catalog := catalogapp.New(client, tel,
		catalogapp.WithTTL(cfg.Catalog.TTL),
		catalogapp.WithAliases(cfg.Catalog.Aliases),
	)
	directory := customerapp.NewDirectory(client, memory.NewCustomerRepository(), cfg.Customers.Sentinels, tel)
	queue := pendingapp.New(memory.NewPendingRepository(), tel,
		pendingapp.WithMaxAttempts(cfg.Pending.MaxAttempts),
		pendingapp.WithBackoff(cfg.Pending.BackoffBase, cfg.Pending.BackoffMax),
	)
	pipeline := orderapp.NewPipeline(catalog, directory, client, queue, tel)
	reconciler := workerpresentation.NewReconciler(queue, directory, pipeline, cfg.Pending.Interval, tel)

	gw := gateway.New(gateway.Deps{
		Menu:        catalog,
		Customers:   directory,
		Orders:      pipeline,
		Pending:     queue,
		Credentials: tokens,
		Reconciler:  reconciler,
		Telemetry:   tel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw.Start(ctx)

	// Warm the catalog so the first caller does not pay for the pull.
	go func() {
		if err := catalog.Refresh(ctx); err != nil {
			systemLogger.Warn("catalog_warmup_failed", observability.Err(err))
		}
	}()

	handler := httppresentation.NewHandler(gw, zaplogger.New(baseLogger), tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				observability.Err(err),
			)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			observability.Err(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
	gw.Close(shutdownCtx)
}
