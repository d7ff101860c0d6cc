package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	tokenledger "github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/api"
	audithook "github.com/xraph/tokenledger/audit_hook"
	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/idempotency"
	"github.com/xraph/tokenledger/observability"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/types"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "tokenledgerd",
		Short:         "Token ledger and subscription billing server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(v, cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), v)
		},
	}
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("base-path", api.DefaultBasePath, "URL prefix of the API routes")
	serveCmd.Flags().String("redis-addr", "", "Redis address for the shared balance cache and idempotency records")
	serveCmd.Flags().String("renewal-schedule", tokenledger.DefaultRenewalSchedule, "Cron expression of the renewal sweep")
	serveCmd.Flags().Duration("grace-period", tokenledger.DefaultGracePeriod, "How long a renewal invoice may stay unpaid")
	serveCmd.Flags().Duration("retry-interval", tokenledger.DefaultRetryInterval, "Wait before a failed renewal is retried")
	serveCmd.Flags().Bool("seed", false, "Create a demo plan and bundle on start")
	_ = v.BindPFlags(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd)
	_ = v.BindPFlags(rootCmd.PersistentFlags())
	return rootCmd
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix("TOKENLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(cmd.Flags())

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func serve(ctx context.Context, v *viper.Viper) error {
	logger := newLogger(v.GetString("log-level"))
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []tokenledger.Option{
		tokenledger.WithLogger(logger),
		tokenledger.WithRenewalSchedule(v.GetString("renewal-schedule")),
		tokenledger.WithGracePeriod(v.GetDuration("grace-period")),
		tokenledger.WithRetryInterval(v.GetDuration("retry-interval")),
		tokenledger.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		tokenledger.WithPlugin(audithook.New(slogRecorder(logger), audithook.WithLogger(logger))),
	}

	var idem idempotency.Store = idempotency.NewMemoryStore(0, 24*time.Hour)
	if addr := v.GetString("redis-addr"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", addr, err)
		}
		opts = append(opts, tokenledger.WithBalanceCache(balance.NewRedisCache(client, "tokenledger:balance", 0)))
		idem = idempotency.NewRedisStore(client, "tokenledger:idem:", 24*time.Hour)
	}

	eng := tokenledger.New(memory.New(), opts...)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			logger.Error("stop engine", "error", err)
		}
	}()

	if v.GetBool("seed") {
		if err := seed(ctx, eng); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	handler := api.NewServer(eng,
		api.WithLogger(logger),
		api.WithBasePath(v.GetString("base-path")),
		api.WithIdempotencyStore(idem),
	)
	handler.Router().Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handler.Router().HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := eng.Store().Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "base_path", v.GetString("base-path"))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// slogRecorder writes audit events to the process log.
func slogRecorder(logger *slog.Logger) audithook.RecorderFunc {
	return func(ctx context.Context, evt *audithook.AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"outcome", evt.Outcome,
			"severity", evt.Severity,
			"metadata", evt.Metadata,
		)
		return nil
	}
}

func seed(ctx context.Context, eng *tokenledger.Ledger) error {
	if err := eng.CreatePlan(ctx, &plan.Plan{
		Name:           "Professional",
		Description:    "Monthly token allowance for practicing lawyers",
		PriceMonthly:   types.USD(4900),
		PriceAnnual:    types.USD(49000),
		Features:       []string{"chat", "documents", "summaries"},
		TokenAllowance: 5000,
	}); err != nil {
		return err
	}
	return eng.CreateBundle(ctx, &plan.Bundle{
		Name:       "Top-up 1000",
		TokenCount: 1000,
		Price:      types.USD(1500),
		Popular:    true,
	})
}
