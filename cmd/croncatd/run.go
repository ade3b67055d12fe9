package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"croncat/internal/adapter/gateway"
	"croncat/internal/domain"
	"croncat/internal/infra/config"
	"croncat/internal/infra/logger"
	"croncat/internal/infra/tracer"
	"croncat/internal/usecase/scheduling"
)

const serviceName = "croncatd"

func loadConfig() (*config.Config, error) {
	cfgPath := configPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.Defaults()
		config.ApplyEnvOverrides(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("no config file at %s and defaults are incomplete: %w", cfgPath, err)
		}
		return cfg, nil
	}
	return config.Load(cfgPath)
}

func run() error {
	// 1. Config
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger, serviceName)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Registry
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.contract.GetConfig(ctx); errors.Is(err, domain.ErrGenesisMissing) {
		log.Warn("registry not instantiated; run 'croncatd init' or the gateway will reject commands")
	}

	// 4. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 5. Scheduler
	sched, err := buildScheduler(cfg, a, log)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if sched != nil {
		sched.Start(ctx)
		defer sched.Stop()
	}

	// 6. Gateway
	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		gw = buildGateway(cfg, a, log)
		go func() {
			if err := gw.Start(ctx); err != nil {
				log.Error("gateway server error", "error", err)
				cancel()
			}
		}()
	}

	log.Info("croncatd starting",
		"version", version,
		"store", cfg.Store.Driver,
		"contract", cfg.Host.ContractAddress,
		"gateway", cfg.Gateway.Enabled,
		"reconcile", cfg.Reconcile.Enabled,
	)

	<-ctx.Done()
	log.Info("croncatd shutting down")

	if gw != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := gw.Stop(shutdownCtx); err != nil {
			log.Error("gateway shutdown error", "error", err)
		}
	}
	return nil
}

// buildScheduler registers the maintenance actions and jobs. It returns nil
// when no job is configured.
func buildScheduler(cfg *config.Config, a *app, log *slog.Logger) (*scheduling.Scheduler, error) {
	sched := scheduling.NewScheduler(log.With("component", "scheduler"))
	sched.RegisterAction(scheduling.ActionReconcile, func(ctx context.Context) error {
		_, err := a.reconciler.Run(ctx)
		return err
	})
	sched.RegisterAction(scheduling.ActionStatusReport, statusReport(a, log))

	jobs := 0
	if cfg.Reconcile.Enabled {
		if err := sched.AddJob(scheduling.Job{
			Name:     "reconcile",
			Schedule: cfg.Reconcile.Schedule,
			Action:   scheduling.ActionReconcile,
			Timeout:  cfg.Reconcile.Timeout,
		}); err != nil {
			return nil, err
		}
		jobs++
	}
	if cfg.Scheduler.Enabled {
		for _, jc := range cfg.Scheduler.Jobs {
			if err := sched.AddJob(scheduling.Job{
				Name:     jc.Name,
				Schedule: jc.Schedule,
				Action:   scheduling.Action(jc.Action),
			}); err != nil {
				return nil, fmt.Errorf("job %s: %w", jc.Name, err)
			}
			jobs++
		}
	}
	if jobs == 0 {
		return nil, nil
	}
	return sched, nil
}

// statusReport logs a one-line registry summary.
func statusReport(a *app, log *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sum, err := a.contract.GetSummary(ctx)
		if errors.Is(err, domain.ErrGenesisMissing) {
			log.Info("registry status", "instantiated", false)
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("registry status",
			"paused", sum.Paused,
			"active_agents", sum.ActiveAgents,
			"pending_agents", sum.PendingAgents,
			"nomination_open", sum.NominationOpen,
			"tasks", sum.TotalTasks,
			"breaker", a.breaker.State().String(),
		)
		return nil
	}
}

func buildGateway(cfg *config.Config, a *app, log *slog.Logger) *gateway.Server {
	entries := make([]gateway.TokenEntry, 0, len(cfg.Gateway.Auth.Tokens))
	for _, t := range cfg.Gateway.Auth.Tokens {
		entries = append(entries, gateway.TokenEntry{Token: t.Token, Name: t.Name, Account: t.Account})
	}

	gwLog := log.With("component", "gateway")
	srv := gateway.NewServer(a.bus, gateway.NewStaticTokenAuth(entries), gateway.ServerConfig{
		Addr:              cfg.Gateway.Addr,
		RequestsPerSecond: cfg.Gateway.RateLimit.RequestsPerSecond,
		Burst:             cfg.Gateway.RateLimit.Burst,
	}, gwLog)

	deps := gateway.HandlerDeps{
		Contract:     a.contract,
		Bus:          a.bus,
		History:      a.bus,
		BreakerState: func() string { return a.breaker.State().String() },
		Version:      version,
		Logger:       gwLog,
	}
	gateway.RegisterRPCHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps)
	return srv
}
