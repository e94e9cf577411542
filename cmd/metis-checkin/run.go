package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/metis-devops/metis-checkin/internal/account"
	"github.com/metis-devops/metis-checkin/internal/chain"
	"github.com/metis-devops/metis-checkin/internal/config"
	"github.com/metis-devops/metis-checkin/internal/executor"
	"github.com/metis-devops/metis-checkin/internal/gasprice"
	"github.com/metis-devops/metis-checkin/internal/health"
	"github.com/metis-devops/metis-checkin/internal/logx"
	"github.com/metis-devops/metis-checkin/internal/metrics"
	"github.com/metis-devops/metis-checkin/internal/scheduler"
)

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}

	if v := c.String("rpc"); v != "" {
		cfg.RPC.URL = v
	}
	if v := c.String("keys"); v != "" {
		cfg.AccountsFile = v
	}
	cfg.SetContract(c.String("contract"))
	cfg.SetRecipient(c.String("recipient"))
	switch v := c.String("listen"); v {
	case "":
	case "off":
		cfg.HealthListen = ""
	default:
		cfg.HealthListen = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if c.Bool("log-json") {
		cfg.Log.JSON = true
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// shutdownContext is cancelled by the first of sigs. Later signals get the
// default handling again, so a second one ends the process while in-flight
// check-ins drain.
func shutdownContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, sigs...)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logx.New(logx.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	store, err := account.LoadFile(cfg.AccountsFile)
	if err != nil {
		return err
	}
	log.Info("accounts loaded",
		logx.Int("count", store.Len()),
		logx.Int("skipped", store.Dropped()),
		logx.Any("addresses", store.Addresses()))

	basectx, cancel := shutdownContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := chain.Dial(basectx, cfg.RPC.URL, cfg.Contract, chain.Options{
		RateLimit:      cfg.RPC.RateLimit,
		Burst:          cfg.RPC.Burst,
		CallTimeout:    cfg.RPC.Timeout,
		ReceiptTimeout: cfg.Executor.ReceiptTimeout,
		ReceiptPoll:    cfg.Executor.ReceiptPoll,
		Log:            log,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	m := metrics.New()
	gas := gasprice.New(client, log, m)
	engine := executor.New(client, gas, store, executor.Config{
		MaxRetries:       cfg.Executor.MaxRetries,
		GasMultiplier:    cfg.Executor.GasMultiplier,
		SuccessCooldown:  cfg.Executor.SuccessCooldown,
		ErrorCooldown:    cfg.Executor.ErrorCooldown,
		DefaultRecipient: cfg.DefaultRecipient,
	}, log, executor.WithMetrics(m))
	sched := scheduler.New(scheduler.Config{
		CooldownWindow:  cfg.Scheduler.CooldownWindow,
		SafetyMargin:    cfg.Scheduler.SafetyMargin,
		RescanInterval:  cfg.Scheduler.RescanInterval,
		FailureDelay:    cfg.Scheduler.FailureDelay,
		SeedDueAccounts: cfg.Scheduler.SeedDueAccounts,
	}, store, client, engine, log, scheduler.WithMetrics(m))

	g, ctx := errgroup.WithContext(basectx)

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				sched.Refresh()
			}
		}
	})
	g.Go(func() error {
		return gas.Run(ctx, cfg.GasRefresh)
	})
	g.Go(func() error {
		defer cancel()
		return sched.Run(ctx)
	})
	if cfg.HealthListen != "" {
		srv := health.New(cfg.HealthListen, sched.Snapshot, m.Registry, log,
			health.WithMaxFailing(cfg.HealthMaxFailing))
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	log.Info("stopped")
	return nil
}
