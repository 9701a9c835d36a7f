// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command fitcore-daemon runs one FitnessSession orchestrator behind an
// HTTP server: it loads the YAML config, wires the configured persistence
// backend, starts the tick/autosave loops, and watches the config file for
// hot-reloadable changes until told to shut down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fitcore/fitcore/internal/api"
	"github.com/fitcore/fitcore/internal/clock"
	"github.com/fitcore/fitcore/internal/config"
	"github.com/fitcore/fitcore/internal/domain/governance"
	"github.com/fitcore/fitcore/internal/domain/session/manager"
	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/domain/zone"
	"github.com/fitcore/fitcore/internal/eventbus"
	"github.com/fitcore/fitcore/internal/log"
	"github.com/fitcore/fitcore/internal/persistence/badger"
	"github.com/fitcore/fitcore/internal/persistence/redis"
	"github.com/fitcore/fitcore/internal/ratelimit"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the session core's YAML config")
	specPath := flag.String("openapi", "api/openapi.yaml", "path to the OpenAPI contract validated at boot")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	logger := log.WithComponent("daemon")

	if err := run(*configPath, *specPath, *addr); err != nil {
		logger.Fatal().Err(err).Msg("fitcore-daemon exited with error")
	}
}

func run(configPath, specPath, addr string) error {
	logger := log.WithComponent("daemon")

	fileCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	persistFn, closeStore, err := buildPersistFunc(fileCfg.Persistence)
	if err != nil {
		return fmt.Errorf("build persistence backend: %w", err)
	}
	defer closeStore()

	session, err := manager.New(clock.Real, eventbus.NewMemoryBus(), persistFn)
	if err != nil {
		return fmt.Errorf("build session orchestrator: %w", err)
	}
	session.Configure(toSessionConfig(fileCfg))

	limiter := ratelimit.New(ratelimit.DefaultConfig())

	srv, err := api.New(session, limiter, specPath)
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		session.RunTicks(gctx)
		return nil
	})
	group.Go(func() error {
		session.RunAutosave(gctx)
		return nil
	})
	group.Go(func() error {
		return config.Watch(gctx, configPath, func(next config.FileConfig, summary config.ChangeSummary) {
			session.Configure(toSessionConfig(next))
			logger.Info().Strs("changed", summary.ChangedFields).Msg("applied reloaded config")
		})
	})
	group.Go(func() error {
		logger.Info().Str("addr", addr).Msg("fitcore-daemon listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildPersistFunc wires the configured backend into a manager.PersistFunc.
// "none" keeps sessions running without durable persistence, useful for
// smoke-testing a config before pointing it at a real store.
func buildPersistFunc(cfg config.PersistenceConfig) (manager.PersistFunc, func(), error) {
	switch cfg.Backend {
	case "redis":
		ttl, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			ttl = 24 * time.Hour
		}
		store, err := redis.New(redis.Config{Addr: cfg.RedisAddr, TTL: ttl}, log.WithComponent("persistence.redis"))
		if err != nil {
			return nil, func() {}, err
		}
		return store.Save, func() { _ = store.Close() }, nil
	case "badger":
		store, err := badger.Open(cfg.BadgerDir)
		if err != nil {
			return nil, func() {}, err
		}
		return store.Save, func() { _ = store.Close() }, nil
	default:
		return func(context.Context, model.PersistInput) error { return nil }, func() {}, nil
	}
}

func toSessionConfig(fileCfg config.FileConfig) model.Config {
	cfg := model.DefaultConfig()
	cfg.TickIntervalMs = int64(fileCfg.Tick.IntervalMs)
	cfg.AutosaveIntervalMs = int64(fileCfg.Session.AutosaveMs)
	cfg.PreSessionThreshold = fileCfg.Session.PreSessionThreshold
	cfg.RemoveMs = int64(fileCfg.Session.RemoveMs)
	cfg.EmptySessionMs = int64(fileCfg.Session.EmptySessionMs)
	cfg.CoinTimeUnitMs = int64(fileCfg.Zones.CoinTimeUnitMs)
	cfg.GracePeriodTransfer = time.Duration(fileCfg.Transfer.GracePeriodMs) * time.Millisecond
	cfg.DeviceThresholds = model.DeviceThresholds{
		InactiveMs: int64(fileCfg.Device.InactiveMs),
		RemoveMs:   int64(fileCfg.Device.RemoveMs),
		RPMZeroMs:  int64(fileCfg.Device.RPMZeroMs),
	}

	zones := make([]zone.Definition, 0, len(fileCfg.Zones.Definitions))
	for _, z := range fileCfg.Zones.Definitions {
		zones = append(zones, zone.Definition{ID: z.ID, Name: z.Name, Min: z.Min, Color: z.Color, Coins: z.Coins})
	}
	cfg.Zones = zones

	policies := make(map[string]governance.Policy, len(fileCfg.Governance.Policies))
	for _, p := range fileCfg.Governance.Policies {
		policies[p.ID] = toGovernancePolicy(p)
	}
	cfg.GovernancePolicies = policies
	cfg.Governance = governance.Config{
		GovernedLabels:     fileCfg.Governance.GovernedLabels,
		GovernedTypes:      fileCfg.Governance.GovernedTypes,
		GracePeriodSeconds: fileCfg.Governance.GracePeriodSec,
	}

	return cfg
}

func toGovernancePolicy(p config.PolicyConfig) governance.Policy {
	policy := governance.Policy{
		ID:              p.ID,
		MinParticipants: p.MinParticipants,
		Exemptions:      p.Exemptions,
	}
	for zoneID, rule := range p.BaseRequirement {
		policy.BaseRequirement = append(policy.BaseRequirement, governance.Requirement{ZoneID: zoneID, Rule: rule})
	}
	for _, c := range p.Challenges {
		chal := governance.ChallengeConfig{
			MinIntervalSec: c.MinIntervalSec,
			MaxIntervalSec: c.MaxIntervalSec,
			SelectionType:  c.SelectionType,
		}
		for _, s := range c.Selections {
			chal.Selections = append(chal.Selections, governance.Selection{
				Zone:           s.Zone,
				Rule:           s.Rule,
				TimeAllowedSec: s.TimeAllowed,
				Weight:         s.Weight,
				Label:          s.Label,
			})
		}
		policy.Challenges = append(policy.Challenges, chal)
	}
	return policy
}
