package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/browser"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/inventory"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/monitor"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/observability"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/purchase"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/status"
)

// Components holds the initialized services one hunt needs. The struct
// centralizes lifecycle management so a failed startup and a clean shutdown
// release resources through the same path.
type Components struct {
	Attacher *browser.Attacher
	Registry *monitor.Registry
	Sink     *status.Sink

	Checker  *inventory.Checker
	Analyzer *inventory.Analyzer
	Executor *purchase.Executor
}

// Shutdown winds the hunt down: loops first so no new events are produced,
// then the sink so the backlog drains, then the browser attachments.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning component shutdown sequence")

	if c.Registry != nil {
		c.Registry.StopAll()
		logger.Debug("Monitoring loops stopped")
	}

	if c.Sink != nil {
		c.Sink.Close()
		logger.Debug("Status sink drained")
	}

	if c.Attacher != nil {
		// A fresh context so shutdown completes even after the run context
		// was canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Attacher.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser detach", zap.Error(err))
		} else {
			logger.Debug("Browser attachments closed")
		}
	}

	logger.Info("All components shut down")
}

// newComponents assembles the engine around the loaded configuration. The
// status sink's consumer writes every event as one JSON line on stdout, which
// is the contract the provisioning harness tails.
func newComponents(cfg *config.Config) *Components {
	logger := observability.GetLogger()

	sink := status.NewSink(logger, cfg.Engine.StatusQueueSize, func(event schemas.StatusEvent) {
		line, err := json.Marshal(event)
		if err != nil {
			logger.Error("Could not encode status event", zap.Error(err))
			return
		}
		fmt.Fprintln(os.Stdout, string(line))
	})

	checker := inventory.NewChecker(logger, cfg.Purchase.PriceCeiling)
	analyzer := inventory.NewAnalyzer(logger, cfg.Purchase.PriceCeiling)
	executor := purchase.NewExecutor(logger, cfg.Purchase, checker, analyzer, sink)

	return &Components{
		Attacher: browser.NewAttacher(logger),
		Registry: monitor.NewRegistry(logger, cfg.Engine, cfg.Network),
		Sink:     sink,
		Checker:  checker,
		Analyzer: analyzer,
		Executor: executor,
	}
}

// StartProfiles attaches a tab per profile and hands each one to the registry.
// A profile whose browser cannot be reached is logged and skipped; the others
// keep hunting. Returns the number of loops started.
func (c *Components) StartProfiles(ctx context.Context, profiles []schemas.ProfileConfig) int {
	logger := observability.GetLogger()

	var mu sync.Mutex
	started := 0

	var wg sync.WaitGroup
	for _, profile := range profiles {
		wg.Add(1)
		go func(profile schemas.ProfileConfig) {
			defer wg.Done()

			tab, err := c.Attacher.Attach(ctx, profile)
			if err != nil {
				logger.Warn("Could not attach to browser, skipping profile",
					zap.String("profile_id", profile.ProfileID),
					zap.Error(err),
				)
				return
			}

			deps := monitor.LoopDeps{
				Tab:      tab,
				Checker:  c.Checker,
				Executor: c.Executor,
				Sink:     c.Sink,
			}
			if err := c.Registry.Start(ctx, profile, deps); err != nil {
				logger.Warn("Could not start monitoring loop",
					zap.String("profile_id", profile.ProfileID),
					zap.Error(err),
				)
				tab.Close()
				return
			}

			mu.Lock()
			started++
			mu.Unlock()
		}(profile)
	}
	wg.Wait()

	return started
}
