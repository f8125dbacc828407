package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"anyarchie/internal/config"
	"anyarchie/internal/ingest"
	logx "anyarchie/pkg/logx"
)

// reloadLoop applies published configs to the live services.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	// New pool tokens are safe to pick up live; everything else under
	// telegram waits for a restart.
	a.resolver.SetPool(newCfg.Telegram.TokenPool)
	if a.mode.ingest() {
		for _, tok := range newCfg.Telegram.TokenPool {
			a.mux.AddChannel(ingest.Channel{Token: tok, Kind: ingest.KindPersonal})
		}
	}

	if hc, err := mapHeartbeatConfig(newCfg); err != nil {
		a.log.Warn("invalid heartbeat config; keeping previous", logx.Err(err))
	} else {
		a.heart.Apply(hc)
	}

	a.sched.Apply(mapSchedulerConfig(newCfg))
	if err := a.syncSchedules(newCfg); err != nil {
		a.log.Warn("schedule update failed; keeping previous", logx.Err(err))
	}

	if nc, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else if a.mode.ingest() {
		prev := a.outbox.Enabled()
		a.outbox.Apply(nc)
		switch {
		case prev && !nc.Enabled:
			a.log.Info("outbox disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.outbox.Stop(stopCtx)
			cancel()
		case !prev && nc.Enabled:
			a.log.Info("outbox enabled via config")
			a.outbox.Start(c)
		}
	}

	if a.mode.ops() {
		a.ops.Reconfigure(c, mapOpsConfig(newCfg))
	}

	a.log.Info("config reloaded", fields...)
}

// Stop shuts the app down. Every step is bounded so one component cannot
// stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Producers drain first while the run context is still live, so an
	// in-flight cycle or dispatch finishes its sends and state writes.
	a.step(ctx, "scheduler", 8*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.mode.ingest() {
		a.step(ctx, "ingest", 5*time.Second, func(c context.Context) error { a.mux.Stop(c); return nil })
	}
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "outbox", 3*time.Second, func(c context.Context) error { a.outbox.Stop(c); return nil })

	a.sup.Cancel()
	a.step(ctx, "supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStores() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx := ctx
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > limit {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}

func (a *App) closeStores() error {
	var firstErr error
	if a.seen != nil {
		if err := a.seen.Close(); err != nil {
			firstErr = err
		}
		a.seen = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.store = nil
	}
	return firstErr
}

// closeResources releases what New opened when the app never started.
func (a *App) closeResources() {
	_ = a.closeStores()
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
