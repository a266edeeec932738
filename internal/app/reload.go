package app

import (
	"context"
	"strings"

	"stockwatch/internal/config"
	logx "stockwatch/pkg/logx"
)

// reloadLoop applies hot-reloaded configuration. Sections read only at
// startup are reported and left alone.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

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
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if a.logs != nil {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}
	a.tracker.SetInterval(strings.TrimSpace(newCfg.Tracker.Interval))
	a.tracker.SetStorefrontHost(strings.TrimSpace(newCfg.Tracker.StorefrontHost))

	if config.RequiresRestart(sections) {
		a.log.Warn("config changed in sections read at startup; restart required for them to take effect",
			logx.String("changed", strings.Join(sections, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
