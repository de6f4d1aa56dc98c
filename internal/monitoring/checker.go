package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates alerts on an interval. An alert is delivered when its
// condition first appears and again only after it has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration

	// active holds alert types raised by the previous check.
	active map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		active:    make(map[AlertType]bool),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().Named("monitoring")
	log.Info("alert checker started", zap.Duration("interval", c.interval))

	c.check(ctx, log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check collects and evaluates a snapshot, delivers newly raised alerts and
// returns them.
func (c *Checker) check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("collect metrics", zap.Error(err))
		return nil
	}

	raised := c.alerter.Evaluate(snap)
	current := make(map[AlertType]bool, len(raised))
	var fresh []Alert
	for _, a := range raised {
		current[a.Type] = true
		if !c.active[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.active {
		if !current[t] {
			log.Info("alert cleared", zap.String("type", string(t)))
		}
	}
	c.active = current

	if len(fresh) == 0 {
		log.Debug("no new alerts", zap.Int("active", len(current)))
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("alerts raised",
		zap.Int("new", len(fresh)),
		zap.Int("active", len(current)),
		zap.Int("sent", sent),
	)
	return fresh
}
