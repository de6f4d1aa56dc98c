// Package monitoring collects runtime and stored-analysis metrics and raises
// webhook alerts when they cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ftdcad/roofiq-learn-loop/internal/analyzer"
	"github.com/ftdcad/roofiq-learn-loop/internal/cache"
	"github.com/ftdcad/roofiq-learn-loop/internal/consensus"
	"github.com/ftdcad/roofiq-learn-loop/internal/resilience"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health. Sections
// whose source is not configured are omitted.
type MetricsSnapshot struct {
	Store    *store.Summary             `json:"store,omitempty"`
	Engine   *consensus.Stats           `json:"engine,omitempty"`
	Analyzer *analyzer.Stats            `json:"analyzer,omitempty"`
	Cache    *cache.Stats               `json:"cache,omitempty"`
	Breakers []resilience.BreakerStatus `json:"breakers,omitempty"`

	// FailureRate is failed predictions over attempted predictions since start.
	FailureRate float64   `json:"failure_rate"`
	CollectedAt time.Time `json:"collected_at"`
}

// Attempts is the number of predictions attempted since start.
func (s *MetricsSnapshot) Attempts() int64 {
	if s.Engine == nil {
		return 0
	}
	return s.Engine.Predictions + s.Engine.Failures
}

// OpenBreakers lists the breakers currently open.
func (s *MetricsSnapshot) OpenBreakers() []string {
	var out []string
	for _, b := range s.Breakers {
		if b.State == resilience.StateOpen {
			out = append(out, b.Name)
		}
	}
	return out
}

// SummaryReader is the store method the collector needs.
type SummaryReader interface {
	Summary(ctx context.Context) (*store.Summary, error)
}

// Sources are the components a Collector reads. Nil fields are skipped.
type Sources struct {
	Store    SummaryReader
	Engine   interface{ Stats() consensus.Stats }
	Analyzer interface{ Stats() analyzer.Stats }
	Cache    interface{ Stats() cache.Stats }
	Breakers interface {
		Snapshot() []resilience.BreakerStatus
	}
}

// Collector gathers metrics from its sources.
type Collector struct {
	src Sources
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Sources) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot of system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: c.now().UTC()}

	if c.src.Store != nil {
		sum, err := c.src.Store.Summary(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: store summary")
		}
		snap.Store = sum
	}
	if c.src.Engine != nil {
		st := c.src.Engine.Stats()
		snap.Engine = &st
		if attempts := snap.Attempts(); attempts > 0 {
			snap.FailureRate = float64(st.Failures) / float64(attempts)
		}
	}
	if c.src.Analyzer != nil {
		st := c.src.Analyzer.Stats()
		snap.Analyzer = &st
	}
	if c.src.Cache != nil {
		st := c.src.Cache.Stats()
		snap.Cache = &st
	}
	if c.src.Breakers != nil {
		snap.Breakers = c.src.Breakers.Snapshot()
	}
	return snap, nil
}
