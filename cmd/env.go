package main

import (
	"context"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/analyzer"
	"github.com/ftdcad/roofiq-learn-loop/internal/backend"
	"github.com/ftdcad/roofiq-learn-loop/internal/cache"
	"github.com/ftdcad/roofiq-learn-loop/internal/consensus"
	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/monitoring"
	"github.com/ftdcad/roofiq-learn-loop/internal/property"
	"github.com/ftdcad/roofiq-learn-loop/internal/resilience"
	"github.com/ftdcad/roofiq-learn-loop/internal/store"
	anthropicpkg "github.com/ftdcad/roofiq-learn-loop/pkg/anthropic"
	"github.com/ftdcad/roofiq-learn-loop/pkg/geocode"
)

// appEnv holds the initialized components needed by predict and serve.
type appEnv struct {
	Store     store.Store
	Engine    *consensus.Engine
	Analyzer  *analyzer.Analyzer
	Cache     *cache.Results
	Breakers  *resilience.Breakers
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store without migrating it.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "roofiq.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates store settings, opens the store and migrates it.
// Callers should defer Close.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv builds the full prediction stack. mode is "predict" or "serve".
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	breakerCfg := resilience.BreakerConfigFromConfig(cfg.Circuit)
	breakerCfg.Trips = backend.Trips
	breakers := resilience.NewBreakers(breakerCfg)
	retry := resilience.PolicyFromConfig(cfg.Retry)

	// Retries happen in backend.VisionClient so they share its breaker.
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key,
		option.WithMaxRetries(0),
		option.WithRequestTimeout(seconds(cfg.Anthropic.TimeoutSecs)),
	)
	vision := backend.NewVisionClient(anthropicClient,
		backend.WithModel(cfg.Anthropic.Model),
		backend.WithMaxTokens(cfg.Anthropic.MaxTokens),
		backend.WithVisionRetry(retry),
		backend.WithVisionBreaker(breakers.Get(estimate.ImageBackendName)),
	)
	structural := backend.NewStructuralClient(cfg.Structural.BaseURL, cfg.Structural.Key,
		backend.WithHTTPClient(&http.Client{Timeout: seconds(cfg.Structural.TimeoutSecs)}),
		backend.WithRateLimit(cfg.Structural.RateLimit, cfg.Structural.Burst),
		backend.WithStructuralRetry(retry),
		backend.WithStructuralBreaker(breakers.Get(estimate.StructuralBackendName)),
	)

	rules := estimate.DefaultStyleRules()
	if cfg.Geometry.StyleRulesFile != "" {
		rules, err = estimate.LoadStyleRules(cfg.Geometry.StyleRulesFile)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	engine := consensus.NewEngine(
		estimate.NewVisionEstimator(vision),
		estimate.NewGeometryEstimator(structural, estimate.WithStyleRules(rules)),
		initContextProvider(),
		consensus.WithDisagreementThreshold(cfg.Consensus.DisagreementThreshold),
	)

	geocoder := geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithRateLimit(cfg.Geocode.RateLimit),
		geocode.WithHTTPClient(&http.Client{Timeout: seconds(cfg.Geocode.TimeoutSecs)}),
	)
	results := cache.New(cfg.Cache.Size, time.Duration(cfg.Cache.TTLMinutes)*time.Minute)
	an := analyzer.New(engine,
		analyzer.WithGeocoder(geocoder),
		analyzer.WithStore(st),
		analyzer.WithCache(results),
		analyzer.WithConcurrency(cfg.Batch.Concurrency),
	)

	return &appEnv{
		Store:    st,
		Engine:   engine,
		Analyzer: an,
		Cache:    results,
		Breakers: breakers,
		Collector: monitoring.NewCollector(monitoring.Sources{
			Store:    st,
			Engine:   engine,
			Analyzer: an,
			Cache:    results,
			Breakers: breakers,
		}),
	}, nil
}

// initContextProvider assembles the configured footprint sources. The local
// shapefile is consulted before Overpass. It returns nil when no source is
// available, so the geometry estimator runs without building context.
func initContextProvider() consensus.ContextProvider {
	var sources []property.FootprintSource
	if path := cfg.Footprints.ShapefilePath; path != "" {
		src, err := property.LoadShapefile(path)
		if err != nil {
			zap.L().Warn("footprint shapefile unavailable", zap.String("path", path), zap.Error(err))
		} else {
			zap.L().Info("footprint shapefile loaded", zap.String("path", path), zap.Int("buildings", src.Len()))
			sources = append(sources, src)
		}
	}
	if cfg.Overpass.Enabled {
		sources = append(sources, property.NewOverpassSource(cfg.Overpass.Endpoint, cfg.Overpass.MaxParallel, seconds(cfg.Overpass.TimeoutSecs)))
	}
	if len(sources) == 0 {
		zap.L().Debug("no footprint sources configured")
		return nil
	}
	return property.NewProvider(sources,
		property.WithRadius(cfg.Overpass.RadiusMeters, cfg.Overpass.NeighborhoodRadiusMeters),
	)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
