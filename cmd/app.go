package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Fender1992/cachegpt-sub001/pkg/cache"
	"github.com/Fender1992/cachegpt-sub001/pkg/config"
	"github.com/Fender1992/cachegpt-sub001/pkg/embedding"
	"github.com/Fender1992/cachegpt-sub001/pkg/embedding/openai"
	"github.com/Fender1992/cachegpt-sub001/pkg/flags"
	"github.com/Fender1992/cachegpt-sub001/pkg/llm"
	"github.com/Fender1992/cachegpt-sub001/pkg/logging"
	"github.com/Fender1992/cachegpt-sub001/pkg/metrics"
	"github.com/Fender1992/cachegpt-sub001/pkg/predict"
	"github.com/Fender1992/cachegpt-sub001/pkg/ranking"
	"github.com/Fender1992/cachegpt-sub001/pkg/scheduler"
	"github.com/Fender1992/cachegpt-sub001/pkg/store"
	"github.com/Fender1992/cachegpt-sub001/pkg/store/sqlite"
	"github.com/Fender1992/cachegpt-sub001/pkg/telemetry"
)

// app is the fully wired engine shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	tracer    *telemetry.Provider
	store     store.RecordStore
	usage     store.UsageLog
	embedder  *embedding.Service
	cache     *cache.TieredCache
	flags     flags.Flags
	router    *llm.Router
	analyzer  *predict.Analyzer
	predictor *predict.Predictor

	closers []func() error
}

// loadConfig reads the configuration resolved by initConfig.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newApp builds every component from cfg. Call Close when done.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, logCloser.Close)

	if cfg.Telemetry.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	tracing := cfg.Telemetry.Tracing
	a.tracer, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     tracing.Enabled,
		Exporter:    tracing.Exporter,
		Endpoint:    tracing.Endpoint,
		SampleRate:  tracing.SampleRate,
		ServiceName: "cachegpt",
		Insecure:    tracing.Insecure,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return a.tracer.Shutdown(context.Background())
	})

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildEmbedder(); err != nil {
		a.Close()
		return nil, err
	}

	ranker := ranking.NewDecayRanker(cfg.Ranking)
	a.cache = cache.New(a.store, a.embedder, ranker, cfg.Cache,
		cache.WithLogger(a.logger.With().Str("component", "cache").Logger()),
		cache.WithMetrics(a.metrics),
		cache.WithTracer(a.tracer),
	)

	if err := a.buildFlags(); err != nil {
		a.Close()
		return nil, err
	}

	a.buildRouter()

	a.analyzer = predict.NewAnalyzer(a.store, cfg.Predict,
		a.logger.With().Str("component", "analyzer").Logger(), a.tracer)
	a.predictor = predict.NewPredictor(a.analyzer, a.flags, a.embedder, a.cache, a.router, cfg.Predict,
		predict.WithLogger(a.logger.With().Str("component", "predictor").Logger()),
		predict.WithMetrics(a.metrics),
		predict.WithTracer(a.tracer),
	)

	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Store.Driver {
	case "memory":
		mem := store.NewMemory()
		a.store, a.usage = mem, mem
	case "sqlite":
		st, err := sqlite.New(a.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		a.store, a.usage = st, st
	default:
		return fmt.Errorf("unsupported store driver: %s", a.cfg.Store.Driver)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *app) buildEmbedder() error {
	ec := a.cfg.Embedding

	var provider embedding.Provider
	if ec.Provider == "openai" {
		key := ec.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key != "" {
			client, err := openai.NewClient(openai.Config{
				APIKey:     key,
				Model:      ec.Model,
				Dimensions: ec.Dimension,
				BaseURL:    ec.BaseURL,
				Timeout:    ec.Timeout,
			})
			if err != nil {
				return fmt.Errorf("failed to create embedding provider: %w", err)
			}
			provider = client
		} else {
			a.logger.Warn().Msg("no OpenAI API key, using local embeddings")
		}
	}

	a.embedder = embedding.NewService(provider, ec.Dimension,
		embedding.WithCache(embedding.NewFIFOCache(ec.CacheSize)),
		embedding.WithTimeout(ec.Timeout),
		embedding.WithLogger(a.logger.With().Str("component", "embedding").Logger()),
		embedding.WithMetrics(a.metrics),
		embedding.WithTracer(a.tracer),
	)
	return nil
}

func (a *app) buildFlags() error {
	static := flags.NewStatic(a.cfg.Flags.Defaults)
	if a.cfg.Flags.Backend != "redis" {
		a.flags = static
		return nil
	}

	rf, err := flags.NewRedis(a.cfg.Flags.Redis, static, a.logger.With().Str("component", "flags").Logger())
	if err != nil {
		return fmt.Errorf("failed to create redis flags: %w", err)
	}
	a.flags = rf
	a.closers = append(a.closers, rf.Close)
	return nil
}

func (a *app) buildRouter() {
	a.router = llm.NewRouter()

	oc := a.cfg.LLM.OpenAI
	if oc.APIKey == "" {
		oc.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if oc.APIKey != "" {
		a.router.Register(llm.ProviderOpenAI, llm.NewOpenAI(oc))
	}

	ac := a.cfg.LLM.Anthropic
	if ac.APIKey == "" {
		ac.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if ac.APIKey != "" {
		a.router.Register(llm.ProviderAnthropic, llm.NewAnthropic(ac))
	}

	if len(a.router.Providers()) == 0 {
		a.logger.Warn().Msg("no upstream LLM providers configured, cache misses will fail")
	} else {
		a.logger.Debug().Str("providers", strings.Join(a.router.Providers(), ",")).Msg("upstream providers registered")
	}
}

// runner wires the background jobs against this app.
func (a *app) runner() *scheduler.Runner {
	return scheduler.New(a.cfg.Scheduler, a.predictor, a.cache,
		a.logger.With().Str("component", "scheduler").Logger())
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "close error: %v\n", err)
		}
	}
	a.closers = nil
}
