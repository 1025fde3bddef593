package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sawpanic/mdcollector/internal/backfill"
	"github.com/sawpanic/mdcollector/internal/cache"
	"github.com/sawpanic/mdcollector/internal/circuit"
	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/connector"
	"github.com/sawpanic/mdcollector/internal/connector/calendar"
	"github.com/sawpanic/mdcollector/internal/connector/etf"
	"github.com/sawpanic/mdcollector/internal/connector/kraken"
	"github.com/sawpanic/mdcollector/internal/connector/whale"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/health"
	"github.com/sawpanic/mdcollector/internal/metrics"
	"github.com/sawpanic/mdcollector/internal/orchestrator"
	"github.com/sawpanic/mdcollector/internal/persistence"
	"github.com/sawpanic/mdcollector/internal/persistence/postgres"
	"github.com/sawpanic/mdcollector/internal/ratelimit"
	"github.com/sawpanic/mdcollector/internal/retry"
	"github.com/sawpanic/mdcollector/internal/signals"
	"github.com/sawpanic/mdcollector/internal/validator"
	"github.com/jmoiron/sqlx"
)

// app bundles every long-lived dependency a subcommand needs, built
// once from the collector config and the process environment.
type app struct {
	cfg      *config.CollectorConfig
	db       *sqlx.DB
	repo     *persistence.Repository
	runner   *retry.Runner
	circuits *circuit.Manager
	metrics  *metrics.Registry
	orch     *orchestrator.Orchestrator
	signals  *signals.Monitor
	log      zerolog.Logger
}

// buildApp reads the collector config at cfgPath and wires every
// package the process needs, matching orchestrator.py's module-level
// construction of a DatabaseLoader, retry policy and per-venue
// connectors before any collection cycle runs.
func buildApp(ctx context.Context, cfgPath string, log zerolog.Logger) (*app, error) {
	cfg, err := config.LoadCollectorConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load collector config: %w", err)
	}

	db, err := postgres.Open(ctx, postgres.PoolConfig{
		DSN:             envOr("COLLECTOR_DB_DSN", "postgres://localhost:5432/mdcollector?sslmode=disable"),
		MaxOpenConns:    envOrInt("COLLECTOR_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    envOrInt("COLLECTOR_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	timeout := 10 * time.Second
	repo := &persistence.Repository{
		Markets:      postgres.NewMarketsRepo(db, timeout),
		OHLCV:        postgres.NewOHLCVRepo(db, timeout, log),
		Metrics:      postgres.NewMetricsRepo(db, timeout, log),
		Indicators:   postgres.NewIndicatorsRepo(db, timeout),
		Whales:       postgres.NewWhaleRepo(db, timeout, log),
		Backfill:     postgres.NewBackfillRepo(db, timeout),
		Liquidations: postgres.NewLiquidationsRepo(db, timeout),
		Signals:      postgres.NewSignalsRepo(db, timeout),
		Logs:         postgres.NewLogsRepo(db, timeout),
	}

	rateLimiter := buildRateLimiter(cfg)
	circuits := circuit.NewManager()
	runner := retry.NewRunner(rateLimiter, circuits, retry.DefaultPolicy())
	metricsRegistry := metrics.New()

	redisClient := redis.NewClient(&redis.Options{Addr: envOr("COLLECTOR_REDIS_ADDR", "localhost:6379")})
	respCache := cache.New(redisClient, cache.SourceOverrides{})

	ohlcvConnectors := buildOHLCVConnectors(cfg, runner)
	whaleConnectors := buildWhaleConnectors(cfg, runner, respCache)
	etfConn := etf.New(runner, log)
	calConn := buildCalendarConnector(runner, log)

	v := validator.New(validator.DefaultConfig())

	orch := orchestrator.New(ohlcvConnectors, whaleConnectors, etfConn, calConn, repo, v, runner, metricsRegistry, log)
	monitor := signals.New(repo, signals.DefaultConfig(), log)

	return &app{
		cfg:      cfg,
		db:       db,
		repo:     repo,
		runner:   runner,
		circuits: circuits,
		metrics:  metricsRegistry,
		orch:     orch,
		signals:  monitor,
		log:      log,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// backfillFetcher adapts the orchestrator's venue-keyed connectors into
// a backfill.Fetcher: it looks up the task's market to find its venue
// and symbol, then re-requests the gap window from that venue's
// connector, mirroring backfill_scheduler.py's dependency on the
// collector module's fetch functions to actually fill a gap.
func (a *app) backfillFetcher(ctx context.Context) backfill.Fetcher {
	return func(ctx context.Context, task domain.BackfillTask) ([]domain.OHLCVBar, error) {
		markets, err := a.repo.Markets.List(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		var mkt *domain.Market
		for i := range markets {
			if markets[i].ID == task.MarketID {
				mkt = &markets[i]
				break
			}
		}
		if mkt == nil {
			return nil, fmt.Errorf("market %d not found", task.MarketID)
		}
		conn, ok := a.orch.OHLCVConnector(mkt.Venue)
		if !ok {
			return nil, fmt.Errorf("no connector wired for venue %q", mkt.Venue)
		}
		tf := "1h"
		if task.Timeframe != nil {
			tf = *task.Timeframe
		}
		return conn.FetchOHLCV(ctx, mkt.Symbol, tf, task.GapStart)
	}
}

// healthManager builds a health.Manager reporting on every venue this
// app wired a connector for.
func (a *app) healthManager() *health.Manager {
	sources := make([]string, 0, len(a.cfg.Sources))
	for name := range a.cfg.Sources {
		sources = append(sources, name)
	}
	return health.NewManager(a.circuits, postgres.NewRepositoryHealth(a.db), sources)
}

// buildRateLimiter registers a limiter per declared source so the
// retry runner throttles outbound requests to what each source's
// request policy allows.
func buildRateLimiter(cfg *config.CollectorConfig) *ratelimit.Manager {
	sources := make([]ratelimit.SourceConfig, 0, len(cfg.Sources))
	for name, src := range cfg.Sources {
		sources = append(sources, ratelimit.SourceConfig{
			Name:  name,
			RPS:   float64(src.Request.RPS),
			Burst: src.Request.Burst,
		})
	}
	return ratelimit.NewManagerFromSources(sources)
}

// buildOHLCVConnectors constructs one connector per distinct venue
// referenced by an exchange_ohlcv/funding/open_interest source. Kraken
// is the only exchange adapter this build ships; other venues get no
// connector, with no warning logged and no error returned, so a
// config referencing a future venue still loads.
func buildOHLCVConnectors(cfg *config.CollectorConfig, runner *retry.Runner) map[string]connector.OHLCVConnector {
	out := make(map[string]connector.OHLCVConnector)
	for _, src := range cfg.Sources {
		switch src.Kind {
		case config.SourceExchangeOHLCV, config.SourceFunding, config.SourceOpenInterest:
		default:
			continue
		}
		if _, ok := out[src.Venue]; ok {
			continue
		}
		switch src.Venue {
		case "kraken":
			out[src.Venue] = kraken.New(src.BaseURL, runner)
		}
	}
	return out
}

// buildWhaleConnectors constructs the four blockchain trackers the
// config's whale_* source kinds select, reading API keys and watched
// addresses from the environment since they are secrets rather than
// schedule/network policy.
func buildWhaleConnectors(cfg *config.CollectorConfig, runner *retry.Runner, c *cache.Cache) map[string]connector.WhaleConnector {
	thresholds := whale.Thresholds{
		WhaleAmount:   envOrFloat("COLLECTOR_WHALE_AMOUNT_USD", 100_000),
		AnomalyAmount: envOrFloat("COLLECTOR_WHALE_ANOMALY_USD", 1_000_000),
	}
	exchanges := whale.ExchangeAddresses{}

	out := make(map[string]connector.WhaleConnector)
	enabled := cfg.EnabledSources()

	if _, ok := firstSourceOfKind(enabled, config.SourceWhaleBTC); ok {
		out["BTC"] = whale.NewBitcoinTracker(envOr("COLLECTOR_BLOCKCHAIR_URL", "https://api.blockchair.com"), runner, c, thresholds, exchanges)
	}
	if _, ok := firstSourceOfKind(enabled, config.SourceWhaleETH); ok {
		out["ETH"] = whale.NewEVMTracker("ETH", "eth", envOr("COLLECTOR_ETHERSCAN_URL", "https://api.etherscan.io/api"),
			os.Getenv("COLLECTOR_ETHERSCAN_API_KEY"), os.Getenv("COLLECTOR_ETH_WATCH_ADDRESS"), runner, c, thresholds, exchanges)
	}
	if _, ok := firstSourceOfKind(enabled, config.SourceWhaleBSC); ok {
		out["BSC"] = whale.NewEVMTracker("BSC", "bnb", envOr("COLLECTOR_BSCSCAN_URL", "https://api.bscscan.com/api"),
			os.Getenv("COLLECTOR_BSCSCAN_API_KEY"), os.Getenv("COLLECTOR_BSC_WATCH_ADDRESS"), runner, c, thresholds, exchanges)
	}
	if _, ok := firstSourceOfKind(enabled, config.SourceWhaleTRX); ok {
		out["TRX"] = whale.NewTronTracker(envOr("COLLECTOR_TRONSCAN_URL", "https://apilist.tronscanapi.com/api"), runner, c, thresholds, exchanges)
	}
	return out
}

func firstSourceOfKind(sources map[string]config.CollectorSource, kind config.SourceKind) (config.CollectorSource, bool) {
	for _, s := range sources {
		if s.Kind == kind {
			return s, true
		}
	}
	return config.CollectorSource{}, false
}

// buildCalendarConnector wires the FRED-backed economic calendar with
// FOMC meeting dates read from the environment as a comma-separated
// list of RFC3339 dates, since main.py hardcodes these per year and
// this build prefers a value an operator can update without a release.
func buildCalendarConnector(runner *retry.Runner, log zerolog.Logger) connector.EconomicCalendarConnector {
	var meetings []time.Time
	raw := os.Getenv("COLLECTOR_FOMC_MEETING_DATES")
	if raw == "" {
		return calendar.New(os.Getenv("COLLECTOR_FRED_API_KEY"), runner, log, meetings)
	}
	for _, part := range splitComma(raw) {
		t, err := time.Parse(time.RFC3339, part)
		if err != nil {
			log.Warn().Str("value", part).Msg("ignoring unparseable FOMC meeting date")
			continue
		}
		meetings = append(meetings, t)
	}
	return calendar.New(os.Getenv("COLLECTOR_FRED_API_KEY"), runner, log, meetings)
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
