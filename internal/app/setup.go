package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/internal/clob"
	"github.com/mglvsky/pairscan/internal/discovery"
	"github.com/mglvsky/pairscan/internal/monitor"
	"github.com/mglvsky/pairscan/internal/storage"
	"github.com/mglvsky/pairscan/internal/writer"
	"github.com/mglvsky/pairscan/pkg/cache"
	"github.com/mglvsky/pairscan/pkg/config"
	"github.com/mglvsky/pairscan/pkg/healthprobe"
	"github.com/mglvsky/pairscan/pkg/httpserver"
	"github.com/mglvsky/pairscan/pkg/types"
	"github.com/mglvsky/pairscan/pkg/websocket"
)

const setupTimeout = 30 * time.Second

// New builds the application: opens storage, registers the configured
// parameter sets and constructs every component. Nothing starts until
// Run.
func New(cfg *config.Config) (*App, error) {
	logger := cfg.Logger

	fileCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("load measurement config: %w", err)
	}

	sets, err := fileCfg.ToParameterSets()
	if err != nil {
		return nil, fmt.Errorf("convert parameter sets: %w", err)
	}

	a := &App{
		cfg:            cfg,
		fileCfg:        fileCfg,
		logger:         logger,
		supervisorDone: make(chan struct{}),
	}

	if err := a.setupStorage(sets); err != nil {
		return nil, err
	}
	if err := a.setupMarketData(); err != nil {
		return nil, err
	}
	a.setupSupervisor()
	a.setupHTTPServer()

	logger.Info("app-initialized",
		zap.String("storage-backend", cfg.StorageBackend),
		zap.Int("parameter-sets", len(a.sets)),
		zap.Strings("assets", fileCfg.Markets.CryptoAssets))
	return a, nil
}

// setupStorage opens the backend, applies the schema and registers the
// parameter sets so attempts can reference their database IDs.
func (a *App) setupStorage(sets []types.ParameterSet) error {
	dsn := ""
	switch a.cfg.StorageBackend {
	case "postgres":
		dsn = a.cfg.DatabaseURL
	case "sqlite":
		dsn = a.cfg.SQLitePath
	}

	store, err := storage.Open(a.cfg.StorageBackend, dsn, a.logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return fmt.Errorf("init schema: %w", err)
	}

	for i := range sets {
		id, err := store.InsertParameterSet(ctx, &sets[i])
		if err != nil {
			store.Close()
			return fmt.Errorf("register parameter set %q: %w", sets[i].Name, err)
		}
		sets[i].ID = id
	}

	a.store = store
	a.sets = sets
	a.writer = writer.New(store, writer.Config{Logger: a.logger})
	return nil
}

func (a *App) setupMarketData() error {
	marketCache, err := cache.NewMarkets(a.logger)
	if err != nil {
		return fmt.Errorf("create market cache: %w", err)
	}
	a.marketCache = marketCache

	a.discovery = discovery.NewClient(discovery.Config{
		BaseURL:    a.cfg.GammaAPIURL,
		MarketType: a.fileCfg.Markets.MarketType,
		Cache:      marketCache,
		Logger:     a.logger,
	})

	a.clobClient = clob.New(clob.Config{
		BaseURL: a.cfg.CLOBAPIURL,
		Logger:  a.logger,
	})
	return nil
}

func (a *App) setupSupervisor() {
	a.supervisor = monitor.NewSupervisor(monitor.SupervisorConfig{
		Assets:                 a.fileCfg.Markets.CryptoAssets,
		Discovery:              a.discovery,
		NewMonitor:             a.newMonitor,
		PreDiscoveryLead:       a.fileCfg.PreDiscoveryLead(),
		SuccessorRetryInterval: a.fileCfg.DiscoveryPollInterval(),
		Logger:                 a.logger,
	})
}

func (a *App) setupHTTPServer() {
	a.healthChecker = healthprobe.New()
	a.httpServer = httpserver.New(&httpserver.Config{
		Port:          a.cfg.HTTPPort,
		Logger:        a.logger,
		HealthChecker: a.healthChecker,
		Status:        a.supervisor,
	})
}

// newMonitor builds one monitor session with its own market data
// stream. The writer and CLOB client are shared across sessions.
func (a *App) newMonitor(info types.MarketInfo) (monitor.Runner, error) {
	ws := a.fileCfg.WebSocket

	stream := websocket.New(websocket.Config{
		URL:                   a.cfg.WSURL,
		DialTimeout:           10 * time.Second,
		PingInterval:          a.fileCfg.HeartbeatInterval(),
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     time.Duration(ws.ReconnectMaxDelaySeconds) * time.Second,
		ReconnectBackoffMult:  2.0,
		EventBufferSize:       1024,
		Logger:                a.logger.With(zap.String("market-id", info.MarketID)),
	})

	return monitor.New(monitor.Config{
		Market:                   info,
		Sets:                     a.sets,
		MaxReferenceSumDeviation: a.fileCfg.Quality.MaxReferenceSumDeviation,
		FeedGapThreshold:         a.fileCfg.FeedGapThreshold(),
		BootTimeout:              time.Duration(ws.BootTimeoutSeconds) * time.Second,
		RESTFallbackInterval:     time.Duration(ws.RESTFallbackIntervalSeconds) * time.Second,
		EnableSnapshots:          a.cfg.EnableSnapshots,
		EnableLifecycle:          a.cfg.EnableLifecycle,
		MaxAnomalies:             a.fileCfg.Quality.MaxAnomaliesPerMarket,
		Stream:                   stream,
		REST:                     a.clobClient,
		Sink:                     a.writer,
		Logger:                   a.logger,
	})
}
