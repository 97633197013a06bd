package app

import (
	"context"
	"sync"

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
)

// App wires every component of the measurement engine and owns their
// lifecycle.
type App struct {
	cfg     *config.Config
	fileCfg *config.FileConfig
	logger  *zap.Logger

	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	store         storage.Store
	writer        *writer.Writer
	marketCache   *cache.Markets
	discovery     *discovery.Client
	clobClient    *clob.Client
	supervisor    *monitor.Supervisor

	// sets carry database-assigned IDs after New.
	sets []types.ParameterSet

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	supervisorDone chan struct{}
}
