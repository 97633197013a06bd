package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// Shutdown drains the application in dependency order: stop taking
// traffic, cancel the supervisor so every monitor settles its attempts
// as bot_shutdown, flush the writer, then close the remaining
// components.
func (a *App) Shutdown() error {
	a.logger.Info("shutdown-starting")
	a.healthChecker.SetReady(false)

	a.cancel()

	select {
	case <-a.supervisorDone:
	case <-time.After(shutdownTimeout):
		a.logger.Warn("supervisor-drain-timed-out")
	}

	// Everything the monitors enqueued is flushed here; Stop also
	// closes the store.
	if err := a.writer.Stop(); err != nil {
		a.logger.Error("writer-stop-failed", zap.Error(err))
	}

	a.marketCache.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http-server-shutdown-failed", zap.Error(err))
	}
	a.wg.Wait()

	a.logger.Info("shutdown-complete")
	return nil
}
