package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Run starts every component and blocks until a shutdown signal, a
// fatal writer error, cancellation, or all asset loops exhausting. It
// always drains through Shutdown before returning.
func (a *App) Run(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.startComponents()

	a.healthChecker.SetReady(true)
	a.logger.Info("app-started")

	reason := a.waitForShutdown()
	a.logger.Info("app-stopping", zap.String("reason", reason))

	return a.Shutdown()
}

func (a *App) startComponents() {
	a.writer.Start()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.Start(); err != nil {
			a.logger.Error("http-server-failed", zap.Error(err))
		}
	}()

	go func() {
		defer close(a.supervisorDone)
		a.supervisor.Run(a.ctx)
	}()
}

// waitForShutdown blocks until something ends the run and names it.
func (a *App) waitForShutdown() string {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		return "signal " + sig.String()
	case <-a.ctx.Done():
		return "context cancelled"
	case err := <-a.writer.Fatal():
		a.logger.Error("writer-fatal", zap.Error(err))
		return "writer failure"
	case <-a.supervisorDone:
		return "all asset loops finished"
	}
}
