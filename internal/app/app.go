package app

import (
	"context"
	"errors"

	"gitlab.com/nevasik7/alerting/logger"
)

type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

type OracleRunner interface {
	Run(ctx context.Context) error
}

type App struct {
	lg      logger.Logger
	httpSrv HTTPServer
	oracle  OracleRunner

	cancel context.CancelFunc
	done   chan struct{}
}

func NewApp(lg logger.Logger, httpSrv HTTPServer, oracle OracleRunner) *App {
	return &App{
		lg:      lg,
		httpSrv: httpSrv,
		oracle:  oracle,
		done:    make(chan struct{}),
	}
}

func (a *App) Start() error {
	a.lg.Debug("App started begin...")

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		defer close(a.done)
		if err := a.oracle.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.lg.Errorf("Oracle pipeline stopped with error=%v", err)
		}
	}()

	go func() {
		// an unbindable address is unrecoverable
		if err := a.httpSrv.Start(); err != nil {
			a.lg.Fatalf("Start HTTP server is error=%v", err)
		}
	}()

	a.lg.Info("App started")
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.lg.Debug("App stopped begin...")

	if a.cancel != nil {
		a.cancel()
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		a.lg.Warn("Oracle pipeline did not stop before the shutdown deadline")
	}

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	a.lg.Info("App stopped")
	return nil
}
