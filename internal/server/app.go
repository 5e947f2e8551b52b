// Package server initializes and runs the sync server: the change ledger,
// the content store and the HTTP endpoint, with graceful shutdown on
// OS signals.
package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/syncbox/internal/logging"
	"github.com/dmitrijs2005/syncbox/internal/server/config"
	"github.com/dmitrijs2005/syncbox/internal/server/content"
	"github.com/dmitrijs2005/syncbox/internal/server/httpapi"
	"github.com/dmitrijs2005/syncbox/internal/server/ledger"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	ledger  *ledger.Store
	content *content.Store
}

func NewApp(c *config.Config) (*App, error) {

	slog := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slog)

	return &App{
		config:  c,
		logger:  logger,
		ledger:  ledger.NewStore(logger),
		content: content.NewStore(),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewServer(
		app.config.EndpointAddr,
		app.logger,
		app.ledger,
		app.content,
		app.config.SecretKey,
		app.config.AccessTokenValidityDuration,
		app.config.ProductionMode,
	)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

}
