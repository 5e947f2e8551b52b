// Package cli is the command-line client: content commands routed through
// the offline-aware gateway, plus sync and queue management commands.
package cli

import (
	"context"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/syncbox/internal/client/api"
	"github.com/dmitrijs2005/syncbox/internal/client/config"
	"github.com/dmitrijs2005/syncbox/internal/client/device"
	"github.com/dmitrijs2005/syncbox/internal/client/gateway"
	"github.com/dmitrijs2005/syncbox/internal/client/queue"
	"github.com/dmitrijs2005/syncbox/internal/client/store"
	"github.com/dmitrijs2005/syncbox/internal/client/syncer"
	"github.com/dmitrijs2005/syncbox/internal/logging"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	store   *store.Store
	queue   *queue.Manager
	device  *device.Manager
	api     *api.Client
	gateway *gateway.Gateway
	syncer  *syncer.Syncer
}

func NewApp(cfg *config.Config) (*App, error) {

	ctx := context.Background()

	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	logger := logging.NewSlogLogger(slogger)

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	apiClient := api.New(cfg.ServerEndpointAddr, cfg.AccessToken)
	if cfg.AccessToken == "" {
		if _, err := apiClient.IssueToken(ctx, cfg.UserID); err != nil {
			logger.Warn(ctx, "could not obtain access token, starting offline", "error", err.Error())
		}
	}

	qm := queue.NewManager(st.DB())
	dev := device.NewManager(st.Metadata, st.DB())
	if err := dev.SetUserID(ctx, cfg.UserID); err != nil {
		st.Close()
		return nil, err
	}

	gw := gateway.New(apiClient, st.Records, qm, dev, logger)
	proc := queue.NewProcessor(qm, apiClient, logger)
	sc := syncer.New(apiClient, st.Records, dev, proc, logger)

	return &App{
		config:  cfg,
		logger:  logger,
		store:   st,
		queue:   qm,
		device:  dev,
		api:     apiClient,
		gateway: gw,
		syncer:  sc,
	}, nil
}

// Run executes the root command. A connectivity watcher runs in the
// background for the lifetime of the command so longer operations notice
// the server coming back.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go gateway.NewWatcher(a.gateway, a.config.OnlineCheckInterval).Run(watchCtx)

	return a.rootCmd().ExecuteContext(ctx)
}
