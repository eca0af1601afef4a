package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gator-chat/internal/config"
	"gator-chat/internal/database"
	"gator-chat/internal/engine"
	"gator-chat/internal/handlers"
	"gator-chat/internal/messaging"
	"gator-chat/internal/middleware"
	"gator-chat/internal/utils"
	"gator-chat/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	jww "github.com/spf13/jwalterweatherman"
)

const shutdownGrace = 10 * time.Second

// app is the wired server: store, engine, realtime hub and HTTP surface.
type app struct {
	cfg    *config.Config
	db     database.DBAdapter
	engine *engine.Engine
	server *handlers.Server
	http   *http.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Type, err)
	}
	if err := db.InitializeTables(ctx); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("initializing %s store: %w", cfg.Database.Type, err)
	}

	metrics := utils.NewMetricsCollector()
	services := engine.NewServices(db, messaging.Options{DeleteWindow: cfg.Chat.DeleteWindow})
	e := engine.NewEngine(actor.NewActorSystem(), services, metrics, cfg.Server.RequestTimeout)

	hub := websocket.NewHub(e, metrics)
	limiter := middleware.NewMapLimiter(cfg.Chat.EventsPerSecond, cfg.Chat.EventBurst, 10*time.Minute)
	protocol := websocket.NewProtocol(hub, e, limiter, metrics)
	server := handlers.NewServer(e, protocol, middleware.NewTokenManager(cfg.Auth), metrics, cfg)

	return &app{
		cfg:    cfg,
		db:     db,
		engine: e,
		server: server,
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           server.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then drains and closes everything.
func (a *app) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		jww.INFO.Printf("Starting server on %s (store: %s)", a.http.Addr, a.cfg.Database.Type)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
	}

	jww.INFO.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := a.http.Shutdown(shutdownCtx)
	a.close()
	return err
}

func (a *app) close() {
	a.engine.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.db.Close(ctx); err != nil {
		jww.WARN.Printf("Closing store: %v", err)
	}
}
