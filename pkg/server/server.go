// Package server provides the public entry point for initializing an
// mjnet node.
//
// This package exists in pkg/ (not internal/) so that embedding programs
// can compose the full node and wrap its HTTP handler.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	srv.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mjnet/mjnet/internal/api"
	"github.com/mjnet/mjnet/internal/api/handlers"
	"github.com/mjnet/mjnet/internal/config"
	"github.com/mjnet/mjnet/internal/discovery"
	"github.com/mjnet/mjnet/internal/generate"
	"github.com/mjnet/mjnet/internal/network"
	"github.com/mjnet/mjnet/internal/registry"
	"github.com/mjnet/mjnet/internal/store"
	"github.com/mjnet/mjnet/internal/telemetry"
	"github.com/mjnet/mjnet/pkg/contracts"
)

// Server holds an initialized mjnet node.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (in-memory unless DATABASE_URL is set).
	Store store.Store

	// Registry is the presence registry (in-process unless REDIS_URL is set).
	Registry registry.Registry

	// Discovery is the LAN discovery service.
	Discovery *discovery.Service

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the HTTP server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error

	processor *network.Processor
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New initializes every component from environment configuration and
// returns a ready Server. Background services do not run until Start.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the node with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	disc := discovery.NewService(cfg.Discovery, reg, cfg.Agent.UserID, cfg.Agent.UserName, cfg.Agent.Capabilities)

	gen := generate.NewOpenAIClient(cfg.Generator)
	clock := contracts.SystemClock{}

	friends := network.NewFriendService(dataStore, clock)
	comms := network.NewCommsService(dataStore, reg, gen, clock, cfg.Sessions, cfg.Registry.TTL)
	processor := network.NewProcessor(dataStore, comms, friends, clock, cfg.Sessions.ProcessorInterval)

	h := handlers.New(dataStore, reg, disc, friends, comms)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Registry:     reg,
		Discovery:    disc,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
		processor:    processor,
	}, nil
}

// Start launches the discovery listener and the session processor.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.Discovery.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start discovery: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processor.Start(ctx)
	}()

	log.Info().
		Str("agent_id", s.Discovery.Self().AgentID).
		Int64("user_id", s.Config.Agent.UserID).
		Msg("mjnet node started")
	return nil
}

// Stop winds down background services, the registry, and the store.
func (s *Server) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.Discovery.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("Discovery stop failed")
	}
	s.wg.Wait()

	if err := s.Registry.Close(); err != nil {
		log.Warn().Err(err).Msg("Registry close failed")
	}
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("Store close failed")
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		log.Info().Msg("In-memory store initialized")
		return store.NewMemoryStore(), nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	log.Info().Msg("PostgreSQL store initialized")
	return pg, nil
}

func buildRegistry(ctx context.Context, cfg *config.Config) (registry.Registry, error) {
	ttl := cfg.Registry.TTL
	if ttl <= 0 {
		ttl = registry.DefaultTTL
	}

	if cfg.Registry.RedisURL == "" {
		log.Info().Msg("In-process presence registry initialized")
		return registry.NewMemoryRegistry(ttl), nil
	}

	reg, err := registry.NewRedisRegistry(ctx, cfg.Registry.RedisURL, ttl)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Msg("Redis presence registry initialized")
	return reg, nil
}
