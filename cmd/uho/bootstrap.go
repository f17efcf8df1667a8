// Shared dependency wiring for every subcommand, grounded on the
// teacher's main.go dependency-construction order (DB connect ->
// migrate -> chain client -> services -> API), generalized from the
// teacher's flat function body into a reusable struct: `serve`,
// `migrate`, `reset-checkpoint` and `backfill` each build the whole graph
// through newApp and use the parts they need.
package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uho-indexer/uho/internal/api"
	"github.com/uho-indexer/uho/internal/backfill"
	"github.com/uho-indexer/uho/internal/config"
	"github.com/uho-indexer/uho/internal/db"
	"github.com/uho-indexer/uho/internal/fanout"
	"github.com/uho-indexer/uho/internal/ingest"
	"github.com/uho-indexer/uho/internal/solrpc"
	"github.com/uho-indexer/uho/internal/supervisor"
	"github.com/uho-indexer/uho/internal/webhook"
)

// app bundles every long-lived dependency a subcommand might need.
// newApp builds all of it for every subcommand; each uses only the parts
// it needs.
type app struct {
	cfg         *config.Config
	pool        *db.Pool
	cp          *db.ControlPlane
	rpc         *solrpc.Client
	bus         *fanout.Bus
	writer      *ingest.Writer
	dispatcher  *webhook.Dispatcher
	backfillMgr *backfill.Manager
	supervisor  *supervisor.Supervisor
	server      *api.Server
	logger      zerolog.Logger
}

// newApp connects to Postgres and the configured Solana RPC endpoint,
// then wires the full ingest/backfill/webhook/supervisor graph. It does
// not apply control-plane DDL or start any goroutine — callers decide
// what to run.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := log.With().Str("component", "uho").Logger()

	pool, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	cp := db.NewControlPlane(pool)
	rpc := solrpc.New(cfg.SolanaRPCURL, logger)
	bus := fanout.New()
	writer := ingest.NewWriter(pool, bus)
	dispatcher := webhook.NewDispatcher(cp, cfg.AllowPlainHTTP)
	backfillMgr := backfill.NewManager(cp, writer, rpc)
	sup := supervisor.New(cp, pool, writer, bus, dispatcher, rpc, cfg.PollIntervalMs)
	server := api.NewServer(cp, pool, sup, backfillMgr, bus, rpc, cfg.APIPort, cfg.JWTSecret)

	return &app{
		cfg:         cfg,
		pool:        pool,
		cp:          cp,
		rpc:         rpc,
		bus:         bus,
		writer:      writer,
		dispatcher:  dispatcher,
		backfillMgr: backfillMgr,
		supervisor:  sup,
		server:      server,
		logger:      logger,
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}
