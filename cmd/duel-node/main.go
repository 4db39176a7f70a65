package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/duelengine/params"
	"github.com/uhyunpark/duelengine/pkg/api"
	"github.com/uhyunpark/duelengine/pkg/app/core/asset"
	"github.com/uhyunpark/duelengine/pkg/app/duel"
	"github.com/uhyunpark/duelengine/pkg/crypto"
	"github.com/uhyunpark/duelengine/pkg/feed"
	"github.com/uhyunpark/duelengine/pkg/p2p"
	"github.com/uhyunpark/duelengine/pkg/settlement"
	"github.com/uhyunpark/duelengine/pkg/storage"
	"github.com/uhyunpark/duelengine/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File)

	// ---- Identity ----
	signer, err := loadSigner(cfg.Participant.PrivateKey, sugar)
	if err != nil {
		sugar.Fatalw("participant_key_invalid", "err", err)
	}
	selfID := signer.Address().Hex()
	if cfg.Participant.Address != "" {
		addr, err := crypto.ParseAddress(cfg.Participant.Address)
		if err != nil {
			sugar.Fatalw("participant_address_invalid", "err", err)
		}
		selfID = addr.Hex()
	}

	// ---- Assets ----
	catalog := asset.MustDefault()
	if cfg.Feed.CatalogPath != "" {
		if catalog, err = asset.LoadFile(cfg.Feed.CatalogPath); err != nil {
			sugar.Fatalw("catalog_load_failed", "path", cfg.Feed.CatalogPath, "err", err)
		}
	}

	// ---- Engine ----
	engine := duel.New(duel.Config{
		StartingBalance:     cfg.Match.StartingBalance,
		DefaultDuration:     cfg.Match.DefaultDuration,
		OpeningBellFraction: cfg.Match.OpeningBellFraction,
		RevealTicks:         cfg.Match.RevealTicks,
		FeeBps:              cfg.Settlement.FeeBps,
		SelfID:              selfID,
		SelfTag:             cfg.Participant.Tag,
	}, catalog, sugar.Named("engine"))

	// ---- Storage ----
	var history interface {
		duel.Recorder
		api.History
	}
	if cfg.Storage.DBPath != "" {
		store, err := storage.NewStore(cfg.Storage.DBPath)
		if err != nil {
			sugar.Fatalw("storage_open_failed", "path", cfg.Storage.DBPath, "err", err)
		}
		defer store.Close()
		history = store
	} else {
		sugar.Warnw("storage_in_memory", "reason", "DB_PATH empty")
		history = storage.NewMemoryStore()
	}
	engine.SetRecorder(history)

	if cfg.Storage.JournalPath != "" {
		journal, err := storage.NewJournal(cfg.Storage.JournalPath, sugar)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Storage.JournalPath, "err", err)
		}
		defer journal.Close()
		engine.Subscribe(journal)
	}

	verifier, err := settlement.NewVerifier(cfg.Settlement.Authority)
	if err != nil {
		sugar.Fatalw("settlement_authority_invalid", "err", err)
	}
	if !verifier.Enabled() {
		sugar.Warnw("settlement_verification_disabled", "reason", "SETTLEMENT_AUTHORITY empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Opponent ROI gossip (optional) ----
	if cfg.P2P.Enabled {
		gossip, err := p2p.NewGossip(ctx, p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			SelfID:     selfID,
			Sink:       engine,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer gossip.Close()
		engine.Subscribe(gossip)
	}

	server := api.NewServer(api.Config{
		Engine:      engine,
		History:     history,
		Verifier:    verifier,
		CORSOrigins: cfg.API.CORSOrigins,
		Logger:      sugar.Named("api"),
	})

	runner := duel.NewRunner(engine, util.RealClock{}, sugar.Named("runner"))
	runner.Step = cfg.Match.Step

	sugar.Infow("node_starting",
		"self_id", selfID,
		"tag", cfg.Participant.Tag,
		"assets", catalog.Len(),
		"api_addr", cfg.API.Addr,
		"feed", cfg.Feed.URL != "",
		"simulated_feed", cfg.Feed.URL == "" && cfg.Feed.Simulate,
		"p2p", cfg.P2P.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, cfg.API.Addr) })
	g.Go(func() error { return ignoreCancel(runner.Run(gctx)) })
	if cfg.Feed.URL != "" {
		client := feed.NewClient(cfg.Feed.URL, engine, sugar.Named("feed"))
		client.MinBackoff = cfg.Feed.MinBackoff
		client.MaxBackoff = cfg.Feed.MaxBackoff
		g.Go(func() error { return ignoreCancel(client.Run(gctx)) })
	} else if cfg.Feed.Simulate {
		sim := feed.NewSimulator(catalog, engine, feed.SimulatorConfig{
			Interval:      cfg.Feed.SimInterval,
			VolatilityBps: cfg.Feed.SimVolatility,
		}, util.RealClock{}, sugar.Named("simulator"))
		g.Go(func() error { return ignoreCancel(sim.Run(gctx)) })
	} else {
		sugar.Warnw("price_feed_disabled", "reason", "FEED_URL empty")
	}

	if err := g.Wait(); err != nil {
		sugar.Errorw("node_stopped", "err", err)
		return
	}
	sugar.Infow("node_stopped")
}

func newLogger(c params.Log) (*zap.Logger, error) {
	if c.File == "" {
		return util.NewLogger()
	}
	return util.NewLoggerWithFile(util.LogFile{
		Path:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	})
}

func loadSigner(hexKey string, log *zap.SugaredLogger) (*crypto.Signer, error) {
	if hexKey != "" {
		return crypto.FromPrivateKeyHex(hexKey)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	log.Warnw("participant_key_generated", "address", s.Address().Hex())
	return s, nil
}

func ignoreCancel(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}
