package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"valuechain/native/feed"
	"valuechain/native/oracle"
	"valuechain/native/valuation"
	"valuechain/observability/logging"
	telemetry "valuechain/observability/otel"
	"valuechain/services/feedd/config"
	"valuechain/services/feedd/poller"
	"valuechain/services/feedd/server"
	feedstorage "valuechain/services/feedd/storage"
	"valuechain/storage"
	"valuechain/storage/kvstate"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/feedd/config.yaml", "path to feedd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VC_ENV"))
	logger := logging.Setup("feedd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "feedd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("feedd: load config: %v", err)
	}

	owner, err := oracle.ParseProviderID(cfg.Owner)
	if err != nil {
		log.Fatalf("feedd: parse owner: %v", err)
	}
	identity, err := oracle.ParseProviderID(cfg.Identity)
	if err != nil {
		log.Fatalf("feedd: parse identity: %v", err)
	}

	var db storage.Database
	if strings.TrimSpace(cfg.StatePath) == "" {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.StatePath)
		if err != nil {
			log.Fatalf("feedd: open state database: %v", err)
		}
		db = ldb
	}
	defer db.Close()
	state := kvstate.New(db)

	dsn, err := feedstorage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("feedd: resolve audit DSN: %v", err)
	}
	audit, err := feedstorage.Open(dsn)
	if err != nil {
		log.Fatalf("feedd: open audit storage: %v", err)
	}
	defer audit.Close()

	registry := oracle.NewRegistry(state, owner)
	engine := oracle.NewEngine(state, owner, registry)
	valEngine := valuation.NewEngine(state, engine.Store(), owner)
	adapter := feed.NewAdapter(owner, identity, engine)
	adapter.SetStaleness(cfg.Poll.FreshWindow.Duration, cfg.Poll.MaxStaleness.Duration)

	sink := poller.NewSink(audit, logger)
	sink.BindAdapter(adapter)
	registry.SetEmitter(sink)
	engine.SetEmitter(sink)
	valEngine.SetEmitter(sink)
	adapter.SetEmitter(sink)

	if err := registry.AddProvider(owner, identity); err != nil {
		log.Fatalf("feedd: register identity provider: %v", err)
	}

	for _, feedCfg := range cfg.Feeds {
		asset, err := oracle.ParseAssetID(feedCfg.Asset)
		if err != nil {
			log.Fatalf("feedd: parse asset %q: %v", feedCfg.Asset, err)
		}
		src := feed.NewChainlinkFeed(nil, feedCfg.Endpoint, feedCfg.Name)
		if err := adapter.SetPriceFeed(owner, asset, src); err != nil {
			log.Fatalf("feedd: configure feed %s: %v", feedCfg.Asset, err)
		}
	}

	mgr, err := poller.New(adapter, valEngine, sink, cfg.Poll.Interval.Duration, logger)
	if err != nil {
		log.Fatalf("feedd: poller: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress:     cfg.ListenAddress,
		BearerToken:       cfg.Admin.BearerToken,
		RequestsPerMinute: cfg.Admin.RequestsPerMinute,
		Burst:             cfg.Admin.Burst,
	}, server.Deps{
		Oracle:    engine,
		Registry:  registry,
		Valuation: valEngine,
		Adapter:   adapter,
		Audit:     audit,
		Owner:     owner,
		Identity:  identity,
	}, logger)
	if err != nil {
		log.Fatalf("feedd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mgr.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller exited", "error", err.Error())
			stop()
		}
	}()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err.Error())
		os.Exit(1)
	}
}
