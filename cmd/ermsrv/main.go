// Command ermsrv runs the NAPSA enterprise risk management and AML
// monitoring platform: the REST API, the stream engine, the report
// scheduler and the audit ledger, in one process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/aml/cases"
	"github.com/napsa-zm/erm-platform/internal/aml/screening"
	"github.com/napsa-zm/erm-platform/internal/aml/stream"
	"github.com/napsa-zm/erm-platform/internal/analytics/fedlearn"
	"github.com/napsa-zm/erm-platform/internal/analytics/netgraph"
	"github.com/napsa-zm/erm-platform/internal/analytics/sentiment"
	"github.com/napsa-zm/erm-platform/internal/audit"
	"github.com/napsa-zm/erm-platform/internal/auth"
	"github.com/napsa-zm/erm-platform/internal/config"
	"github.com/napsa-zm/erm-platform/internal/database"
	"github.com/napsa-zm/erm-platform/internal/erm"
	"github.com/napsa-zm/erm-platform/internal/erm/incident"
	"github.com/napsa-zm/erm-platform/internal/erm/kri"
	"github.com/napsa-zm/erm-platform/internal/erm/rcsa"
	"github.com/napsa-zm/erm-platform/internal/integrations"
	"github.com/napsa-zm/erm-platform/internal/org"
	"github.com/napsa-zm/erm-platform/internal/reports"
	"github.com/napsa-zm/erm-platform/internal/server"
	"github.com/napsa-zm/erm-platform/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := initTracing(cfg.Environment)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	// Storage.
	db, err := database.NewPostgres(cfg.Database, log)
	if err != nil {
		return err
	}
	models := collect(
		erm.Models(), kri.Models(), rcsa.Models(), incident.Models(),
		org.Models(), aml.Models(), reports.Models(), integrations.Models(),
	)
	if err := database.AutoMigrate(db, models...); err != nil {
		return err
	}

	ledgerDB, err := database.NewLedgerDB(cfg.Database.LedgerPath, log)
	if err != nil {
		return err
	}
	var encryptor *audit.Encryptor
	if cfg.Audit.EncryptionKey != "" {
		if encryptor, err = audit.NewEncryptor(cfg.Audit.EncryptionKey); err != nil {
			return err
		}
	}
	ledger, err := audit.NewLedger(ledgerDB, cfg.Audit, encryptor, log)
	if err != nil {
		return err
	}

	redisClient, err := database.NewRedis(cfg.Redis, log)
	if err != nil {
		log.Warn("redis unavailable, screening cache and rate limits degrade", zap.Error(err))
		redisClient = nil
	}

	// Stream pipeline.
	store := aml.NewStore(db, log)
	hub := stream.NewHub(log)
	go hub.Run()

	var publisher stream.Publisher
	var kafkaPub *stream.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPub = stream.NewKafkaPublisher(cfg.Kafka, log)
		publisher = kafkaPub
	}
	engine := stream.NewEngine(cfg.Stream, store, publisher, hub, log)
	engine.Start(ctx)

	screener := screening.NewScreener(cfg.Screening, store, store, redisClient, log)

	// Domain services.
	riskSvc := erm.NewService(db, log)
	kriSvc := kri.NewService(db, engine, log)
	rcsaSvc := rcsa.NewService(db, log)
	incidentSvc := incident.NewService(db, log)
	orgSvc := org.NewService(db, log)
	caseSvc := cases.NewService(db, log)

	// Reporting.
	generator := reports.NewGenerator(riskSvc, kriSvc, store, log)
	scheduler := reports.NewScheduler(db, generator,
		cfg.Reports.OutputDir, cfg.Reports.PollInterval, log)
	scheduler.AddMaintenanceHook(func(ctx context.Context) error {
		n, err := rcsaSvc.MarkOverdue(ctx)
		if n > 0 {
			log.Info("assessments marked overdue", zap.Int64("count", n))
		}
		return err
	})
	scheduler.Start(ctx)

	// Analytics.
	coordinator := fedlearn.NewCoordinator(log, time.Now().UnixNano())
	graph := netgraph.NewAnalyzer()

	// External connectors.
	directory := integrations.NewADConnector(cfg.Integrations.AD, log)
	oracle := integrations.NewOracleConnector(cfg.Integrations.Oracle, log)
	registry := integrations.NewRegistry(db, log)
	registry.Register(integrations.NewHTTPConnector(integrations.NameGoAML, cfg.Integrations.GoAML, log))
	registry.Register(integrations.NewHTTPConnector(integrations.NamePACRA, cfg.Integrations.PACRA, log))
	registry.Register(integrations.NewHTTPConnector(integrations.NameZRA, cfg.Integrations.ZRA, log))
	registry.Register(integrations.NewHTTPConnector(integrations.NameCCPC, cfg.Integrations.CCPC, log))
	registry.Register(directory)
	registry.Register(oracle)

	srv, err := server.New(server.Deps{
		Config:       cfg,
		Logger:       log,
		Redis:        redisClient,
		Auth:         auth.NewManager(cfg.JWT),
		Directory:    directory,
		Risks:        riskSvc,
		KRIs:         kriSvc,
		RCSA:         rcsaSvc,
		Incidents:    incidentSvc,
		Org:          orgSvc,
		AML:          store,
		Cases:        caseSvc,
		Screener:     screener,
		Engine:       engine,
		Hub:          hub,
		Ledger:       ledger,
		Generator:    generator,
		Scheduler:    scheduler,
		Sentiment:    sentiment.NewAnalyzer(),
		Graph:        graph,
		FedLearn:     coordinator,
		Integrations: registry,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()
	log.Info("listening",
		zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
	}

	// Drain order: stop accepting requests, then the background workers,
	// then flush the ledger.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	scheduler.Stop()
	engine.Stop()
	ledger.Close()
	hub.Close()
	if kafkaPub != nil {
		_ = kafkaPub.Close()
	}
	_ = oracle.Close()
	cancel()
	return nil
}

// initTracing installs a stdout span exporter, sampled down in
// production.
func initTracing(environment string) (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	opts := []sdktrace.TracerProviderOption{sdktrace.WithBatcher(exporter)}
	if environment == "production" {
		opts = append(opts, sdktrace.WithSampler(
			sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.05))))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

func collect(groups ...[]any) []any {
	var out []any
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
