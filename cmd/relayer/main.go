// Package main runs the relayer daemon: the chain indexer, the oracle
// submitter, the settlement coordinator, the Oddyssey cycle driver and the
// sports-results fetcher, all on one scheduler.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/ethereum/go-ethereum/common"

	"github.com/bitredict/relayer/internal/adapters/outbound/chainrpc"
	"github.com/bitredict/relayer/internal/adapters/outbound/postgres"
	redisadapter "github.com/bitredict/relayer/internal/adapters/outbound/redis"
	s3adapter "github.com/bitredict/relayer/internal/adapters/outbound/s3"
	snsadapter "github.com/bitredict/relayer/internal/adapters/outbound/sns"
	"github.com/bitredict/relayer/internal/adapters/outbound/sportsapi"
	"github.com/bitredict/relayer/internal/pkg/contracts"
	"github.com/bitredict/relayer/internal/pkg/env"
	"github.com/bitredict/relayer/internal/pkg/txsign"
	"github.com/bitredict/relayer/internal/ports/outbound"
	"github.com/bitredict/relayer/internal/services/indexer"
	"github.com/bitredict/relayer/internal/services/oddyssey"
	"github.com/bitredict/relayer/internal/services/poolmirror"
	"github.com/bitredict/relayer/internal/services/results"
	"github.com/bitredict/relayer/internal/services/scheduler"
	"github.com/bitredict/relayer/internal/services/settlement"
	"github.com/bitredict/relayer/internal/services/shared"
	"github.com/bitredict/relayer/internal/services/slipeval"
	"github.com/bitredict/relayer/internal/services/submitter"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil && ctx.Err() == nil {
		logger.Error("relayer exited", "error", err)
		os.Exit(1)
	}
	logger.Info("relayer stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	databaseURL, err := env.Require("DATABASE_URL")
	if err != nil {
		return err
	}
	rpcURLs, err := env.Require("RPC_URLS")
	if err != nil {
		return err
	}
	botKey, err := env.Require("ORACLE_BOT_KEY")
	if err != nil {
		return err
	}
	poolCoreAddr, err := env.Require("POOL_CORE_ADDRESS")
	if err != nil {
		return err
	}
	guidedOracleAddr, err := env.Require("GUIDED_ORACLE_ADDRESS")
	if err != nil {
		return err
	}
	oddysseyAddr, err := env.Require("ODDYSSEY_ADDRESS")
	if err != nil {
		return err
	}
	sportsToken, err := env.Require("SPORTS_API_TOKEN")
	if err != nil {
		return err
	}

	// Storage.
	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(databaseURL))
	if err != nil {
		return err
	}
	defer pool.Close()

	pools, err := postgres.NewPoolRepository(pool, logger)
	if err != nil {
		return err
	}
	bets, err := postgres.NewBetRepository(pool, logger)
	if err != nil {
		return err
	}
	fixtures, err := postgres.NewFixtureRepository(pool, logger)
	if err != nil {
		return err
	}
	markets, err := postgres.NewMarketRepository(pool, logger)
	if err != nil {
		return err
	}
	submissions, err := postgres.NewSubmissionRepository(pool, logger)
	if err != nil {
		return err
	}
	cursors, err := postgres.NewCursorRepository(pool, logger)
	if err != nil {
		return err
	}
	events, err := postgres.NewEventRepository(pool, logger)
	if err != nil {
		return err
	}
	anomalies, err := postgres.NewAnomalyRepository(pool, logger)
	if err != nil {
		return err
	}
	cycles, err := postgres.NewCycleRepository(pool, logger)
	if err != nil {
		return err
	}
	slips, err := postgres.NewSlipRepository(pool, logger)
	if err != nil {
		return err
	}
	txManager, err := postgres.NewTxManager(pool, logger)
	if err != nil {
		return err
	}

	// Chain access.
	gateway, err := chainrpc.NewGateway(chainrpc.GatewayConfig{
		URLs:   strings.Split(rpcURLs, ","),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	registry, err := contracts.NewRegistry(contracts.Addresses{
		PoolCore:     common.HexToAddress(poolCoreAddr),
		GuidedOracle: common.HexToAddress(guidedOracleAddr),
		Oddyssey:     common.HexToAddress(oddysseyAddr),
	})
	if err != nil {
		return err
	}
	reader, err := contracts.NewReader(gateway, registry)
	if err != nil {
		return err
	}
	wallet, err := txsign.NewWallet(botKey)
	if err != nil {
		return err
	}
	sender, err := txsign.NewSender(ctx, gateway, wallet, txsign.SenderConfig{Logger: logger})
	if err != nil {
		return err
	}

	telemetry, err := shared.NewAppTelemetry()
	if err != nil {
		return err
	}

	sports, err := sportsapi.NewClient(sportsapi.ClientConfig{
		APIToken: sportsToken,
		BaseURL:  env.Get("SPORTS_API_URL", ""),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// Optional infrastructure: heartbeat/result cache, operator alerts,
	// raw-log archive. Each stays nil when unconfigured.
	var cache outbound.ResultCache
	if addr := env.Get("REDIS_ADDR", ""); addr != "" {
		c, err := redisadapter.NewResultCache(redisadapter.Config{
			Addr:     addr,
			Password: env.Get("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
		}, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		cache = c
	}

	var alerts outbound.AlertSink
	var archiver outbound.LogArchiver
	alertTopic := env.Get("SNS_ALERT_TOPIC_ARN", "")
	archiveBucket := env.Get("S3_ARCHIVE_BUCKET", "")
	if alertTopic != "" || archiveBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return err
		}
		if alertTopic != "" {
			sink, err := snsadapter.NewAlertSink(awssns.NewFromConfig(awsCfg), snsadapter.Config{
				TopicARN: alertTopic,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer sink.Close()
			alerts = sink
		}
		if archiveBucket != "" {
			arch, err := s3adapter.NewArchiver(awsCfg, archiveBucket, env.Get("S3_ARCHIVE_PREFIX", "chain-logs"), logger)
			if err != nil {
				return err
			}
			archiver = arch
		}
	}

	// Services.
	mirror, err := poolmirror.NewMirror(poolmirror.MirrorConfig{Logger: logger}, poolmirror.Deps{
		Reader:    reader,
		Registry:  registry,
		TxManager: txManager,
		Pools:     pools,
		Bets:      bets,
		Markets:   markets,
		Anomalies: anomalies,
		Metrics:   telemetry,
	})
	if err != nil {
		return err
	}

	coordinator, err := settlement.NewCoordinator(settlement.CoordinatorConfig{
		Concurrency: env.GetInt("SETTLEMENT_CONCURRENCY", 0),
		Logger:      logger,
	}, settlement.Deps{
		Reader:    reader,
		Registry:  registry,
		Sender:    sender,
		TxManager: txManager,
		Pools:     pools,
		Lock:      postgres.AcquireSettlementLock,
		Alerts:    alerts,
		Metrics:   telemetry,
	})
	if err != nil {
		return err
	}

	cycleHandler, err := oddyssey.NewHandler(oddyssey.HandlerConfig{Logger: logger}, oddyssey.HandlerDeps{
		Reader:   reader,
		Registry: registry,
		Cycles:   cycles,
		Slips:    slips,
	})
	if err != nil {
		return err
	}

	indexerSvc, err := indexer.NewService(indexer.ServiceConfig{
		ConfirmationDepth: uint64(env.GetInt("CONFIRMATION_DEPTH", 0)),
		StartBlock:        uint64(env.GetInt("START_BLOCK", 0)),
		LagWarningBlocks:  uint64(env.GetInt("LAG_WARNING_BLOCKS", 0)),
		Logger:            logger,
	}, indexer.Deps{
		Chain:     gateway,
		Registry:  registry,
		TxManager: txManager,
		Cursors:   cursors,
		Events:    events,
		Archiver:  archiver,
		Metrics:   telemetry,
	}, []indexer.LogHandler{mirror, coordinator, cycleHandler})
	if err != nil {
		return err
	}

	oracleBot, err := submitter.NewService(submitter.ServiceConfig{Logger: logger}, submitter.Deps{
		Reader:      reader,
		Registry:    registry,
		Sender:      sender,
		Markets:     markets,
		Submissions: submissions,
		Alerts:      alerts,
		Metrics:     telemetry,
	})
	if err != nil {
		return err
	}

	fetcher, err := results.NewFetcher(results.FetcherConfig{Logger: logger}, results.Deps{
		Provider: sports,
		Fixtures: fixtures,
		Markets:  markets,
		Cache:    cache,
	})
	if err != nil {
		return err
	}

	driver, err := oddyssey.NewDriver(oddyssey.DriverConfig{Logger: logger}, oddyssey.Deps{
		Reader:   reader,
		Registry: registry,
		Sender:   sender,
		Fixtures: fixtures,
		Cycles:   cycles,
		Metrics:  telemetry,
	})
	if err != nil {
		return err
	}

	evaluator, err := slipeval.NewEvaluator(slipeval.EvaluatorConfig{Logger: logger}, slipeval.Deps{
		Cycles:   cycles,
		Fixtures: fixtures,
		Slips:    slips,
		Metrics:  telemetry,
	})
	if err != nil {
		return err
	}

	// The bot key must control the oracle before anything is signed.
	if err := oracleBot.VerifyBotKey(ctx); err != nil {
		return err
	}
	logger.Info("oracle bot key verified", "address", wallet.Address())

	// Catch up pools created while the daemon was down; the indexer fills
	// in the event trail behind it.
	if err := mirror.Backfill(ctx); err != nil {
		logger.Error("pool backfill failed", "error", err)
	}

	var sched *scheduler.Service
	tasks := []*scheduler.Task{
		{
			Name:     "fetch-fixtures",
			Schedule: scheduler.DailyAt{Hour: 6},
			Timeout:  10 * time.Minute,
			Retries:  2,
			Run:      fetcher.FetchFixtures,
		},
		{
			Name:     "select-oddyssey-matches",
			Schedule: scheduler.DailyAt{Minute: 5},
			Timeout:  2 * time.Minute,
			Retries:  2,
			Run: func(ctx context.Context) error {
				return driver.SelectMatches(ctx, time.Now())
			},
		},
		{
			Name:     "start-oddyssey-cycle",
			Schedule: scheduler.DailyAt{Minute: 10},
			Timeout:  2 * time.Minute,
			Retries:  2,
			Run: func(ctx context.Context) error {
				return driver.StartCycle(ctx, time.Now())
			},
		},
		{
			Name: "fetch-results",
			Schedule: scheduler.WindowedEvery{
				ActiveInterval: 5 * time.Minute,
				IdleInterval:   30 * time.Minute,
				FromHour:       12,
				ToHour:         24,
			},
			Timeout: 5 * time.Minute,
			Run:     fetcher.FetchResults,
		},
		{
			Name:      "submit-oracle-outcomes",
			Schedule:  scheduler.Every{Interval: 5 * time.Minute},
			Timeout:   4 * time.Minute,
			Sheddable: true,
			Run:       oracleBot.SubmitPending,
		},
		{
			Name:      "settle-pools",
			Schedule:  scheduler.Every{Interval: 5 * time.Minute},
			Timeout:   4 * time.Minute,
			Sheddable: true,
			Run:       coordinator.Sweep,
		},
		{
			Name:      "resolve-oddyssey-cycle",
			Schedule:  scheduler.Every{Interval: 15 * time.Minute},
			Timeout:   5 * time.Minute,
			Sheddable: true,
			Run: func(ctx context.Context) error {
				return driver.ResolveDue(ctx, time.Now())
			},
		},
		{
			Name:     "evaluate-slips",
			Schedule: scheduler.Every{Interval: 10 * time.Minute},
			Timeout:  5 * time.Minute,
			Run:      evaluator.EvaluateDue,
		},
		{
			Name:     "health-probe",
			Schedule: scheduler.Every{Interval: time.Minute},
			Timeout:  30 * time.Second,
			Run: func(ctx context.Context) error {
				if !indexerSvc.IsHealthy() {
					logger.Warn("indexer unhealthy", "lag_blocks", indexerSvc.Lag())
				}
				return sched.CheckHeartbeats(ctx)
			},
		},
	}

	sched, err = scheduler.NewService(scheduler.ServiceConfig{Logger: logger}, scheduler.Deps{
		Cache:     cache,
		Anomalies: anomalies,
		Metrics:   telemetry,
		Lag:       indexerSvc.Lag,
	}, tasks)
	if err != nil {
		return err
	}

	errs := make(chan error, 3)
	go func() { errs <- indexerSvc.Run(ctx) }()
	go func() { errs <- coordinator.Run(ctx) }()
	go func() { errs <- sched.Run(ctx) }()

	logger.Info("relayer started",
		"pool_core", poolCoreAddr,
		"guided_oracle", guidedOracleAddr,
		"oddyssey", oddysseyAddr,
	)

	err = <-errs
	stopErr := err
	// One loop exiting takes the whole process down; the shared context
	// unwinds the other two.
	if ctx.Err() != nil {
		stopErr = nil
	}
	return stopErr
}
