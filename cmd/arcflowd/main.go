package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ArcFlow/internal/api"
	"ArcFlow/internal/audit"
	"ArcFlow/internal/auth"
	"ArcFlow/internal/catalog"
	"ArcFlow/internal/classifier"
	"ArcFlow/internal/classifier/openai"
	"ArcFlow/internal/classifier/vision"
	"ArcFlow/internal/config"
	"ArcFlow/internal/merchant"
	"ArcFlow/internal/negotiation"
	"ArcFlow/internal/observability/alerting"
	"ArcFlow/internal/observability/metrics"
	"ArcFlow/internal/orchestrator"
	"ArcFlow/internal/selector"
	"ArcFlow/internal/settlement"
	"ArcFlow/internal/settlement/provider"
	"ArcFlow/internal/storage/mysql"
	"ArcFlow/pkg/logger"
)

// main 是 ArcFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("arcflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = filepath.Join("configs", "arcflow.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 商品目录。
	source, sourceCloser, err := createCatalogSource(ctx, cfg)
	if err != nil {
		return err
	}
	if sourceCloser != nil {
		defer sourceCloser()
	}

	// 供应商注册表。
	registry, err := createRegistry(cfg)
	if err != nil {
		return err
	}

	// 议价模拟器。
	var negotiator *negotiation.Simulator
	if cfg.Negotiation.Enabled {
		negotiator = negotiation.New(
			negotiation.WithProbability(cfg.Negotiation.Probability),
			negotiation.WithDiscounts(cfg.Negotiation.Discounts),
		)
	}

	sel := selector.New(source, registry, negotiator, selector.Config{
		MinTrustScore: cfg.Procurement.MinTrustScore,
		MaxCategories: cfg.Procurement.MaxCategories,
	})

	// 审计链路：队列、归档与消费者。
	queue, err := createAuditQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("关闭审计队列失败: %v", err)
		}
	}()

	history, historyCloser, err := createHistoryRepository(ctx, cfg, dataDir)
	if err != nil {
		return err
	}
	if historyCloser != nil {
		defer historyCloser()
	}

	recorder := audit.NewRecorder(queue, mysql.NewHistoryArchive(history),
		audit.WithRecorderWorkers(cfg.Audit.Workers),
		audit.WithAlertDispatcher(alerting.NewFanout()),
	)
	recorderCtx, recorderCancel := context.WithCancel(ctx)
	defer recorderCancel()
	go func() {
		if err := recorder.Start(recorderCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("审计消费者异常退出: %v", err)
		}
	}()

	// 意图分类与文档解析。
	orchOpts := []orchestrator.Option{
		orchestrator.WithAuditProducer(queue),
		orchestrator.WithTimeout(cfg.Classifier.OrchestrationTimeout()),
		orchestrator.WithClassifyTimeout(cfg.Classifier.ClassifyTimeout()),
	}
	classifierClient, err := createClassifier(cfg)
	if err != nil {
		return err
	}
	if visionClient, err := createVision(cfg); err != nil {
		return err
	} else if visionClient != nil {
		orchOpts = append(orchOpts, orchestrator.WithVisionClient(visionClient))
	}

	orch := orchestrator.New(classifierClient, sel, orchOpts...)

	// 结算链路：后端、策略与调度器。
	backend, err := provider.NewBackend(ctx, provider.Config{
		PrivateKey:      cfg.Settlement.PrivateKey,
		PrivateKeyEnv:   cfg.Settlement.PrivateKeyEnv,
		ChainConfigPath: cfg.Settlement.ChainConfigPath,
		Chain:           cfg.Settlement.Chain,
		GasLimit:        cfg.Settlement.GasLimit,
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	whitelist := cfg.Settlement.Whitelist
	if len(whitelist) == 0 {
		whitelist = settlement.DefaultWhitelist()
	}
	policy := settlement.NewPolicy(whitelist, cfg.Settlement.BudgetCap)
	dispatcher := settlement.NewDispatcher(policy, backend)

	// 指标服务。
	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, orch, dispatcher,
		api.WithHistory(history),
		api.WithAuth(auth.NewService(cfg.Auth.ResolveAPIKey())),
		api.WithAuditProducer(queue),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createCatalogSource(ctx context.Context, cfg *config.Config) (catalog.Source, func() error, error) {
	switch cfg.Catalog.Driver {
	case "", "static":
		return catalog.NewStaticSource(catalog.DefaultInventory()), nil, nil
	case "file":
		source, err := catalog.LoadStaticSource(cfg.Catalog.Path)
		if err != nil {
			return nil, nil, err
		}
		return source, nil, nil
	case "mysql":
		source, err := mysql.NewCatalogSource(ctx, mysql.Config{DSN: cfg.Catalog.DSN})
		if err != nil {
			return nil, nil, err
		}
		return source, source.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知的目录驱动: %s", cfg.Catalog.Driver)
	}
}

func createRegistry(cfg *config.Config) (*merchant.Registry, error) {
	if cfg.Merchants.Path == "" {
		return merchant.NewRegistry(merchant.DefaultRecords()), nil
	}
	return merchant.LoadRegistry(cfg.Merchants.Path)
}

func createAuditQueue(cfg *config.Config) (audit.Queue, error) {
	switch cfg.Audit.QueueDriver {
	case "", "memory":
		return audit.NewMemoryQueue(1024), nil
	case "redis":
		return audit.NewRedisQueue(audit.RedisQueueConfig{
			Address:   cfg.Audit.Redis.Address,
			Password:  cfg.Audit.Redis.Password,
			DB:        cfg.Audit.Redis.DB,
			Queue:     cfg.Audit.Redis.Queue,
			BlockWait: time.Duration(cfg.Audit.Redis.BlockWaitMS) * time.Millisecond,
		})
	case "rabbitmq":
		return audit.NewRabbitMQQueue(audit.RabbitMQConfig{
			URL:      cfg.Audit.RabbitMQ.URL,
			Queue:    cfg.Audit.RabbitMQ.Queue,
			Prefetch: cfg.Audit.RabbitMQ.Prefetch,
			Durable:  cfg.Audit.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Audit.QueueDriver)
	}
}

func createHistoryRepository(ctx context.Context, cfg *config.Config, dataDir string) (mysql.HistoryRepository, func() error, error) {
	switch cfg.Audit.HistoryDriver {
	case "", "memory":
		repo, err := mysql.NewMemoryHistoryRepository(dataDir)
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	case "mysql":
		repo, err := mysql.NewSQLHistoryRepository(ctx, mysql.Config{DSN: cfg.Audit.HistoryDSN})
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知的历史存储驱动: %s", cfg.Audit.HistoryDriver)
	}
}

func createClassifier(cfg *config.Config) (classifier.Client, error) {
	apiKey := cfg.Classifier.ResolveAPIKey()
	if apiKey == "" {
		// 没有凭证时分类能力缺席，编排会降级到固定类目。
		logger.L().Warn("未配置分类器凭证，意图分类将降级")
		return nil, nil
	}
	return openai.NewClient(openai.Config{
		APIKey:  apiKey,
		BaseURL: cfg.Classifier.BaseURL,
		Model:   cfg.Classifier.Model,
		Timeout: time.Duration(cfg.Classifier.TimeoutMS) * time.Millisecond,
	})
}

func createVision(cfg *config.Config) (classifier.VisionClient, error) {
	if !cfg.Classifier.Vision.Enabled {
		return nil, nil
	}
	apiKey := cfg.Classifier.Vision.ResolveAPIKey()
	if apiKey == "" {
		logger.L().Warn("未配置文档解析凭证，文档意图解析不可用")
		return nil, nil
	}
	return vision.NewClient(vision.Config{
		APIKey:  apiKey,
		BaseURL: cfg.Classifier.Vision.BaseURL,
		Model:   cfg.Classifier.Vision.Model,
		Timeout: time.Duration(cfg.Classifier.Vision.TimeoutMS) * time.Millisecond,
	})
}
