package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docuchat/internal/ai"
	"docuchat/internal/app"
	"docuchat/internal/apperr"
	"docuchat/internal/cache"
	"docuchat/internal/chunker"
	"docuchat/internal/config"
	"docuchat/internal/embedding"
	"docuchat/internal/embedding/onnx"
	"docuchat/internal/ingest"
	"docuchat/internal/logger"
	"docuchat/internal/metrics"
	"docuchat/internal/model"
	"docuchat/internal/platform/database"
	rabbitmqClient "docuchat/internal/platform/rabbitmq"
	redisClient "docuchat/internal/platform/redis"
	"docuchat/internal/rag"
	"docuchat/internal/repository"
	"docuchat/internal/storage"
	"docuchat/internal/task"
	"docuchat/internal/telemetry"
	"docuchat/internal/vectorstore"
	"docuchat/internal/worker"
)

// HealthCheck is one dependency reported by /healthz. Optional checks never
// fail the overall status.
type HealthCheck struct {
	Name     string
	Optional bool
	Check    func(ctx context.Context) error
}

type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	MQConn   *amqp.Connection
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Blobs    storage.Storage
	Store    vectorstore.Store
	Embedder *embedding.Generator
	Gemini   *ai.GeminiClient
	Tracker  *task.Memory
	Sweeper  *task.Sweeper
	Pipeline *ingest.Pipeline

	inProcess *ingest.InProcess
	Publisher *rabbitmqClient.JobPublisher
	Worker    *worker.IngestWorker

	Uploads     *app.UploadService
	Documents   *app.DocumentService
	Chat        *app.ChatService
	History     *app.HistoryService
	Feedback    *app.FeedbackService
	Search      *app.SearchService
	Collections *app.CollectionService

	StartedAt         time.Time
	telemetryShutdown telemetry.ShutdownFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger.Init(cfg.App.LogLevel)

	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("release partially built app failed", "error", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry failed: %w", err)
	}
	a.telemetryShutdown = shutdown

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.Metrics, err = metrics.New(a.Registry); err != nil {
		return fmt.Errorf("register metrics failed: %w", err)
	}

	if a.DB, err = database.New(ctx, cfg); err != nil {
		return err
	}
	if err := a.DB.AutoMigrate(&model.Document{}, &model.ChatMessage{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	if a.Redis, err = redisClient.New(ctx, cfg.Redis); err != nil {
		return err
	}

	if cfg.MinIO.Enabled {
		if a.Blobs, err = storage.NewMinIO(ctx, cfg.MinIO); err != nil {
			return err
		}
	} else {
		logger.Warn("minio disabled, uploads are kept in memory")
		a.Blobs = storage.NewMemory()
	}

	storeOpts := vectorstore.Options{RequireDurable: cfg.VectorStore.RequireDurable}
	if cfg.VectorStore.Backend == "database" {
		storeOpts.DB = a.DB
	}
	a.Store, err = vectorstore.Open(ctx, storeOpts)
	if err != nil {
		return err
	}
	a.Metrics.SetVectorStoreDegraded(a.Store.Health(ctx).Degraded)
	if _, err := a.Store.CreateCollection(ctx, cfg.VectorStore.DefaultCollection); err != nil {
		return fmt.Errorf("create default collection failed: %w", err)
	}

	if cfg.Gemini.APIKey != "" {
		a.Gemini, err = ai.NewGeminiClient(ctx, ai.GeminiConfig{
			APIKey:         cfg.Gemini.APIKey,
			Model:          cfg.Gemini.Model,
			EmbeddingModel: cfg.Gemini.EmbeddingModel,
			Temperature:    float32(cfg.Gemini.Temperature),
			MaxTokens:      int32(cfg.Gemini.MaxTokens),
		})
		if err != nil {
			return err
		}
	}

	httpClient := ai.NewOpenAICompatibleClient(cfg.LLM.Timeout)
	if a.Embedder, err = a.newEmbedder(httpClient); err != nil {
		return err
	}
	llm := a.newLLM(httpClient)

	a.Tracker = task.NewMemory(
		task.WithRetention(cfg.Tasks.Retention),
		task.WithStaleAfter(cfg.Tasks.StaleAfter),
	)
	if a.Sweeper, err = task.NewSweeper(a.Tracker, cfg.Tasks.SweepInterval); err != nil {
		return fmt.Errorf("create task sweeper failed: %w", err)
	}
	a.Sweeper.Start()

	chunks, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return err
	}
	documentRepo := repository.NewDocumentRepository(a.DB)
	messageRepo := repository.NewChatMessageRepository(a.DB)

	a.Pipeline = ingest.NewPipeline(a.Tracker, a.Blobs, chunks, a.Embedder, a.Store, documentRepo,
		ingest.WithMetrics(a.Metrics),
		ingest.WithBatchSize(cfg.Embedding.BatchSize),
		ingest.WithMaxSize(cfg.MaxUploadBytes()),
	)

	jobs, err := a.newDispatcher(ctx)
	if err != nil {
		return err
	}

	historyCache := cache.NewHistoryCache(a.Redis, time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second)
	orchestrator := rag.NewOrchestrator(a.Embedder, a.Store, llm, cfg.VectorStore.DefaultCollection, cfg.VectorStore.TopK)
	gate := app.NewTaskGate(a.Tracker)

	a.Collections = app.NewCollectionService(a.Store, documentRepo, a.Blobs, cfg.VectorStore.DefaultCollection,
		app.WithEmbeddingStatus(a.Embedder))
	a.Uploads = app.NewUploadService(gate, a.Tracker, a.Blobs, documentRepo, a.Collections, jobs, cfg.MaxUploadBytes())
	a.Documents = app.NewDocumentService(gate, a.Tracker, documentRepo, a.Store, a.Blobs, jobs)
	a.Chat = app.NewChatService(orchestrator, messageRepo, historyCache, a.Metrics)
	a.History = app.NewHistoryService(messageRepo, historyCache)
	a.Feedback = app.NewFeedbackService(messageRepo, historyCache, a.Metrics)
	a.Search = app.NewSearchService(orchestrator)
	return nil
}

func (a *App) newDispatcher(ctx context.Context) (ingest.Dispatcher, error) {
	cfg := a.Config
	if cfg.Ingest.Dispatcher != "rabbitmq" {
		a.inProcess = ingest.NewInProcess(a.Pipeline, cfg.Ingest.JobTimeout)
		return a.inProcess, nil
	}

	conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}
	a.MQConn = conn

	a.Worker = worker.NewIngestWorker(conn, a.Pipeline, cfg.RabbitMQ.IngestQueue, cfg.RabbitMQ.Prefetch, cfg.Ingest.JobTimeout)
	if err := a.Worker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}
	a.Publisher = rabbitmqClient.NewJobPublisher(conn, cfg.RabbitMQ.IngestQueue)
	return a.Publisher, nil
}

func (a *App) newEmbedder(client *ai.OpenAICompatibleClient) (*embedding.Generator, error) {
	primary, err := a.embeddingLoader(a.Config.Embedding.Backend, client)
	if err != nil {
		return nil, err
	}
	opts := []embedding.Option{embedding.WithTimeout(a.Config.Embedding.LoadTimeout)}
	if fb := a.Config.Embedding.Fallback; fb != "" && fb != "none" && fb != a.Config.Embedding.Backend {
		loader, err := a.embeddingLoader(fb, client)
		if err != nil {
			return nil, err
		}
		opts = append(opts, embedding.WithFallback(loader))
	}
	return embedding.NewGenerator(primary, opts...), nil
}

func (a *App) embeddingLoader(name string, client *ai.OpenAICompatibleClient) (embedding.Loader, error) {
	cfg := a.Config
	switch name {
	case "onnx":
		return onnx.Loader(onnx.Config{
			ModelPath:     cfg.Embedding.ModelPath,
			VocabPath:     cfg.Embedding.VocabPath,
			SharedLibPath: cfg.Embedding.ONNXSharedLib,
			MaxSeqLen:     cfg.Embedding.MaxSeqLen,
			Lowercase:     true,
		}), nil
	case "openai":
		return embedding.OpenAILoader(client, ai.EmbeddingConfig{
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.Embedding.RemoteModel,
			Dimensions: cfg.Embedding.RemoteDimensions,
		}), nil
	case "gemini":
		if a.Gemini == nil {
			return nil, fmt.Errorf("%w: embedding backend gemini needs gemini.api_key", apperr.ErrConfiguration)
		}
		return embedding.GeminiLoader(a.Gemini), nil
	case "hashing":
		return embedding.HashingLoader(cfg.Embedding.HashingDimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding backend %q", apperr.ErrConfiguration, name)
	}
}

// newLLM prefers the OpenAI-compatible endpoint and falls back to Gemini
// when a key is configured.
func (a *App) newLLM(client *ai.OpenAICompatibleClient) ai.LLM {
	cfg := a.Config
	providers := []ai.LLM{ai.NewOpenAIChat(client, ai.ChatConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})}
	if a.Gemini != nil {
		providers = append(providers, a.Gemini)
	}

	var next ai.LLM = providers[0]
	if len(providers) > 1 {
		next = ai.NewFallback(providers...)
	}
	attempts := cfg.LLM.MaxAttempts
	if attempts < 0 {
		attempts = 0
	}
	return ai.NewResilient(next, ai.ResilienceConfig{
		MaxAttempts:       uint(attempts),
		AttemptTimeout:    cfg.LLM.Timeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
}

// HealthChecks lists the dependencies /healthz probes.
func (a *App) HealthChecks() []HealthCheck {
	checks := []HealthCheck{
		{Name: "database", Check: func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{Name: "redis", Check: func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}},
		{Name: "storage", Check: a.Blobs.Ping},
	}
	if a.MQConn != nil {
		checks = append(checks, HealthCheck{Name: "rabbitmq", Optional: true, Check: func(context.Context) error {
			if a.MQConn.IsClosed() {
				return fmt.Errorf("connection closed")
			}
			return nil
		}})
	}
	return checks
}

// HealthDetails reports the state of the degradable components.
func (a *App) HealthDetails(ctx context.Context) gin.H {
	store := a.Collections.Health(ctx)
	embed := a.Embedder.Status()
	a.Metrics.SetVectorStoreDegraded(store.Degraded)
	a.Metrics.SetEmbeddingDegraded(embed.State == embedding.StateDegraded)
	return gin.H{
		"vector_store": store,
		"embedding":    embed,
		"dispatcher":   a.Config.Ingest.Dispatcher,
	}
}

// Close stops intake first, then drains running jobs, then releases clients.
func (a *App) Close() error {
	var closeErr error
	keep := func(err error) {
		if err != nil && closeErr == nil {
			closeErr = err
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.inProcess != nil {
		keep(a.inProcess.Close(drainCtx))
	}
	if a.Worker != nil {
		a.Worker.Close()
	}
	if a.Publisher != nil {
		keep(a.Publisher.Close())
	}
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		keep(a.MQConn.Close())
	}
	if a.Redis != nil {
		keep(a.Redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			keep(sqlDB.Close())
		}
	}
	if a.Embedder != nil {
		a.Embedder.Close()
	}
	if a.Gemini != nil {
		keep(a.Gemini.Close())
	}
	if a.telemetryShutdown != nil {
		keep(a.telemetryShutdown(drainCtx))
	}
	return closeErr
}
