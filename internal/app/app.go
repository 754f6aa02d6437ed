// Package app wires the collaborators selected by Config into the API and
// worker processes.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.opentelemetry.io/otel"

	"github.com/markdave123-py/ragready/internal/config"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/core/construction"
	db "github.com/markdave123-py/ragready/internal/core/database"
	"github.com/markdave123-py/ragready/internal/core/dedup"
	"github.com/markdave123-py/ragready/internal/core/ingestion_engine"
	"github.com/markdave123-py/ragready/internal/core/llm"
	"github.com/markdave123-py/ragready/internal/core/memstore"
	objectclient "github.com/markdave123-py/ragready/internal/core/object-client"
	"github.com/markdave123-py/ragready/internal/core/quality"
	"github.com/markdave123-py/ragready/internal/core/retrieval"
	"github.com/markdave123-py/ragready/internal/core/vectorstore"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/observability"
	"github.com/markdave123-py/ragready/internal/pipeline"
	"github.com/markdave123-py/ragready/internal/retry"
)

// Components are the collaborators shared by both binaries.
type Components struct {
	Cfg       *config.Config
	Log       *logger.Logger
	AWS       aws.Config
	Store     core.MetadataStore
	Objects   core.ObjectClient
	Vectors   core.VectorStore
	Dedup     core.DedupIndex
	Extractor core.DocumentExtractor
	Embedder  core.EmbeddingProvider
	Chat      core.LLMProvider
	Glossary  *construction.Glossary
	Retriever *retrieval.Retriever

	closers []func() error
}

func (c *Components) onClose(fn func() error) { c.closers = append(c.closers, fn) }

// Close releases everything in reverse order of construction.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Log.Warn("close failed", "error", err)
		}
	}
	c.closers = nil
}

// Build creates the stores and providers selected by cfg.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Components, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	c := &Components{
		Cfg:       cfg,
		Log:       log,
		Glossary:  construction.Default(),
		Extractor: ingestion_engine.DefaultExtractor(log),
	}

	awsCfg, err := objectclient.LoadAWSConfig(appCtx, cfg.AwsRegion, cfg.AwsAccessKey, cfg.AwsSecretKey)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	c.AWS = awsCfg

	if err := c.buildStores(appCtx); err != nil {
		c.Close()
		return nil, err
	}

	providers, err := llm.NewProviders(appCtx, cfg, awsCfg)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("couldn't initialize the model providers: %w", err)
	}
	c.onClose(providers.Close)
	c.Embedder, c.Chat = providers.Embedder, providers.Chat
	log.Info("model providers ready", "provider", cfg.LLMProvider, "embed_model", cfg.EmbedModel, "chat_model", cfg.ChatModel)

	c.Retriever = retrieval.NewRetriever(c.Embedder, c.Vectors, cfg.EmbedDim,
		retrieval.Timeouts{Embed: cfg.Timeout.Embed, Search: cfg.Timeout.Search}, log)
	return c, nil
}

func (c *Components) buildStores(ctx context.Context) error {
	cfg, log := c.Cfg, c.Log
	if cfg.StoreMode == "memory" {
		store := memstore.NewMetadataStore()
		c.Store = store
		c.Objects = memstore.NewObjectClient()
		c.Vectors = memstore.NewVectorStore(cfg.EmbedDim)
		c.Dedup = memstore.NewDedupIndex()
		log.Warn("running with in-memory stores; nothing survives a restart")
		return c.buildDedup(ctx)
	}

	var source vectorstore.CredentialSource = vectorstore.StaticDSN(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		source = vectorstore.NewSecretsManagerSource(secretsmanager.NewFromConfig(c.AWS), cfg.DBSecretARN)
	}
	dsn, err := source.DSN(ctx)
	if err != nil {
		return fmt.Errorf("resolve database credentials: %w", err)
	}
	if cfg.SslCertPath != "" {
		if dsn, err = db.WithSSLRoot(dsn, cfg.SslCertPath); err != nil {
			return err
		}
	}

	dbClient, err := db.NewDatabaseClient(ctx, dsn, log)
	if err != nil {
		return err
	}
	c.onClose(dbClient.Close)
	c.Store = dbClient
	log.Info("Database initialized and ready.")

	handle := vectorstore.NewHandle(vectorstore.StaticDSN(dsn), cfg.DBMaxConns, log)
	c.onClose(func() error { handle.Close(); return nil })
	vectors := vectorstore.New(handle, cfg.EmbedDim)
	if err := vectors.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("vector schema: %w", err)
	}
	c.Vectors = vectors

	c.Objects = objectclient.NewS3Client(c.AWS, log)
	log.Info("Object client initialized and ready.")
	return c.buildDedup(ctx)
}

func (c *Components) buildDedup(ctx context.Context) error {
	switch c.Cfg.DedupBackend {
	case "redis":
		idx, err := dedup.NewRedisIndex(ctx, c.Cfg.RedisAddr, c.Log)
		if err != nil {
			return err
		}
		c.onClose(idx.Close)
		c.Dedup = idx
	case "store":
		if c.Dedup == nil {
			c.Dedup = dedup.NewStoreIndex(c.Store)
		}
	default:
		return fmt.Errorf("DEDUP_BACKEND %q is not supported", c.Cfg.DedupBackend)
	}
	return nil
}

// Pipeline is the ingestion side: the stage runtime, the executor behind
// it and the dispatcher in front of it.
type Pipeline struct {
	Runtime    *pipeline.Runtime
	Fail       *pipeline.FailHandler
	Executor   *pipeline.Executor
	Timeouts   pipeline.Timeouts
	Retry      retry.Policy
	Dispatcher *pipeline.Dispatcher
}

// NewPipeline builds the stage runtime. The dispatcher is attached later
// with AttachRunner, once the runner is known.
func NewPipeline(c *Components) (*Pipeline, error) {
	cfg := c.Cfg
	metrics, err := observability.NewIngestMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("ingest metrics: %w", err)
	}
	policy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}
	ingestRetry := policy
	ingestRetry.MaxAttempts = cfg.Ingest.MaxAttempts

	chunkCfg := ingestion_engine.DefaultChunkConfig()
	chunkCfg.MinChars = cfg.Ingest.ChunkMinChars
	chunkCfg.MaxChars = cfg.Ingest.ChunkMaxChars
	chunkCfg.OverlapChars = cfg.Ingest.ChunkOverlapChars

	ingestor := ingestion_engine.NewVectorIngestor(c.Embedder, c.Vectors, ingestion_engine.IngestConfig{
		BatchSize:   cfg.Ingest.BatchSize,
		Concurrency: cfg.Ingest.Concurrency,
		EmbedDim:    cfg.EmbedDim,
		Retry:       ingestRetry,
	}, metrics, c.Log)

	extractor := c.Extractor
	if extractor == nil {
		extractor = ingestion_engine.DefaultExtractor(c.Log)
	}
	weights := quality.Weights{Critical: cfg.Quality.Critical, Warn: cfg.Quality.Warn, Info: cfg.Quality.Info}

	rt := pipeline.NewRuntime(pipeline.Deps{
		Store:           c.Store,
		Objects:         c.Objects,
		Extractor:       extractor,
		Quality:         quality.NewEngine(weights, quality.DefaultThresholds(), c.Glossary),
		Ingestor:        ingestor,
		Vectors:         c.Vectors,
		Dedup:           c.Dedup,
		Glossary:        c.Glossary,
		Log:             c.Log,
		ProcessedBucket: cfg.ProcessedBucket,
		EmbeddingModel:  c.Embedder.ModelID(),
		Chunk:           chunkCfg,
	})
	fail := pipeline.NewFailHandler(c.Store, c.Log)
	t := pipeline.Timeouts{
		Execution:    cfg.Timeout.Execution,
		Extract:      cfg.Timeout.Extract,
		Stage:        cfg.Timeout.Stage,
		VectorIngest: cfg.Timeout.VectorIngest,
	}
	return &Pipeline{
		Runtime:  rt,
		Fail:     fail,
		Executor: pipeline.NewExecutor(rt, fail, t, policy, c.Log),
		Timeouts: t,
		Retry:    policy,
	}, nil
}

func (p *Pipeline) AttachRunner(c *Components, r pipeline.Runner) {
	p.Dispatcher = pipeline.NewDispatcher(c.Store, c.Objects, c.Dedup, r, p.Fail, c.Log)
}
