package bootstrap

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ziwayhub/backend-go/app/controllers"
	"github.com/ziwayhub/backend-go/app/router"
	"github.com/ziwayhub/backend-go/internal/config"
	"github.com/ziwayhub/backend-go/internal/database"
	"github.com/ziwayhub/backend-go/internal/knowledge"
	"github.com/ziwayhub/backend-go/internal/logger"
	"github.com/ziwayhub/backend-go/internal/services"
)

// App 持有已初始化的应用组件
type App struct {
	Config    *config.Config
	Telemetry *services.TelemetryService
}

// Init 按依赖顺序初始化应用：环境 → 日志 → 配置 → 存储 → 服务 → 路由
func Init() (*App, error) {
	// .env不存在时静默忽略，生产环境直接用环境变量
	_ = godotenv.Load()

	if err := logger.InitLogger(); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log := logger.GetLogger()

	if err := config.LoadConfig(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := config.AppConfig

	db, err := database.InitDB()
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// 查询向量缓存是可选的，Redis不可用时直连Embedding API
	if cfg.Redis.Enabled {
		if _, err := database.InitRedis(); err != nil {
			log.Warn("Redis不可用，跳过向量缓存", zap.Error(err))
		}
	}

	// 向量生成器
	var embedder knowledge.Embedder = knowledge.NewOpenAIEmbedder(
		cfg.AI.OpenAIAPIKey, cfg.AI.EmbeddingModel, cfg.AI.MaxEmbedChars)
	if !embedder.Ready() {
		log.Warn("未配置OPENAI_API_KEY，向量检索不可用")
	}
	if database.RedisClient != nil {
		embedder = knowledge.NewCachedEmbedder(
			embedder, database.RedisClient, time.Duration(cfg.Redis.TTL)*time.Second, log)
	}

	// 检索存储：数据库为基座，Milvus/ES按配置叠加
	baseStore := knowledge.NewDatabaseStore(db)
	var store knowledge.Store = baseStore
	var sink knowledge.VectorSink
	var indexer services.UnitIndexer

	if cfg.Milvus.Enabled {
		milvusStore, err := knowledge.NewMilvusStore(knowledge.MilvusOptions{
			Address:    cfg.Milvus.Address,
			Username:   cfg.Milvus.Username,
			Password:   cfg.Milvus.Password,
			Collection: cfg.Milvus.Collection,
			Database:   cfg.Milvus.Database,
			VectorSize: embedder.Dimensions(),
		}, baseStore)
		if err != nil {
			log.Warn("Milvus不可用，向量检索回退到数据库", zap.Error(err))
		} else {
			store = milvusStore
			sink = milvusStore
			log.Info("向量检索使用Milvus", zap.String("address", cfg.Milvus.Address))
		}
	}

	if cfg.Elastic.Enabled {
		elasticStore, err := knowledge.NewElasticKeywordStore(knowledge.ElasticOptions{
			Addresses: cfg.Elastic.Addresses,
			Username:  cfg.Elastic.Username,
			Password:  cfg.Elastic.Password,
			APIKey:    cfg.Elastic.APIKey,
			Index:     cfg.Elastic.Index,
		}, store)
		if err != nil {
			log.Warn("Elasticsearch不可用，关键词检索回退到数据库", zap.Error(err))
		} else {
			store = elasticStore
			indexer = elasticStore
			log.Info("关键词检索使用Elasticsearch", zap.Strings("addresses", cfg.Elastic.Addresses))
		}
	}

	// 查询理解和生成共用一个客户端
	var llm knowledge.ChatCompleter
	if cfg.AI.OpenAIAPIKey != "" {
		llm = openai.NewClient(cfg.AI.OpenAIAPIKey)
	}
	analyzer := knowledge.NewQueryAnalyzer(llm, cfg.AI.AnalyzerModel, log)

	engine := knowledge.NewRetrievalEngine(store, embedder, analyzer, knowledge.FusionConfig{
		VectorThreshold: cfg.Retrieval.VectorThreshold,
		VectorTopK:      cfg.Retrieval.VectorTopK,
		KeywordTopK:     cfg.Retrieval.KeywordTopK,
		KeywordPrior:    cfg.Retrieval.KeywordPrior,
		OverlapBoost:    cfg.Retrieval.OverlapBoost,
		ConfidenceGate:  cfg.Retrieval.ConfidenceGate,
		MaxForwarded:    cfg.Retrieval.MaxForwarded,
		StructuredLimit: cfg.Retrieval.StructuredLimit,
		CallTimeout:     time.Duration(cfg.Retrieval.CallTimeoutSec) * time.Second,
	}, log)

	// 遥测：Kafka可用走消息队列，否则直接落库
	var telemetry *services.TelemetryService
	if cfg.Kafka.Enabled {
		producer, err := services.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Warn("Kafka不可用，查询日志直接落库", zap.Error(err))
			telemetry = services.NewTelemetryService(nil, cfg.Kafka.Topic, db, log)
		} else {
			telemetry = services.NewTelemetryService(producer, cfg.Kafka.Topic, db, log)
			log.Info("查询遥测使用Kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		telemetry = services.NewTelemetryService(nil, cfg.Kafka.Topic, db, log)
	}

	var metrics *services.MetricsService
	if cfg.Metrics.Enabled {
		metrics = services.NewMetricsService(nil)
	}

	assembler := services.NewContextAssembler(cfg.AI.GroundedTemperature, cfg.AI.UngroundedTemperature)
	chatService := services.NewChatService(
		engine, assembler, llm, cfg.AI.ChatModel, cfg.AI.MaxTokens, telemetry, metrics, db, log)

	worker := services.NewEmbeddingWorker(db, embedder, sink, indexer, cfg.Knowledge.EmbedParallel, log)
	ingestService := services.NewIngestService(db, worker, cfg.Knowledge.DefaultCategory, cfg.Knowledge.Categories, log)
	knowledgeService := services.NewKnowledgeService(db, worker, sink, indexer, ingestService, log)

	controllers.Setup(controllers.Deps{
		Chat:      chatService,
		Knowledge: knowledgeService,
		Ingest:    ingestService,
		Worker:    worker,
	})
	router.Init()

	log.Info("应用初始化完成", zap.String("port", cfg.Server.Port))
	return &App{
		Config:    cfg,
		Telemetry: telemetry,
	}, nil
}

// Cleanup 释放外部连接
func (a *App) Cleanup() {
	if a.Telemetry != nil {
		if err := a.Telemetry.Close(); err != nil {
			logger.Warn("关闭Kafka生产者失败", zap.Error(err))
		}
	}
	_ = database.CloseRedis()
	logger.Sync()
}
