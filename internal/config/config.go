package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pubgraph/backend/internal/util"

	"gopkg.in/yaml.v3"
)

// Config holds all settings shared by the server, the worker and the CLI.
type Config struct {
	Graph      GraphConfig      `yaml:"graph"`
	Encoder    EncoderConfig    `yaml:"encoder"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Source     SourceConfig     `yaml:"source"`
	S3         S3Config         `yaml:"s3"`
	Queue      QueueConfig      `yaml:"queue"`
	Cache      CacheConfig      `yaml:"cache"`
	Server     ServerConfig     `yaml:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GraphConfig selects the graph backend and how to reach it.
type GraphConfig struct {
	Backend       string `yaml:"backend"` // "neo4j", "pgx", "bolt"
	Neo4jURI      string `yaml:"neo4j_uri"`
	Neo4jUser     string `yaml:"neo4j_user"`
	Neo4jPassword string `yaml:"neo4j_password"`
	Neo4jDatabase string `yaml:"neo4j_database"`
	DatabaseURL   string `yaml:"database_url"`
	BoltPath      string `yaml:"bolt_path"`
}

type EncoderConfig struct {
	Adapter        string        `yaml:"adapter"` // "openai", "ollama"
	Model          string        `yaml:"model"`
	URL            string        `yaml:"url"`
	Key            string        `yaml:"key"`
	Dimensions     int           `yaml:"dimensions"`
	ParallelReq    int           `yaml:"parallel_requests"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
	TokenMargin    float64       `yaml:"token_margin"`
	Pooling        string        `yaml:"pooling"` // "document", "sentence-mean"
	BatchSize      int           `yaml:"batch_size"`
	TokenEncoding  string        `yaml:"token_encoding"`
	SendDimensions bool          `yaml:"send_dimensions"`
}

type SimilarityConfig struct {
	Threshold    float64 `yaml:"threshold"`
	MaxNeighbors int     `yaml:"max_neighbors"`
	PageSize     int     `yaml:"page_size"`
}

type PipelineConfig struct {
	ParallelArticles int           `yaml:"parallel_articles"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryInitial     time.Duration `yaml:"retry_initial"`
	RetryMax         time.Duration `yaml:"retry_max"`
}

// SourceConfig describes where raw BioC documents come from.
type SourceConfig struct {
	Kind        string `yaml:"kind"` // "pubtator", "dir", "s3"
	PubTatorURL string `yaml:"pubtator_url"`
	EUtilsURL   string `yaml:"eutils_url"`
	Dir         string `yaml:"dir"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
}

// S3Config holds the credentials shared by the s3 source, the report store
// and the document archive. Bucket falls back to the source bucket.
type S3Config struct {
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	ReportPrefix  string `yaml:"report_prefix"`
	ArchivePrefix string `yaml:"archive_prefix"`
	Archive       bool   `yaml:"archive"`
}

type QueueConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Port   string `yaml:"port"`
	// APIKey protects the /api routes when set.
	APIKey string `yaml:"api_key"`
}

type TelemetryConfig struct {
	Exporter    string  `yaml:"exporter"` // "none", "stdout", "otlp"
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Format string `yaml:"format"` // "console", "json"
	Debug  bool   `yaml:"debug"`
}

// DefaultConfig returns the configuration used when neither a file nor the
// environment says otherwise.
func DefaultConfig() *Config {
	return &Config{
		Graph: GraphConfig{
			Backend:       "neo4j",
			Neo4jURI:      "bolt://localhost:7687",
			Neo4jUser:     "neo4j",
			Neo4jDatabase: "neo4j",
			BoltPath:      "pubgraph.db",
		},
		Encoder: EncoderConfig{
			Adapter:       "openai",
			Model:         "neuml/pubmedbert-base-embeddings",
			URL:           "http://localhost:8080/v1",
			Dimensions:    768,
			ParallelReq:   4,
			Timeout:       2 * time.Minute,
			MaxTokens:     512,
			TokenMargin:   0.2,
			Pooling:       "document",
			BatchSize:     16,
			TokenEncoding: "cl100k_base",
		},
		Similarity: SimilarityConfig{
			Threshold:    0.8,
			MaxNeighbors: 20,
			PageSize:     500,
		},
		Pipeline: PipelineConfig{
			ParallelArticles: 4,
			RetryMaxAttempts: 3,
			RetryInitial:     time.Second,
			RetryMax:         30 * time.Second,
		},
		Source: SourceConfig{
			Kind:        "pubtator",
			PubTatorURL: "https://www.ncbi.nlm.nih.gov/research/pubtator3-api",
			EUtilsURL:   "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
		},
		S3: S3Config{
			Region:        "us-east-1",
			ReportPrefix:  "reports",
			ArchivePrefix: "articles",
		},
		Queue: QueueConfig{
			Host: "localhost",
			Port: "5672",
		},
		Cache: CacheConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "pubgraph",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and finally the environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides every field whose environment variable is set.
func (c *Config) ApplyEnv() {
	c.Graph.Backend = util.GetEnvString("GRAPH_BACKEND", c.Graph.Backend)
	c.Graph.Neo4jURI = util.GetEnvString("NEO4J_URI", c.Graph.Neo4jURI)
	c.Graph.Neo4jUser = util.GetEnvString("NEO4J_USER", c.Graph.Neo4jUser)
	c.Graph.Neo4jPassword = util.GetEnvString("NEO4J_PASSWORD", c.Graph.Neo4jPassword)
	c.Graph.Neo4jDatabase = util.GetEnvString("NEO4J_DATABASE", c.Graph.Neo4jDatabase)
	c.Graph.DatabaseURL = util.GetEnvString("DATABASE_URL", c.Graph.DatabaseURL)
	c.Graph.BoltPath = util.GetEnvString("BOLT_PATH", c.Graph.BoltPath)

	c.Encoder.Adapter = util.GetEnvString("AI_ADAPTER", c.Encoder.Adapter)
	c.Encoder.Model = util.GetEnvString("AI_EMBED_MODEL", c.Encoder.Model)
	c.Encoder.URL = util.GetEnvString("AI_EMBED_URL", c.Encoder.URL)
	c.Encoder.Key = util.GetEnvString("AI_EMBED_KEY", c.Encoder.Key)
	c.Encoder.Dimensions = util.GetEnvInt("AI_EMBED_DIM", c.Encoder.Dimensions)
	c.Encoder.ParallelReq = util.GetEnvInt("AI_PARALLEL_REQ", c.Encoder.ParallelReq)
	c.Encoder.Timeout = util.GetEnvDuration("AI_TIMEOUT", c.Encoder.Timeout)
	c.Encoder.MaxTokens = util.GetEnvInt("EMBED_MAX_TOKENS", c.Encoder.MaxTokens)
	c.Encoder.TokenMargin = util.GetEnvFloat("EMBED_TOKEN_MARGIN", c.Encoder.TokenMargin)
	c.Encoder.Pooling = util.GetEnvString("EMBED_POOLING", c.Encoder.Pooling)
	c.Encoder.BatchSize = util.GetEnvInt("EMBED_BATCH_SIZE", c.Encoder.BatchSize)
	c.Encoder.TokenEncoding = util.GetEnvString("TOKEN_ENCODING", c.Encoder.TokenEncoding)
	c.Encoder.SendDimensions = util.GetEnvBool("AI_EMBED_SEND_DIM", c.Encoder.SendDimensions)

	c.Similarity.Threshold = util.GetEnvFloat("SIMILARITY_THRESHOLD", c.Similarity.Threshold)
	c.Similarity.MaxNeighbors = util.GetEnvInt("SIMILARITY_MAX_NEIGHBORS", c.Similarity.MaxNeighbors)
	c.Similarity.PageSize = util.GetEnvInt("SIMILARITY_PAGE_SIZE", c.Similarity.PageSize)

	c.Pipeline.ParallelArticles = util.GetEnvInt("PARALLEL_ARTICLES", c.Pipeline.ParallelArticles)
	c.Pipeline.RetryMaxAttempts = util.GetEnvInt("RETRY_MAX_ATTEMPTS", c.Pipeline.RetryMaxAttempts)
	c.Pipeline.RetryInitial = util.GetEnvDuration("RETRY_INITIAL_MS", c.Pipeline.RetryInitial)
	c.Pipeline.RetryMax = util.GetEnvDuration("RETRY_MAX_MS", c.Pipeline.RetryMax)

	c.Source.Kind = util.GetEnvString("SOURCE", c.Source.Kind)
	c.Source.PubTatorURL = util.GetEnvString("PUBTATOR_URL", c.Source.PubTatorURL)
	c.Source.EUtilsURL = util.GetEnvString("EUTILS_URL", c.Source.EUtilsURL)
	c.Source.Dir = util.GetEnvString("SOURCE_DIR", c.Source.Dir)
	c.Source.Bucket = util.GetEnvString("AWS_BUCKET", c.Source.Bucket)
	c.Source.Prefix = util.GetEnvString("AWS_PREFIX", c.Source.Prefix)

	c.S3.Region = util.GetEnvString("AWS_REGION", c.S3.Region)
	c.S3.Endpoint = util.GetEnvString("AWS_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = util.GetEnvString("AWS_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = util.GetEnvString("AWS_SECRET_KEY", c.S3.SecretKey)
	c.S3.Bucket = util.GetEnvString("AWS_REPORT_BUCKET", c.S3.Bucket)
	c.S3.ReportPrefix = util.GetEnvString("AWS_REPORT_PREFIX", c.S3.ReportPrefix)
	c.S3.ArchivePrefix = util.GetEnvString("AWS_ARCHIVE_PREFIX", c.S3.ArchivePrefix)
	c.S3.Archive = util.GetEnvBool("ARCHIVE_DOCUMENTS", c.S3.Archive)

	c.Queue.User = util.GetEnvString("RABBITMQ_USER", c.Queue.User)
	c.Queue.Password = util.GetEnvString("RABBITMQ_PASSWORD", c.Queue.Password)
	c.Queue.Host = util.GetEnvString("RABBITMQ_HOST", c.Queue.Host)
	c.Queue.Port = util.GetEnvString("RABBITMQ_PORT", c.Queue.Port)

	c.Cache.RedisURL = util.GetEnvString("REDIS_URL", c.Cache.RedisURL)
	c.Cache.TTL = util.GetEnvDuration("EMBED_CACHE_TTL", c.Cache.TTL)

	c.Server.Port = util.GetEnvString("PORT", c.Server.Port)
	c.Server.APIKey = util.GetEnvString("API_KEY", c.Server.APIKey)

	c.Telemetry.Exporter = util.GetEnvString("OTEL_EXPORTER", c.Telemetry.Exporter)
	c.Telemetry.ServiceName = util.GetEnvString("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.SampleRatio = util.GetEnvFloat("OTEL_SAMPLE_RATIO", c.Telemetry.SampleRatio)

	c.Logging.Format = util.GetEnvString("LOG_FORMAT", c.Logging.Format)
	c.Logging.Debug = util.GetEnvBool("DEBUG", c.Logging.Debug)
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Graph.Backend) {
	case "neo4j", "pgx", "bolt":
	default:
		return fmt.Errorf("unknown graph backend %q", c.Graph.Backend)
	}
	switch strings.ToLower(c.Encoder.Adapter) {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown encoder adapter %q", c.Encoder.Adapter)
	}
	switch c.Encoder.Pooling {
	case "document", "sentence-mean":
	default:
		return fmt.Errorf("unknown pooling %q", c.Encoder.Pooling)
	}
	switch strings.ToLower(c.Source.Kind) {
	case "pubtator", "dir", "s3":
	default:
		return fmt.Errorf("unknown source %q", c.Source.Kind)
	}
	if strings.EqualFold(c.Source.Kind, "s3") && c.Source.Bucket == "" {
		return fmt.Errorf("source s3 needs AWS_BUCKET")
	}
	if c.S3.Archive && c.StorageBucket() == "" {
		return fmt.Errorf("document archive needs AWS_REPORT_BUCKET or AWS_BUCKET")
	}
	if c.Encoder.Dimensions <= 0 {
		return fmt.Errorf("encoder dimensions must be positive, got %d", c.Encoder.Dimensions)
	}
	if c.Encoder.TokenMargin < 0 || c.Encoder.TokenMargin >= 1 {
		return fmt.Errorf("token margin must be within [0, 1), got %v", c.Encoder.TokenMargin)
	}
	if c.Similarity.Threshold < -1 || c.Similarity.Threshold > 1 {
		return fmt.Errorf("similarity threshold must be within [-1, 1], got %v", c.Similarity.Threshold)
	}
	if c.Pipeline.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.Pipeline.RetryMaxAttempts)
	}
	return nil
}

// StorageBucket is the bucket for reports and archived documents.
func (c *Config) StorageBucket() string {
	if c.S3.Bucket != "" {
		return c.S3.Bucket
	}
	return c.Source.Bucket
}

// RetryPolicy converts the pipeline section into a retry policy.
func (c *Config) RetryPolicy() util.RetryPolicy {
	p := util.DefaultRetryPolicy()
	p.MaxAttempts = c.Pipeline.RetryMaxAttempts
	if c.Pipeline.RetryInitial > 0 {
		p.InitialInterval = c.Pipeline.RetryInitial
	}
	if c.Pipeline.RetryMax > 0 {
		p.MaxInterval = c.Pipeline.RetryMax
	}
	return p
}
