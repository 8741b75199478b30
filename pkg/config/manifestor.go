package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates every setting the CLI and server read from the environment.
type Config struct {
	Environment string
	LogLevel    string

	Server     ServerConfig
	Generator  GeneratorConfig
	GitHub     GitHubConfig
	Storage    StorageConfig
	Docker     DockerConfig
	Kubernetes KubernetesConfig
	Remote     RemoteConfig
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr            string
	JWTSecret       string
	RateLimit       int
	RateLimitWindow time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ShutdownTimeout time.Duration
}

// GeneratorConfig holds the defaults applied to generation requests.
type GeneratorConfig struct {
	OutputDir     string
	Workdir       string
	Namespace     string
	Replicas      int
	ResourceScale float64
	PolicyFile    string
	CacheSize     int
}

// GitHubConfig configures the repository fetcher.
type GitHubConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// StorageConfig selects the generation store and the object sink.
type StorageConfig struct {
	DatabaseURL string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

// DockerConfig configures build verification.
type DockerConfig struct {
	Host         string
	BuildTimeout time.Duration
}

// KubernetesConfig configures cluster apply.
type KubernetesConfig struct {
	Kubeconfig   string
	ReadyTimeout time.Duration
}

// RemoteConfig points the CLI at a running API server.
type RemoteConfig struct {
	URL   string
	Token string
}

// Load reads an optional .env file and constructs Config from environment variables.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Environment: GetString("APP_ENV", "development"),
		LogLevel:    GetString("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Addr:            GetString("MANIFESTOR_ADDR", ":5050"),
			JWTSecret:       GetString("MANIFESTOR_JWT_SECRET", ""),
			RateLimit:       GetInt("MANIFESTOR_RATE_LIMIT", 60),
			RateLimitWindow: GetDuration("MANIFESTOR_RATE_LIMIT_WINDOW", time.Minute),
			RedisAddr:       GetString("REDIS_ADDR", ""),
			RedisPassword:   GetString("REDIS_PASSWORD", ""),
			RedisDB:         GetInt("REDIS_DB", 0),
			ShutdownTimeout: GetDuration("MANIFESTOR_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Generator: GeneratorConfig{
			OutputDir:     GetString("MANIFESTOR_OUTPUT_DIR", "output"),
			Workdir:       GetString("MANIFESTOR_WORKDIR", "/tmp/manifestor"),
			Namespace:     GetString("MANIFESTOR_NAMESPACE", "default"),
			Replicas:      GetInt("MANIFESTOR_REPLICAS", 3),
			ResourceScale: GetFloat("MANIFESTOR_RESOURCE_SCALE", 1),
			PolicyFile:    GetString("MANIFESTOR_POLICY_FILE", ""),
			CacheSize:     GetInt("MANIFESTOR_CACHE_SIZE", 1024),
		},
		GitHub: GitHubConfig{
			Token:   GetString("GITHUB_TOKEN", ""),
			BaseURL: GetString("GITHUB_API_URL", ""),
			Timeout: GetDuration("GITHUB_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			DatabaseURL: GetString("DATABASE_URL", ""),
			S3Endpoint:  GetString("S3_ENDPOINT", ""),
			S3Region:    GetString("S3_REGION", "us-east-1"),
			S3AccessKey: GetString("S3_ACCESS_KEY", ""),
			S3SecretKey: GetString("S3_SECRET_KEY", ""),
			S3Bucket:    GetString("S3_BUCKET", "manifestor"),
			S3UseSSL:    GetBool("S3_USE_SSL", false),
		},
		Docker: DockerConfig{
			Host:         GetString("DOCKER_HOST", ""),
			BuildTimeout: GetDuration("BUILD_TIMEOUT_SECONDS", 10*time.Minute),
		},
		Kubernetes: KubernetesConfig{
			Kubeconfig:   GetString("KUBECONFIG", ""),
			ReadyTimeout: GetDuration("KUBE_READY_TIMEOUT", 2*time.Minute),
		},
		Remote: RemoteConfig{
			URL:   GetString("MANIFESTOR_SERVER_URL", "http://localhost:5050"),
			Token: GetString("MANIFESTOR_TOKEN", ""),
		},
	}
}

// S3Enabled reports whether enough settings are present to use object storage.
func (c StorageConfig) S3Enabled() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}
