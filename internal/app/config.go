package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/workspace-core/internal/data/db"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/platform/envutil"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
	"github.com/yungbote/workspace-core/internal/realtime/bus"
)

const defaultJWTSecret = "defaultsecret"

type Config struct {
	Port    string
	LogMode string

	DB          db.Config
	AutoMigrate bool

	JWTSecretKey     string
	RealtimeTokenTTL time.Duration
	TokenRate        rate.Limit
	TokenBurst       int

	SSEHeartbeat time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	CORSOrigins   []string
	MetricsAddr   string
	ShutdownGrace time.Duration

	ServiceName string
	Environment string
	Version     string

	Tracing observability.TracingConfig
}

// LoadConfig reads the optional CONFIG_FILE overlay first so real
// environment variables still win over it.
func LoadConfig(log *logger.Logger) (Config, error) {
	if path := envutil.String("CONFIG_FILE", ""); path != "" {
		n, err := envutil.LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		log.Info("Loaded config file", "path", path, "keys", n)
	}

	cfg := Config{
		Port:    envutil.String("PORT", "8080"),
		LogMode: envutil.String("LOG_MODE", "development"),
		DB: db.Config{
			Driver:       envutil.String("DB_DRIVER", "postgres"),
			DSN:          envutil.String("DATABASE_URL", ""),
			MaxOpenConns: envutil.Int("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: envutil.Int("DB_MAX_IDLE_CONNS", 10),
			SlowQuery:    envutil.Duration("DB_SLOW_QUERY", time.Second),
		},
		AutoMigrate: envutil.Bool("DB_AUTO_MIGRATE", true),

		JWTSecretKey:     envutil.String("JWT_SECRET_KEY", defaultJWTSecret),
		RealtimeTokenTTL: envutil.Duration("REALTIME_TOKEN_TTL", 6*time.Hour),
		TokenRate:        rate.Limit(envutil.Int("REALTIME_TOKEN_RATE_PER_MIN", 30)) / 60,
		TokenBurst:       envutil.Int("REALTIME_TOKEN_BURST", 5),

		SSEHeartbeat: envutil.Duration("SSE_HEARTBEAT", realtime.DefaultHeartbeat),

		RedisAddr:     envutil.String("REDIS_ADDR", ""),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		RedisChannel:  envutil.String("REDIS_CHANNEL", bus.DefaultRedisChannel),

		CORSOrigins:   splitList(envutil.String("CORS_ORIGINS", "")),
		MetricsAddr:   envutil.String("METRICS_ADDR", ""),
		ShutdownGrace: envutil.Duration("SHUTDOWN_GRACE", 15*time.Second),

		ServiceName: envutil.String("SERVICE_NAME", "workspace-core"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	}

	cfg.Tracing = observability.TracingConfig{
		Enabled:     envutil.Bool("OTEL_ENABLED", false),
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
		Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		Headers:     observability.ParseOTLPHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
		SampleRatio: envutil.Float("OTEL_SAMPLER_RATIO", 0.1),
	}

	if cfg.DB.DSN == "" {
		cfg.DB.DSN = postgresDSNFromParts()
	}
	if cfg.JWTSecretKey == defaultJWTSecret {
		log.Warn("JWT_SECRET_KEY not set, using the insecure default")
	}
	if cfg.TokenBurst < 1 {
		return Config{}, fmt.Errorf("REALTIME_TOKEN_BURST must be >= 1")
	}
	return cfg, nil
}

func postgresDSNFromParts() string {
	host := envutil.String("POSTGRES_HOST", "localhost")
	port := envutil.String("POSTGRES_PORT", "5432")
	user := envutil.String("POSTGRES_USER", "postgres")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := envutil.String("POSTGRES_NAME", "workspace")
	ssl := envutil.String("POSTGRES_SSLMODE", "disable")
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", host, port, user, pass, name, ssl)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
