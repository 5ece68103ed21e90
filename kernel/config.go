package kernel

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/appleboy/gin-jwt/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"git.sr.ht/~aondrejcak/panel-credits/automation"
	"git.sr.ht/~aondrejcak/panel-credits/events"
	"git.sr.ht/~aondrejcak/panel-credits/fulfillment"
	"git.sr.ht/~aondrejcak/panel-credits/lease"
	"git.sr.ht/~aondrejcak/panel-credits/provider"
	"git.sr.ht/~aondrejcak/panel-credits/reconciler"
	"git.sr.ht/~aondrejcak/panel-credits/recovery"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"gorm.io/gorm"
)

var (
	once       sync.Once
	appRuntime *AppRuntime
)

//goland:noinspection ALL
const (
	LEASE_MEMORY   = "memory"
	LEASE_DATABASE = "database"
	LEASE_REDIS    = "redis"

	STORE_MYSQL  = "mysql"
	STORE_MEMORY = "memory"
)

type AppRuntime struct {
	Host     string
	LogLevel string

	ServiceName           string
	ServiceVersion        string
	DeploymentEnvironment string

	StoreDriver    string
	DatabaseDSN    string
	DatabaseClient *gorm.DB

	JaegerEndpoint   string
	MetricsEndpoint  string
	MetricsProtocol  string // http, grpc or empty for the prometheus scrape endpoint
	Insecure         bool
	CorsAllowOrigins []string

	ProviderURL         string
	ProviderAccessToken string
	PaymentTTL          time.Duration

	CaptchaURL    string
	CaptchaAPIKey string

	ReconcileInterval time.Duration
	LeaseTTL          time.Duration
	LeaseBackend      string
	RedisAddr         string
	RedisPassword     string

	KafkaBrokers []string
	KafkaTopic   string

	BrowserHeadless bool
	BrowserExecPath string

	Diagnostic *AppDiagnostic

	Context context.Context

	// Admin JWT
	Realm             string
	IdentityKey       string
	SecretKey         []byte
	AdminUsername     string
	AdminPasswordHash string
	JWT               *jwt.GinJWTMiddleware

	// services, wired by PrepareServices
	Store       store.Store
	Leases      lease.Table
	Redis       *redis.Client
	Queue       *automation.Queue
	Provider    *provider.Client
	Publisher   events.Publisher
	Dispatcher  *fulfillment.Dispatcher
	Reconciler  *reconciler.Reconciler
	Coordinator *recovery.Coordinator
}

// LoadConfig reads .env.<API_ENV> once. Without the file the process
// environment is used.
func LoadConfig() *AppRuntime {
	once.Do(func() {
		appEnv := os.Getenv("API_ENV")
		if appEnv == "" {
			appEnv = "development"
		}

		env, err := godotenv.Read(".env." + appEnv)
		if err != nil {
			log.Warn().Err(err).Str("env", appEnv).Msg("could not read env file, using process environment")
			env = environ()
		}

		appRuntime, err = ParseConfig(env)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
	})
	return appRuntime
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func ParseConfig(env map[string]string) (*AppRuntime, error) {
	art := &AppRuntime{
		Host:     or(env["HOST"], ":8080"),
		LogLevel: or(env["LOG_LEVEL"], "info"),

		ServiceName:           or(env["SERVICE_NAME"], "panel-credits"),
		ServiceVersion:        env["SERVICE_VERSION"],
		DeploymentEnvironment: env["DEPLOY_ENV"],

		StoreDriver: or(env["STORE_DRIVER"], STORE_MYSQL),
		DatabaseDSN: env["DATABASE_DSN"],

		JaegerEndpoint:   env["JAEGER_ENDPOINT"],
		MetricsEndpoint:  env["OTLP_METRICS_ENDPOINT"],
		MetricsProtocol:  env["OTLP_METRICS_PROTOCOL"],
		Insecure:         env["INSECURE"] == "true",
		CorsAllowOrigins: list(env["CORS_ALLOW_ORIGINS"]),

		ProviderURL:         or(env["PROVIDER_URL"], provider.DefaultURL),
		ProviderAccessToken: env["PROVIDER_ACCESS_TOKEN"],

		CaptchaURL:    env["CAPTCHA_URL"],
		CaptchaAPIKey: env["CAPTCHA_API_KEY"],

		LeaseBackend:  or(env["LEASE_BACKEND"], LEASE_MEMORY),
		RedisAddr:     env["REDIS_ADDR"],
		RedisPassword: env["REDIS_PASSWORD"],

		KafkaBrokers: list(env["KAFKA_BROKERS"]),
		KafkaTopic:   or(env["KAFKA_TOPIC"], events.DefaultTopic),

		BrowserHeadless: env["BROWSER_HEADLESS"] != "false",
		BrowserExecPath: env["BROWSER_EXEC_PATH"],

		Diagnostic: &AppDiagnostic{
			Tracer: otel.Tracer(or(env["SERVICE_NAME"], "panel-credits") + "-tracer"),
			Meter:  otel.Meter(or(env["SERVICE_NAME"], "panel-credits") + "-meter"),
		},

		Context: context.Background(),

		Realm:             or(env["SEC_JWT_REALM"], "panel-credits"),
		IdentityKey:       or(env["SEC_JWT_IDENTITY_KEY"], "username"),
		SecretKey:         []byte(env["SEC_JWT_SECRET_KEY"]),
		AdminUsername:     or(env["ADMIN_USERNAME"], "admin"),
		AdminPasswordHash: env["ADMIN_PASSWORD_HASH"],
	}

	var err error
	if art.PaymentTTL, err = duration(env, "PAYMENT_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if art.ReconcileInterval, err = duration(env, "RECONCILE_INTERVAL", reconciler.DefaultInterval); err != nil {
		return nil, err
	}
	if art.LeaseTTL, err = duration(env, "LEASE_TTL", reconciler.DefaultLeaseTTL); err != nil {
		return nil, err
	}

	switch art.LeaseBackend {
	case LEASE_MEMORY, LEASE_DATABASE:
	case LEASE_REDIS:
		if art.RedisAddr == "" {
			return nil, fmt.Errorf("LEASE_BACKEND=redis needs REDIS_ADDR")
		}
	default:
		return nil, fmt.Errorf("unknown LEASE_BACKEND %q", art.LeaseBackend)
	}

	switch art.StoreDriver {
	case STORE_MEMORY:
		if art.LeaseBackend == LEASE_DATABASE {
			return nil, fmt.Errorf("LEASE_BACKEND=database needs STORE_DRIVER=mysql")
		}
	case STORE_MYSQL:
		if art.DatabaseDSN == "" {
			return nil, fmt.Errorf("STORE_DRIVER=mysql needs DATABASE_DSN")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", art.StoreDriver)
	}

	switch art.MetricsProtocol {
	case "", "http", "grpc":
	default:
		return nil, fmt.Errorf("unknown OTLP_METRICS_PROTOCOL %q", art.MetricsProtocol)
	}

	return art, nil
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func list(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func duration(env map[string]string, key string, def time.Duration) (time.Duration, error) {
	v := env[key]
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
