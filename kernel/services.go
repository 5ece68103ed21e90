package kernel

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"git.sr.ht/~aondrejcak/panel-credits/automation"
	"git.sr.ht/~aondrejcak/panel-credits/captcha"
	"git.sr.ht/~aondrejcak/panel-credits/events"
	"git.sr.ht/~aondrejcak/panel-credits/fulfillment"
	"git.sr.ht/~aondrejcak/panel-credits/lease"
	"git.sr.ht/~aondrejcak/panel-credits/panels"
	"git.sr.ht/~aondrejcak/panel-credits/provider"
	"git.sr.ht/~aondrejcak/panel-credits/reconciler"
	"git.sr.ht/~aondrejcak/panel-credits/recovery"
	"git.sr.ht/~aondrejcak/panel-credits/store"
)

// PrepareServices wires store, leases, panels and the background workers.
func (art *AppRuntime) PrepareServices() error {
	switch art.StoreDriver {
	case STORE_MYSQL:
		if err := art.PrepareDatabase(); err != nil {
			return fmt.Errorf("preparing database: %w", err)
		}
		art.Store = store.NewGormStore(art.DatabaseClient)
	case STORE_MEMORY:
		log.Warn().Msg("using the in-memory store, nothing survives a restart")
		art.Store = store.NewMemoryStore()
	}

	switch art.LeaseBackend {
	case LEASE_DATABASE:
		art.Leases = lease.NewGormTable(art.DatabaseClient)
	case LEASE_REDIS:
		art.Redis = redis.NewClient(&redis.Options{
			Addr:     art.RedisAddr,
			Password: art.RedisPassword,
		})
		if err := art.Redis.Ping(art.Context).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		art.Leases = lease.NewRedisTable(art.Redis, "")
	default:
		art.Leases = lease.NewMemoryTable()
	}

	art.Publisher = events.Noop{}
	if len(art.KafkaBrokers) > 0 {
		p, err := events.NewKafkaPublisher(art.KafkaBrokers, art.KafkaTopic)
		if err != nil {
			return err
		}
		art.Publisher = p
	}

	var solver panels.CaptchaSolver
	if art.CaptchaAPIKey != "" {
		solver = captcha.NewClient(or(art.CaptchaURL, captcha.DefaultURL))
	}

	art.Queue = automation.NewQueue(automation.WithMeter(art.Diagnostic.Meter))

	retrier := panels.NewRetrier()
	factory := &panels.Factory{
		HTTPClient:    &http.Client{Timeout: panels.DefaultHTTPTimeout},
		Captcha:       solver,
		CaptchaAPIKey: art.CaptchaAPIKey,
		Queue:         art.Queue,
		Browser: panels.BrowserOptions{
			Headless: art.BrowserHeadless,
			ExecPath: art.BrowserExecPath,
		},
		Retrier: retrier,
	}

	art.Provider = provider.NewClient(art.ProviderURL, art.ProviderAccessToken)

	art.Dispatcher = fulfillment.NewDispatcher(art.Store, factory,
		fulfillment.WithRetrier(retrier),
		fulfillment.WithPublisher(art.Publisher),
		fulfillment.WithTracer(art.Diagnostic.Tracer),
		fulfillment.WithMeter(art.Diagnostic.Meter),
	)

	art.Reconciler = reconciler.New(art.Store, art.Provider, art.Leases, art.Dispatcher,
		reconciler.WithInterval(art.ReconcileInterval),
		reconciler.WithLeaseTTL(art.LeaseTTL),
	)

	art.Coordinator = recovery.NewCoordinator(art.Store, art.Leases, art.Dispatcher, art.LeaseTTL)

	log.Info().
		Str("store", art.StoreDriver).
		Str("leases", art.LeaseBackend).
		Bool("kafka", len(art.KafkaBrokers) > 0).
		Bool("captcha", solver != nil).
		Str("lease_holder", art.Reconciler.Holder()).
		Msg("services prepared")
	return nil
}

// Shutdown stops the background workers; in-flight fulfillments finish first.
func (art *AppRuntime) Shutdown() {
	if art.Reconciler != nil {
		art.Reconciler.Stop()
	}
	if art.Queue != nil {
		art.Queue.Close()
	}
	if art.Publisher != nil {
		if err := art.Publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close event publisher")
		}
	}
	if art.Redis != nil {
		if err := art.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close redis client")
		}
	}
}
