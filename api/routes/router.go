package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitchtrail/pitchtrail-backend/api/controllers"
	"github.com/pitchtrail/pitchtrail-backend/api/middleware"
	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/redis"
)

// Params carries the collaborators the HTTP surface is wired to.
type Params struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        controllers.Pinger
	Redis     *redis.Client
	Builder   controllers.RunStarter
	Canceller controllers.RunCanceller
	Reader    controllers.RunReader
	OptOuts   controllers.OptOutApplier
	Quota     controllers.QuotaChecker
	Metrics   http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	deps := map[string]controllers.Pinger{"db": p.DB}
	if p.Redis != nil {
		deps["redis"] = p.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if p.Metrics != nil {
		r.Handle("/metrics", p.Metrics)
	}

	optOutPolicy := middleware.NewRateLimitPolicy(
		"opt_out",
		cfg.OptOut.RateLimitWindow,
		cfg.OptOut.RateLimitPerIP,
		cfg.OptOut.RateLimitPerEmail,
	)

	idempotent := passthrough
	if p.Redis != nil {
		idempotent = middleware.Idempotency(p.Redis, cfg.API.IdempotencyTTL, logg)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(idempotent).Post("/proposals/{proposalId}/cadence", controllers.StartCadence(p.Builder, logg))
		r.With(idempotent).Post("/proposals/{proposalId}/cadence/cancel", controllers.CancelProposalCadence(p.Canceller, logg))
		r.Get("/cadence-runs/{runId}", controllers.GetRun(p.Reader, logg))
		r.With(idempotent).Post("/cadence-runs/{runId}/cancel", controllers.CancelRun(p.Canceller, logg))
		r.With(middleware.RateLimit(optOutPolicy, rateLimiter(p.Redis), logg), idempotent).
			Post("/opt-outs", controllers.CreateOptOut(p.OptOuts, logg))
		r.Get("/organizations/{organizationId}/quota", controllers.OrganizationQuota(p.Quota, logg))
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }

// rateLimiter keeps a nil client from becoming a non-nil interface.
func rateLimiter(client *redis.Client) middleware.FixedWindowLimiter {
	if client == nil {
		return nil
	}
	return client
}
