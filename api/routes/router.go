package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beatdrop/battles-backend/api/controllers"
	"github.com/beatdrop/battles-backend/api/middleware"
	"github.com/beatdrop/battles-backend/internal/battles"
	"github.com/beatdrop/battles-backend/internal/flames"
	"github.com/beatdrop/battles-backend/internal/leaderboard"
	"github.com/beatdrop/battles-backend/internal/votes"
	"github.com/beatdrop/battles-backend/pkg/config"
	"github.com/beatdrop/battles-backend/pkg/db"
	"github.com/beatdrop/battles-backend/pkg/enums"
	"github.com/beatdrop/battles-backend/pkg/logger"
	pkgredis "github.com/beatdrop/battles-backend/pkg/redis"
)

// RedisClient is the slice of redis the HTTP layer depends on.
type RedisClient interface {
	pkgredis.IdempotencyStore
	pkgredis.RateLimiter
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient RedisClient,
	metricsHandler http.Handler,
	battleService battles.Service,
	voteService votes.Service,
	flameService flames.Service,
	leaderboardService leaderboard.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	votePolicy := middleware.NewVoteRateLimitPolicy(
		cfg.Votes.RateLimitWindow,
		cfg.Votes.RateLimitUser,
		cfg.Votes.RateLimitIP,
	)

	var (
		idempotencyStore pkgredis.IdempotencyStore
		rateLimiter      pkgredis.RateLimiter
		redisPinger      controllers.Pinger
	)
	if redisClient != nil {
		idempotencyStore, rateLimiter, redisPinger = redisClient, redisClient, redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.Ping("public"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))
			r.Get("/battles", controllers.BattleList(battleService, voteService, logg))
			r.Get("/battles/{battleId}", controllers.BattleGet(battleService, voteService, logg))
			r.Get("/leaderboard", controllers.Leaderboard(leaderboardService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.Post("/battles", controllers.BattleCreate(battleService, logg))
			r.Post("/battles/{battleId}/accept", controllers.BattleAccept(battleService, logg))
			r.With(middleware.VoteRateLimit(votePolicy, rateLimiter, logg)).
				Post("/battles/{battleId}/vote", controllers.VoteCast(voteService, logg))
			r.Get("/battles/{battleId}/vote", controllers.VoteStatus(voteService, logg))

			r.Route("/flames", func(r chi.Router) {
				r.Get("/balance", controllers.FlameBalance(flameService, logg))
				r.Get("/entries", controllers.FlameEntries(flameService, logg))
			})
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
		r.Use(middleware.Idempotency(idempotencyStore, logg))
		r.Get("/ping", controllers.Ping("admin"))
		r.Route("/v1", func(r chi.Router) {
			r.Post("/battles/{battleId}/close", controllers.AdminBattleClose(battleService, logg))
			r.Post("/battles/{battleId}/cancel", controllers.AdminBattleCancel(battleService, logg))
			r.Post("/flames/credit", controllers.AdminFlamesCredit(flameService, logg))
		})
	})

	return r
}
