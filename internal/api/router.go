/**
 * @description
 * This file sets up the HTTP router for the ROSCA service. It defines the API endpoints
 * for circles, goals, reputation and administration, and applies middleware for
 * logging, CORS, authentication and rate limiting.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs beyond the handlers.
type RouterConfig struct {
	JWTSecret          string
	AllowedOrigins     []string
	Limiter            RateLimiter
	RateLimitPerMinute int
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewRouter creates a new Chi router and registers the ROSCA routes.
func NewRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(cfg.JWTSecret))
		r.Use(RateLimitMiddleware(cfg.Limiter, cfg.RateLimitPerMinute, cfg.Logger))

		r.Route("/circles", func(r chi.Router) {
			r.Post("/", h.CreateCircleHandler)
			r.Get("/", h.ListCirclesHandler)
			r.Route("/{circleID}", func(r chi.Router) {
				r.Get("/", h.GetCircleHandler)
				r.Get("/members", h.ListMembersHandler)
				r.Get("/round", h.RoundStatusHandler)
				r.Get("/accounting", h.AccountingHandler)
				r.Get("/payouts", h.ListPayoutsHandler)
				r.Get("/collateral", h.RequiredCollateralHandler)
				r.Get("/contributions", h.ListContributionsHandler)
				r.Get("/events", h.ListCircleEventsHandler)
				r.Post("/invites", h.InviteMembersHandler)
				r.Post("/join", h.JoinCircleHandler)
				r.Post("/cancel", h.CancelCircleHandler)
				r.Post("/voting", h.InitiateVotingHandler)
				r.Post("/votes", h.VoteToStartHandler)
				r.Post("/contributions", h.ContributeHandler)
				r.Post("/forfeitures", h.ForfeitMembersHandler)
			})
		})

		r.Route("/goals", func(r chi.Router) {
			r.Post("/", h.CreateGoalHandler)
			r.Get("/", h.ListGoalsHandler)
			r.Route("/{goalID}", func(r chi.Router) {
				r.Get("/", h.GetGoalHandler)
				r.Get("/penalty", h.GoalPenaltyHandler)
				r.Post("/contributions", h.ContributeToGoalHandler)
				r.Post("/withdraw", h.WithdrawFromGoalHandler)
				r.Post("/complete", h.CompleteGoalHandler)
			})
		})

		r.Get("/reputation/{address}", h.GetReputationHandler)
		r.Get("/reputation/{address}/history", h.ReputationHistoryHandler)
		r.Get("/balance", h.BalanceHandler)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireOwner(h.owner))
			r.Get("/reputation-callers", h.ListReputationCallersHandler)
			r.Post("/reputation-callers", h.AuthorizeReputationCallerHandler)
			r.Delete("/reputation-callers/{address}", h.RevokeReputationCallerHandler)
			r.Post("/keepers", h.RegisterKeeperHandler)
			r.Delete("/keepers/{address}", h.RemoveKeeperHandler)
			r.Put("/treasury", h.SetTreasuryHandler)
			r.Post("/deposits", h.DepositHandler)
		})
	})

	return r
}
