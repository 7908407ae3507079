package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/asset"
	"github.com/vexmarkets/yield-engine/internal/attest"
	"github.com/vexmarkets/yield-engine/internal/config"
	"github.com/vexmarkets/yield-engine/internal/entropy"
	"github.com/vexmarkets/yield-engine/internal/market"
	"github.com/vexmarkets/yield-engine/internal/metrics"
	"github.com/vexmarkets/yield-engine/internal/oracle"
	"github.com/vexmarkets/yield-engine/internal/pricefeed"
	"github.com/vexmarkets/yield-engine/internal/random"
	"github.com/vexmarkets/yield-engine/internal/store"
)

// Custody accounts. Each component escrows funds under its own identity.
const (
	marketAccount = "market-pool"
	randomAccount = "random-pool"
	attestAccount = "attest-pool"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			slog.Error("invalid database url", "err", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = int32(cfg.Database.PoolMaxConns)
		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Token ledger ---
	token := asset.NewLedgerToken(10000, decimal.NewFromInt(1))
	// Operational float so the market custody can pay commit-reveal fees
	// before any stakes arrive.
	token.SetBalance(marketAccount, decimal.NewFromInt(1000))

	// --- Randomness engine ---
	src := entropy.NewSimSource([]byte(cfg.Random.GenesisSeed), cfg.Random.BlockInterval.Duration)
	randomEng := random.NewEngine(src, token, cfg.Owner, randomAccount, decimal.NewFromInt(cfg.Random.CommitFee))
	if err := randomEng.SetDefaultConfig(cfg.Owner, random.DelayConfig{
		MinDelay: cfg.Random.MinDelay,
		MaxDelay: cfg.Random.MaxDelay,
	}); err != nil {
		slog.Error("invalid randomness delay config", "err", err)
		os.Exit(1)
	}
	token.Approve(marketAccount, randomAccount, decimal.NewFromInt(1000))

	// --- Yield oracle ---
	feed := pricefeed.NewStaticFeed()
	agg := oracle.NewAggregator(cfg.Owner, feed, cfg.Oracle.HistoryCap)

	// --- Attestation verifier, reconciling against the native oracle ---
	roundBook := attest.NewRoundBook(cfg.Owner)
	verifier := attest.NewVerifier(cfg.Owner, attestAccount, token, roundBook, agg, decimal.NewFromInt(cfg.Attest.RequestFee))
	if err := verifier.SetPolicy(cfg.Owner, attest.ReconcilePolicy{
		ConsensusThresholdBps: cfg.Attest.ConsensusThresholdBps,
		MaxAttestedAge:        cfg.Attest.MaxAttestedAge.Duration,
		MaxNativeAge:          cfg.Attest.MaxNativeAge.Duration,
	}); err != nil {
		slog.Error("invalid reconcile policy", "err", err)
		os.Exit(1)
	}

	// --- Market engine, settling against the reconciled yield view ---
	params := market.DefaultParams()
	params.MinDuration = cfg.Market.MinDuration.Duration
	params.MaxDuration = cfg.Market.MaxDuration.Duration
	params.SettlementDelay = cfg.Market.SettlementDelay.Duration
	params.MinStake = decimal.NewFromInt(cfg.Market.MinStake)
	params.MaxStake = decimal.NewFromInt(cfg.Market.MaxStake)
	params.FeeRateBps = cfg.Market.FeeRateBps
	params.ConfidenceThresholdBps = cfg.Market.ConfidenceThresholdBps
	params.CreateRequiresOwner = cfg.Market.CreateRequiresOwner
	params.RandomRequestFee = decimal.NewFromInt(cfg.Random.CommitFee)

	eng := market.NewEngine(st, token, randomEng, verifier, cfg.Owner, marketAccount, params)

	// --- WebSocket hub ---
	wsHub := market.NewWSHub()
	go wsHub.Run()

	// --- HTTP services ---
	marketSvc := market.NewService(eng, wsHub)
	oracleSvc := oracle.NewService(agg)
	randomSvc := random.NewService(randomEng)
	attestSvc := attest.NewService(verifier, roundBook)
	tokenSvc := asset.NewService(token)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"yield-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time market events.
		r.Get("/ws", wsHub.HandleWS)

		// Markets.
		r.Get("/markets", marketSvc.ListMarkets)
		r.Post("/markets", marketSvc.CreateMarket)
		r.Get("/markets/{marketID}", marketSvc.GetMarket)
		r.Post("/markets/{marketID}/bets", marketSvc.PlaceBet)
		r.Get("/markets/{marketID}/bets", marketSvc.ListBets)
		r.Post("/markets/{marketID}/settle", marketSvc.SettleMarket)
		r.Post("/markets/{marketID}/claims", marketSvc.Claim)
		r.Get("/markets/{marketID}/payout", marketSvc.QuotePayout)
		r.Get("/bettors/{bettor}/markets", marketSvc.BettorMarkets)

		// Native yield oracle.
		r.Post("/oracle/{protocol}/rate", oracleSvc.UpdateRate)
		r.Get("/oracle/{protocol}/rate", oracleSvc.CurrentRate)
		r.Get("/oracle/{protocol}/history", oracleSvc.History)
		r.Get("/oracle/{protocol}/average", oracleSvc.Average)

		// Commit-reveal randomness.
		r.Post("/random/requests", randomSvc.Request)
		r.Get("/random/requests/{requestID}", randomSvc.Get)
		r.Post("/random/requests/{requestID}/fulfill", randomSvc.Fulfill)
		r.Get("/random/requests/{requestID}/range", randomSvc.InRange)
		r.Get("/random/requests/{requestID}/bool", randomSvc.Bool)
		r.Post("/random/requests/{requestID}/choice", randomSvc.Choice)
		r.Get("/random/instant", randomSvc.Instant)

		// External attestations.
		r.Post("/attest/{protocol}/requests", attestSvc.RequestAttestation)
		r.Get("/attest/{protocol}/requests", attestSvc.Pending)
		r.Post("/attest/{protocol}/submit", attestSvc.Submit)
		r.Get("/attest/{protocol}/rate", attestSvc.CurrentRate)
		r.Post("/attest/verify", attestSvc.Verify)

		// Token ledger.
		r.Post("/token/mint", tokenSvc.Mint)
		r.Post("/token/redeem", tokenSvc.Redeem)
		r.Post("/token/approve", tokenSvc.Approve)
		r.Get("/token/balances/{account}", tokenSvc.Balance)

		// Admin surface. Component-level authorization still applies on
		// top of the bearer token.
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth(cfg.Server.AdminToken))

			r.Get("/market/params", marketSvc.GetParams)
			r.Put("/market/params", marketSvc.SetParams)
			r.Post("/market/pause", marketSvc.Pause)
			r.Post("/market/unpause", marketSvc.Unpause)
			r.Post("/market/fees/withdraw", marketSvc.WithdrawFees)
			r.Post("/market/emergency-withdraw", marketSvc.EmergencyWithdraw)

			r.Post("/oracle/protocols", oracleSvc.RegisterProtocol)
			r.Post("/oracle/{protocol}/providers", oracleSvc.AuthorizeProvider)
			r.Delete("/oracle/{protocol}/providers", oracleSvc.RevokeProvider)

			r.Put("/random/config", randomSvc.SetConfig)
			r.Put("/random/fee", randomSvc.SetFee)
			r.Post("/random/fees/withdraw", randomSvc.WithdrawFees)
			r.Post("/random/cleanup", randomSvc.Cleanup)

			// Reference feed values arrive over the admin surface.
			r.Post("/feed/values", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					ID       string          `json:"id"`
					Value    decimal.Decimal `json:"value"`
					Decimals int32           `json:"decimals"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"error":"invalid request body"}`))
					return
				}
				feed.Set(req.ID, req.Value, req.Decimals)
				w.WriteHeader(http.StatusNoContent)
			})

			r.Post("/attest/rounds", attestSvc.PublishRound)
			r.Put("/attest/configs", attestSvc.SetConfig)
			r.Put("/attest/policy", attestSvc.SetPolicy)
			r.Post("/attest/fees/withdraw", attestSvc.WithdrawFees)
		})
	})

	if cfg.Server.AdminToken == "" {
		slog.Warn("admin token not set, admin routes are unauthenticated")
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("yield-engine listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	slog.Info("shutting down yield-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("yield-engine stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// adminAuth requires a bearer token on admin routes. An empty expected
// token leaves the surface open, which main warns about at startup.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid admin token"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
