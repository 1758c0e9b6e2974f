package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/config"
	"github.com/driftchat/drift/internal/engine"
	"github.com/driftchat/drift/internal/fallback"
	"github.com/driftchat/drift/internal/keys"
	"github.com/driftchat/drift/internal/messaging"
	"github.com/driftchat/drift/internal/metrics"
	"github.com/driftchat/drift/internal/profile"
	"github.com/driftchat/drift/internal/ratelimit"
)

func main() {
	log.Println("Starting Drift matchmaking engine...")

	cfg := config.Load()

	// --- Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- PostgreSQL (profiles, read-only here) ---
	if err := profile.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	db, err := profile.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	profiles := profile.NewReader(db)

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "drift-engine"
	nc, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	eng := engine.New(rdb)
	limiter := ratelimit.NewLimiter(rdb)

	ctx, stop := context.WithCancel(context.Background())

	// --- Request handlers ---
	err = nc.SubscribeJoinRequest(func(data []byte) {
		var req messaging.JoinRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[engine] invalid join request: %v", err)
			return
		}
		handleJoin(ctx, eng, profiles, limiter, nc, req.UserID)
	})
	if err != nil {
		log.Fatalf("subscribe join: %v", err)
	}

	err = nc.SubscribeCancelRequest(func(data []byte) {
		var req messaging.CancelRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[engine] invalid cancel request: %v", err)
			return
		}
		if err := eng.Cancel(ctx, req.UserID); err != nil {
			log.Printf("[engine] cancel %s: %v", req.UserID, err)
			return
		}
		metrics.CancelsTotal.Inc()
		log.Printf("[engine] cancelled search for %s", req.UserID)
	})
	if err != nil {
		log.Fatalf("subscribe cancel: %v", err)
	}

	err = nc.SubscribeLeaveRequest(func(data []byte) {
		var req messaging.LeaveRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[engine] invalid leave request: %v", err)
			return
		}
		partner, err := eng.Leave(ctx, req.UserID)
		if err != nil {
			log.Printf("[engine] leave %s: %v", req.UserID, err)
			return
		}
		if partner != "" && partner != keys.AISentinel {
			if err := nc.PublishChatEnded(partner, messaging.ChatEnded{PartnerID: req.UserID}); err != nil {
				log.Printf("[engine] notify %s of chat end: %v", partner, err)
			}
		}
		log.Printf("[engine] %s left session (partner=%s)", req.UserID, partner)
	})
	if err != nil {
		log.Fatalf("subscribe leave: %v", err)
	}

	err = nc.SubscribeEvict(func(data []byte) {
		var req messaging.EvictRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[engine] invalid evict request: %v", err)
			return
		}
		if err := eng.Cancel(ctx, req.UserID); err != nil {
			log.Printf("[engine] evict %s: %v", req.UserID, err)
			return
		}
		metrics.CancelsTotal.Inc()
		log.Printf("[engine] evicted %s from queue (reason=%s)", req.UserID, req.Reason)
	})
	if err != nil {
		log.Fatalf("subscribe evict: %v", err)
	}

	// --- Fallback scheduler ---
	scheduler := fallback.NewScheduler(
		eng.Queues(),
		eng.Registry(),
		eng.AIContext(),
		nc,
		nc,
		fallback.Config{
			PollInterval: cfg.FallbackPollInterval,
			Timeout:      cfg.FallbackTimeout,
			GreetDelay:   cfg.FallbackGreetDelay,
		},
	)
	go scheduler.Run(ctx)

	// --- Gauge refresher ---
	go refreshGauges(ctx, eng)

	// --- Metrics endpoint ---
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[engine] metrics server: %v", err)
		}
	}()

	log.Printf("Drift matchmaking engine running")
	log.Printf("  redis_url:    %s", cfg.RedisURL)
	log.Printf("  nats_url:     %s", cfg.NATSURL)
	log.Printf("  metrics_addr: %s", cfg.MetricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	stop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	metricsSrv.Shutdown(shutdownCtx)
	cancelShutdown()
	nc.Close()
	db.Close()
	rdb.Close()
}

// handleJoin resolves the searcher's profile, runs the pairing algorithm and
// publishes the result to both parties. A failed join is reported to the
// searcher as retryable rather than silently enqueueing.
func handleJoin(ctx context.Context, eng *engine.Engine, profiles *profile.Reader, limiter *ratelimit.Limiter, nc *messaging.Client, userID string) {
	allowed, _ := limiter.Allow(ctx, userID, ratelimit.RuleJoin)
	if !allowed {
		log.Printf("[engine] join rate limited for %s", userID)
		return
	}

	now := time.Now()
	prof, err := profiles.Get(ctx, userID)
	if err != nil {
		log.Printf("[engine] profile lookup for %s: %v", userID, err)
		nc.PublishMatchFound(userID, messaging.MatchFound{Failed: true})
		metrics.JoinsTotal.WithLabelValues("error").Inc()
		return
	}
	if prof == nil || !prof.Gender.Valid {
		log.Printf("[engine] join rejected for %s: no profile or gender unset", userID)
		nc.PublishMatchFound(userID, messaging.MatchFound{Failed: true})
		metrics.JoinsTotal.WithLabelValues("error").Inc()
		return
	}
	if prof.Banned(now) {
		log.Printf("[engine] join rejected for banned user %s", userID)
		return
	}

	result, err := eng.Join(ctx, userID, prof.Gender.String, prof.SearchGender, prof.Priority(now))
	if err != nil {
		log.Printf("[engine] join %s: %v", userID, err)
		nc.PublishMatchFound(userID, messaging.MatchFound{Failed: true})
		metrics.JoinsTotal.WithLabelValues("error").Inc()
		return
	}

	if !result.Matched() {
		metrics.JoinsTotal.WithLabelValues("queued").Inc()
		log.Printf("[engine] enqueued %s (gender=%s filter=%s vip=%v)",
			userID, prof.Gender.String, prof.SearchGender, prof.Priority(now))
		return
	}

	pairID := uuid.New().String()
	kind := metrics.MatchHuman
	if result.Rescued {
		kind = metrics.MatchRescue
	}
	metrics.JoinsTotal.WithLabelValues("matched").Inc()
	metrics.MatchesTotal.WithLabelValues(kind).Inc()

	if err := nc.PublishMatchFound(userID, messaging.MatchFound{
		PairID:    pairID,
		PartnerID: result.PartnerID,
		Rescued:   result.Rescued,
	}); err != nil {
		log.Printf("[engine] publish match for %s: %v", userID, err)
	}
	if err := nc.PublishMatchFound(result.PartnerID, messaging.MatchFound{
		PairID:      pairID,
		PartnerID:   userID,
		RescuedFrom: result.Rescued,
	}); err != nil {
		log.Printf("[engine] publish match for %s: %v", result.PartnerID, err)
	}

	log.Printf("[engine] matched pair=%s a=%s b=%s kind=%s", pairID, userID, result.PartnerID, kind)
}

// refreshGauges periodically samples queue depth and AI session counts.
func refreshGauges(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := eng.Queues().TotalWaiting(ctx); err == nil {
				metrics.QueueSize.Set(float64(n))
			}
			if n, err := eng.Registry().AICount(ctx); err == nil {
				metrics.AISessions.Set(float64(n))
			}
		}
	}
}
