package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/config"
	"github.com/driftchat/drift/internal/messaging"
	"github.com/driftchat/drift/internal/profile"
	"github.com/driftchat/drift/internal/ratelimit"
	"github.com/driftchat/drift/internal/report"
)

func main() {
	log.Println("Starting Drift moderation service...")

	cfg := config.Load()

	// --- Redis (report throttling only) ---
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

	// --- PostgreSQL ---
	db, err := profile.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	reports := report.NewStore(db)
	limiter := ratelimit.NewLimiter(rdb)

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "drift-moderator"
	nc, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	ctx := context.Background()

	err = nc.SubscribeReport(func(data []byte) {
		var req messaging.ReportRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[moderator] invalid report: %v", err)
			return
		}

		allowed, _ := limiter.Allow(ctx, req.ReporterID, ratelimit.RuleReport)
		if !allowed {
			log.Printf("[moderator] report rate limited for %s", req.ReporterID)
			return
		}

		reporterID, err1 := strconv.ParseInt(req.ReporterID, 10, 64)
		reportedID, err2 := strconv.ParseInt(req.ReportedID, 10, 64)
		if err1 != nil || err2 != nil {
			log.Printf("[moderator] report with non-numeric ids: %q -> %q", req.ReporterID, req.ReportedID)
			return
		}

		outcome, err := reports.File(ctx, reporterID, reportedID, req.Reason)
		if err != nil {
			log.Printf("[moderator] file report against %d: %v", reportedID, err)
			return
		}

		if outcome.Permanent {
			log.Printf("[moderator] PERMANENT ban for %d (strikes=%d reason=%s)", reportedID, outcome.Strikes, req.Reason)
		} else if outcome.Banned {
			log.Printf("[moderator] banned %d for %s (strikes=%d reason=%s)", reportedID, outcome.Duration, outcome.Strikes, req.Reason)
		} else {
			log.Printf("[moderator] strike %d recorded for %d (reason=%s)", outcome.Strikes, reportedID, req.Reason)
		}

		// A banned user may already be waiting in a queue; the engine's
		// cancel path is the only allowed queue mutation from outside.
		if outcome.Banned {
			if err := nc.PublishEvict(req.ReportedID, req.Reason); err != nil {
				log.Printf("[moderator] publish evict for %s: %v", req.ReportedID, err)
			}
		}
	})
	if err != nil {
		log.Fatalf("subscribe reports: %v", err)
	}

	log.Printf("Drift moderation service running")
	log.Printf("  nats_url: %s", cfg.NATSURL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	nc.Close()
	db.Close()
	rdb.Close()
}
