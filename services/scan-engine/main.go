package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	corelog "github.com/swarmguard/libs/go/core/logging"
	"github.com/swarmguard/libs/go/core/natsctx"
	"github.com/swarmguard/libs/go/core/otelinit"
	"github.com/swarmguard/libs/go/core/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/hyperscan"
	"github.com/swarmguard/scan-engine/engine"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	service := "scan-engine"
	corelog.Init(service)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, service)

	if err := hyperscan.ValidPlatform(); err != nil {
		slog.Error("host cannot run hyperscan", "error", err)
		os.Exit(1)
	}
	slog.Info("hyperscan runtime", "version", hyperscan.Version())

	ruleDir := envOr("SCAN_RULE_DIR", "./rules")
	store := engine.NewRuleStore(ruleDir, 3*time.Second)
	if err := store.Reload(); err != nil {
		slog.Error("initial rule load failed", "error", err)
		os.Exit(1)
	}

	var cache *engine.DBCache
	if path := os.Getenv("SCAN_DB_CACHE"); path != "" {
		c, err := engine.OpenDBCache(path)
		if err != nil {
			slog.Warn("db cache unavailable, compiling cold", "error", err)
		} else {
			cache = c
			defer cache.Close()
		}
	}

	// metrics instruments
	meter := otel.Meter("swarm-go")
	matchCounter, _ := meter.Int64Counter("swarm_scan_match_total")
	latencyHist, _ := meter.Float64Histogram("swarm_scan_duration_seconds")
	bytesHist, _ := meter.Int64Histogram("swarm_scan_bytes")
	reloadCounter, _ := meter.Int64Counter("swarm_scan_reloads_total")
	buildDur, _ := meter.Float64Histogram("swarm_scan_db_build_seconds")
	scanErrors, _ := meter.Int64Counter("swarm_scan_errors_total")
	scanActive, _ := meter.Int64UpDownCounter("swarm_scan_active")
	dedupHits, _ := meter.Int64Counter("swarm_scan_dedup_hits_total")
	publishErrors, _ := meter.Int64Counter("swarm_scan_publish_errors_total")

	dedup := engine.NewDedup(4096, 30*time.Second)

	// lock-free engine hot swap; old engines close after a grace period so
	// in-flight scans drain first (a late use reports an error, never
	// corruption)
	var active atomic.Value // *engine.Engine
	var builtHash atomic.Value
	builtHash.Store("")
	rebuild := func() error {
		t0 := time.Now()
		eng, err := engine.Build(store.All(), store.Version(), store.Hash(), cache)
		if err != nil {
			return err
		}
		builtHash.Store(store.Hash())
		buildDur.Record(ctx, time.Since(t0).Seconds())
		old, _ := active.Swap(eng).(*engine.Engine)
		if old != nil {
			// Verdicts cached against the replaced engine carry its ruleset
			// version; drop them with it.
			dedup.Flush()
			time.AfterFunc(10*time.Second, func() { _ = old.Close() })
		}
		slog.Info("engine swapped", "rules", eng.RuleCount(), "version", eng.Version(),
			"db_bytes", eng.DatabaseSize(), "build", time.Since(t0).String())
		return nil
	}
	if err := rebuild(); err != nil {
		slog.Error("initial engine build failed", "error", err)
		os.Exit(1)
	}
	if err := engine.RegisterRuleCountGauge(meter, func() int64 {
		if eng, _ := active.Load().(*engine.Engine); eng != nil {
			return int64(eng.RuleCount())
		}
		return 0
	}); err != nil {
		slog.Warn("rule count gauge unavailable", "error", err)
	}

	reload := func(trigger string) error {
		if err := store.Reload(); err != nil {
			reloadCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("status", "failure"), attribute.String("trigger", trigger)))
			return err
		}
		if builtHash.Load().(string) == store.Hash() {
			return nil // unchanged
		}
		if err := rebuild(); err != nil {
			reloadCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("status", "failure"), attribute.String("trigger", trigger)))
			return err
		}
		reloadCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", "success"), attribute.String("trigger", trigger)))
		return nil
	}

	// NATS match event publishing, retried behind a breaker
	var nc *nats.Conn
	if url := os.Getenv("SCAN_NATS_URL"); url != "" {
		conn, err := nats.Connect(url, nats.Name(service), nats.MaxReconnects(-1))
		if err != nil {
			slog.Warn("nats connect failed, match events disabled", "error", err)
		} else {
			nc = conn
			defer nc.Drain()
		}
	}
	subject := envOr("SCAN_NATS_SUBJECT", "swarm.scan.match")
	breaker := resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 10, 0.5, 5*time.Second, 2)
	publish := func(ctx context.Context, matches []engine.Match) {
		if nc == nil || len(matches) == 0 {
			return
		}
		if !breaker.Allow() {
			publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "breaker_open")))
			return
		}
		payload, err := json.Marshal(matches)
		if err != nil {
			return
		}
		_, err = resilience.Retry(ctx, 3, 50*time.Millisecond, func() (struct{}, error) {
			return struct{}{}, natsctx.Publish(ctx, nc, subject, payload)
		})
		breaker.RecordResult(err == nil)
		if err != nil {
			publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "publish")))
			slog.Warn("match publish failed", "error", err)
		}
	}

	limiter := resilience.NewRateLimiter(200, 100, time.Second, 0)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/scan", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !limiter.Allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			scanErrors.Add(r.Context(), 1)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		eng, _ := active.Load().(*engine.Engine)
		if eng == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		scanActive.Add(r.Context(), 1)
		defer scanActive.Add(r.Context(), -1)

		sctx, endSpan := otelinit.WithSpan(r.Context(), "scan-engine.scan")
		defer endSpan()

		if r.URL.Query().Get("verdict") == "1" {
			found, err := eng.ScanAny(sctx, body)
			if err != nil {
				scanErrors.Add(sctx, 1)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			latencyHist.Record(sctx, time.Since(start).Seconds())
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]bool{"match": found})
			return
		}

		matches, cached := dedup.Lookup(body)
		if cached {
			dedupHits.Add(sctx, 1)
		} else {
			matches, err = eng.Scan(sctx, body)
			if err != nil {
				scanErrors.Add(sctx, 1)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			dedup.Store(body, matches)
			go publish(context.WithoutCancel(sctx), matches)
		}
		for _, m := range matches {
			attrs := metric.WithAttributes(attribute.String("severity", m.Severity))
			matchCounter.Add(sctx, 1, attrs)
		}
		bytesHist.Record(sctx, int64(len(body)))
		latencyHist.Record(sctx, time.Since(start).Seconds())
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Ruleset-Version", eng.Version())
		if matches == nil {
			matches = []engine.Match{}
		}
		_ = json.NewEncoder(w).Encode(matches)
	})
	reloadHandler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		t0 := time.Now()
		if err := reload("http"); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":           "ok",
			"duration_seconds": time.Since(t0).Seconds(),
			"rules":            len(store.All()),
			"version":          store.Version(),
		})
	}
	mux.HandleFunc("/reload", reloadHandler)
	mux.HandleFunc("/v1/rules/reload", reloadHandler)
	mux.HandleFunc("/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"version": store.Version(), "rules": store.All()})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		eng, _ := active.Load().(*engine.Engine)
		st := map[string]any{
			"rules":      len(store.All()),
			"version":    store.Version(),
			"goroutines": runtime.NumGoroutine(),
			"dedup":      dedup.Len(),
			"hyperscan":  hyperscan.Version(),
		}
		if eng != nil {
			st["db_bytes"] = eng.DatabaseSize()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})

	// rule directory watcher (debounced) plus cron fallback for missed events
	go func() {
		if err := engine.WatchDir(ctx, ruleDir, 500*time.Millisecond, func() {
			if err := reload("fsnotify"); err != nil {
				slog.Warn("watch-triggered reload failed", "error", err)
			}
		}); err != nil {
			slog.Warn("rule watcher unavailable", "error", err)
		}
	}()
	sched := cron.New(cron.WithSeconds())
	if _, err := sched.AddFunc(envOr("SCAN_REFRESH_CRON", "0 */5 * * * *"), func() {
		if err := reload("cron"); err != nil {
			slog.Warn("scheduled reload failed", "error", err)
		}
	}); err != nil {
		slog.Warn("invalid SCAN_REFRESH_CRON", "error", err)
	}
	sched.Start()

	srv := &http.Server{Addr: envOr("SCAN_LISTEN_ADDR", ":8080"), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	slog.Info("service started", "addr", srv.Addr, "rules", len(store.All()))
	<-ctx.Done()
	slog.Info("shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = srv.Shutdown(ctxSd)
	<-sched.Stop().Done()
	if eng, _ := active.Load().(*engine.Engine); eng != nil {
		_ = eng.Close()
	}
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("shutdown complete")
}
