// Executor
//
// Standalone process that serves the rate-limited asynchronous action
// executor: accepts events over HTTP (and, optionally, a message broker),
// admits and retries their calls against a configured model endpoint, and
// exposes their status and an execution log.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.lionforge.dev/internal/config"
	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/executor"
	"go.lionforge.dev/internal/httpapi"
	"go.lionforge.dev/internal/ingest"
	"go.lionforge.dev/internal/logsink"
	"go.lionforge.dev/internal/processor"
	"go.lionforge.dev/internal/ratelimit"
	"go.lionforge.dev/internal/retry"
	"go.lionforge.dev/internal/transport"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("EXECUTOR_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting executor", "version", version, "build_time", buildTime)

	cfg, err := config.LoadWithFile()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := buildLogSink(ctx, cfg)
	if err != nil {
		slog.Error("failed to build log sink", "error", err)
		os.Exit(1)
	}
	if sink != nil {
		defer sink.Close()
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		LimitRequests: nonZeroOrUnbounded(cfg.RateLimit.LimitRequests),
		LimitTokens:   nonZeroOrUnbounded(cfg.RateLimit.LimitTokens),
		Interval:      cfg.RateLimit.Interval,
	})
	if err != nil {
		slog.Error("failed to construct rate limiter", "error", err)
		os.Exit(1)
	}
	softLimiter := ratelimit.NewSoftLimiter(cfg.RateLimit.SoftRatePerSecond, cfg.RateLimit.SoftBurst)

	var breaker *gobreaker.CircuitBreaker
	if cfg.Retry.CircuitBreakerEnabled {
		breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "executor-invoke",
			MaxRequests: cfg.Retry.CircuitBreakerFailureThreshold,
			Timeout:     cfg.Retry.CircuitBreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.Retry.CircuitBreakerFailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
			},
		})
	}

	policy, err := retry.New(retry.Config{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		Breaker:    breaker,
	})
	if err != nil {
		slog.Error("failed to construct retry policy", "error", err)
		os.Exit(1)
	}

	caller := transport.NewHTTPCaller(cfg.Model.TargetURL, transport.Config{
		Timeout:                   cfg.Model.Timeout,
		Version:                   transport.Version2,
		CircuitBreakerEnabled:     cfg.Retry.CircuitBreakerEnabled,
		CircuitBreakerRequests:    cfg.Retry.CircuitBreakerFailureThreshold,
		CircuitBreakerInterval:    60 * time.Second,
		CircuitBreakerRatio:       0.5,
		CircuitBreakerTimeout:     cfg.Retry.CircuitBreakerOpenTimeout,
		CircuitBreakerMinRequests: cfg.Retry.CircuitBreakerFailureThreshold,
	})

	invoker := &transport.Invoker{Policy: policy, Limiter: limiter}

	invoke := func(ctx context.Context, e *event.Event) {
		invoker.Invoke(ctx, e)
		if sink != nil {
			logTerminal(ctx, sink, e)
		}
	}

	exec, err := executor.New(executor.Config{
		Processor: processor.Config{
			QueueCapacity:       cfg.Executor.QueueCapacity,
			ConcurrencyLimit:    cfg.Executor.ConcurrencyLimit,
			CapacityRefreshTime: cfg.Executor.CapacityRefreshTime,
			RequestPermission: func(e *event.Event) bool {
				if limiter.ExceedsBudget(e.RequiredTokens, e.EstimatedOutputTokens) {
					failRequestExceedsBudget(e)
					return true
				}
				if !softLimiter.Allow() {
					return false
				}
				return limiter.AdmitAndReserve(time.Now(), e.RequiredTokens, e.EstimatedOutputTokens)
			},
			Logger: logger,
		},
		Invoke: invoke,
		Logger: logger,
	})
	if err != nil {
		slog.Error("failed to construct executor", "error", err)
		os.Exit(1)
	}

	if err := exec.Start(); err != nil {
		slog.Error("failed to start executor", "error", err)
		os.Exit(1)
	}
	defer exec.Stop()

	go exec.RunReplenisher(ctx, cfg.RateLimit.Interval, func(queueLen int) {
		limiter.ReleaseExpired(time.Now())
	})

	go runForwardLoop(ctx, exec, cfg.Executor.CapacityRefreshTime, logger)

	source, err := buildIngestSource(ctx, cfg, exec, caller, logger)
	if err != nil {
		slog.Error("failed to construct ingest source", "error", err)
		os.Exit(1)
	}
	if source != nil {
		go source.Run(ctx)
		defer source.Close()
	}

	newEvent := func(req httpapi.AppendRequest) *event.Event {
		return event.New(caller.Call, req.RequiredTokens, req.EstimatedOutputTokens, req.Payload, req.Headers)
	}
	apiServer := httpapi.NewServer(exec, newEvent, cfg.HTTP.CORSOrigins)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", handleHealthz)
	r.Mount("/", apiServer.Routes())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server forced to shutdown", "error", err)
	}

	slog.Info("executor stopped")
}

// runForwardLoop drives Executor.Forward on the processor's own cadence,
// moving newly appended events into the Processor's queue and running a
// scheduling cycle each tick.
func runForwardLoop(ctx context.Context, exec *executor.Executor, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := exec.Forward(ctx); err != nil {
				logger.Error("forward cycle failed", "error", err)
			}
		}
	}
}

// logTerminal records a completed or failed event to the configured sink.
// Events still Pending/Processing are not logged.
func logTerminal(ctx context.Context, sink logsink.Sink, e *event.Event) {
	status := e.Status()
	if status != event.Completed && status != event.Failed {
		return
	}
	snap := e.ToSnapshot()
	record := logsink.Record{
		ID:        snap.ID,
		CreatedAt: snap.CreatedAt,
		Status:    snap.Status,
		Duration:  snap.Duration,
		Response:  snap.Response,
		Error:     snap.Error,
	}
	if err := sink.Log(ctx, record); err != nil {
		slog.Error("failed to log terminal event", "event_id", snap.ID, "error", err)
	}
}

func buildLogSink(ctx context.Context, cfg *config.Config) (logsink.Sink, error) {
	if !cfg.LogSink.Enabled {
		return nil, nil
	}
	switch cfg.LogSink.Kind {
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		db := client.Database(cfg.MongoDB.Database)
		sink := logsink.NewMongoSink(db, cfg.LogSink.Collection)
		if err := sink.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return sink, nil
	default:
		format := logsink.FormatJSON
		if cfg.LogSink.Format == "csv" {
			format = logsink.FormatCSV
		}
		return logsink.NewFileSink(logsink.FileConfig{
			Dir:              cfg.LogSink.Dir,
			Prefix:           cfg.LogSink.Prefix,
			Format:           format,
			IncludeTimestamp: true,
			AutoSave:         cfg.LogSink.AutoSave,
		})
	}
}

// ingestSource is the subset of internal/ingest's Run/Close surface main
// needs, satisfied by both NATSSource and SQSSource.
type ingestSource interface {
	Run(ctx context.Context) error
	Close() error
}

func buildIngestSource(ctx context.Context, cfg *config.Config, exec *executor.Executor, caller *transport.HTTPCaller, logger *slog.Logger) (ingestSource, error) {
	translate := func(body []byte) (*event.Event, error) {
		return translateIngestMessage(body, caller)
	}

	switch cfg.Ingest.Source {
	case "nats":
		return ingest.NewNATSSource(ingest.NATSConfig{
			URL:           cfg.Ingest.NATS.URL,
			StreamName:    "EXECUTOR",
			ConsumerName:  "executor-worker",
			FilterSubject: cfg.Ingest.NATS.Subject,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
		}, translate, exec, logger)
	case "sqs":
		return ingest.NewSQSSource(ctx, ingest.SQSConfig{
			QueueURL:            cfg.Ingest.SQS.QueueURL,
			Region:              cfg.Ingest.SQS.Region,
			WaitTimeSeconds:     int32(cfg.Ingest.SQS.WaitTimeSeconds),
			VisibilityTimeout:   int32(cfg.Ingest.SQS.VisibilityTimeout),
			MaxNumberOfMessages: 10,
		}, translate, exec, logger)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ingest source %q", cfg.Ingest.Source)
	}
}

// translateIngestMessage decodes a broker message body into a pending
// Event. The body is the JSON-encoded httpapi.AppendRequest shape.
func translateIngestMessage(body []byte, caller *transport.HTTPCaller) (*event.Event, error) {
	req, err := httpapi.DecodeAppendRequest(body)
	if err != nil {
		return nil, err
	}
	return event.New(caller.Call, req.RequiredTokens, req.EstimatedOutputTokens, req.Payload, req.Headers), nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// failRequestExceedsBudget transitions e straight to FAILED without ever
// invoking its call, for a request whose declared cost can never be
// admitted under the configured token budget. Process's own MarkProcessing
// call then observes the already-terminal status and drops e from that
// cycle.
func failRequestExceedsBudget(e *event.Event) {
	if event.MarkProcessing(e) {
		event.FailWith(e, "required and estimated tokens exceed the configured token budget", 0)
	}
}

// nonZeroOrUnbounded translates the config convention (0 means unbounded)
// into ratelimit's *int convention (nil means unbounded).
func nonZeroOrUnbounded(v int) *int {
	if v <= 0 {
		return ratelimit.Unbounded()
	}
	return ratelimit.IntPtr(v)
}
