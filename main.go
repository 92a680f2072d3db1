package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/meridianlabs/pinpoint/internal/activities"
	cfg "github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/constants"
	"github.com/meridianlabs/pinpoint/internal/httpapi"
	_ "github.com/meridianlabs/pinpoint/internal/metrics" // register collectors
	"github.com/meridianlabs/pinpoint/internal/reasoning"
	"github.com/meridianlabs/pinpoint/internal/server"
	"github.com/meridianlabs/pinpoint/internal/temporal"
	"github.com/meridianlabs/pinpoint/internal/workflows"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	conf, err := cfg.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	apiKey := os.Getenv("REASONING_API_KEY")
	if apiKey == "" {
		logger.Fatal("REASONING_API_KEY is not set")
	}

	// Single configured reasoning client, shared by every concurrent
	// request and passed explicitly to the components that need it.
	reasoningClient := reasoning.NewGeminiClient(conf.Reasoning, conf.Breaker, apiKey, logger)
	acts := activities.New(reasoningClient, conf.Pipeline, logger)

	// Admin HTTP endpoints come up early so health answers while the
	// Temporal worker is still connecting.
	health := httpapi.NewHealthHandler()
	mux := http.NewServeMux()
	health.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	adminServer := &http.Server{
		Addr:         ":" + strconv.Itoa(conf.Service.AdminPort),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // analyses block on the workflow result
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", conf.Service.AdminPort))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	temporalClient := dialTemporal(conf.Service.TemporalHost, logger)
	defer temporalClient.Close()

	svc := server.NewService(temporalClient, conf, logger)
	httpapi.NewAnalyzeHandler(svc, logger).RegisterRoutes(mux)

	w := worker.New(temporalClient, conf.Service.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     conf.Service.WorkerAct,
		MaxConcurrentWorkflowTaskExecutionSize: conf.Service.WorkerWF,
	})
	w.RegisterWorkflow(workflows.GeolocateWorkflow)
	w.RegisterWorkflow(workflows.RefineWorkflow)
	w.RegisterActivityWithOptions(acts.RunRegionExpert, activity.RegisterOptions{Name: constants.RunRegionExpertActivity})
	w.RegisterActivityWithOptions(acts.RunClueExpert, activity.RegisterOptions{Name: constants.RunClueExpertActivity})
	w.RegisterActivityWithOptions(acts.VerifyLocation, activity.RegisterOptions{Name: constants.VerifyLocationActivity})
	w.RegisterActivityWithOptions(acts.RefineLocation, activity.RegisterOptions{Name: constants.RefineLocationActivity})

	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start Temporal worker", zap.Error(err))
	}
	health.SetReady(true)
	logger.Info("Worker started",
		zap.String("task_queue", conf.Service.TaskQueue),
		zap.String("strategy", conf.Pipeline.Strategy),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down")

	health.SetReady(false)
	w.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = adminServer.Shutdown(shutdownCtx)
}

// dialTemporal waits for the Temporal frontend, first with a TCP
// pre-check and then with SDK dial retries.
func dialTemporal(host string, logger *zap.Logger) client.Client {
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", host), zap.Int("attempt", i))
		time.Sleep(time.Second)
	}
	for attempt := 1; ; attempt++ {
		c, err := client.Dial(client.Options{
			HostPort: host,
			Logger:   temporal.NewZapAdapter(logger),
		})
		if err == nil {
			return c
		}
		delay := time.Duration(attempt) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", host),
			zap.Error(err),
		)
		time.Sleep(delay)
	}
}
