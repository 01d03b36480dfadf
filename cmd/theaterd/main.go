// Command theaterd wires the core Theater Runtime to a process: a
// BadgerDB-backed blobstore, a wazero embedder, Prometheus metrics on
// /metrics, and the JSON control-plane envelope. Manifest loading from disk
// and any CLI/TUI surface live in separate front-end tooling; this binary
// exists to run the runtime itself, not to be a complete operator tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weisyn/theater/internal/blobstore"
	"github.com/weisyn/theater/internal/controlplane"
	"github.com/weisyn/theater/internal/embedder"
	"github.com/weisyn/theater/internal/handler"
	"github.com/weisyn/theater/internal/log"
	"github.com/weisyn/theater/internal/manifest"
	"github.com/weisyn/theater/internal/metrics"
	"github.com/weisyn/theater/internal/supervisor"
	"github.com/weisyn/theater/internal/theater"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "./data/blobstore", "badger data directory for the blobstore")
		metricsAddr = flag.String("metrics-addr", ":9090", "listen address for the /metrics endpoint")
		logLevel    = flag.String("log-level", "info", "debug|info|warn|error")
		minBackoff  = flag.Duration("restart-min-backoff", time.Second, "minimum delay before a restarted actor's next restart")
		maxFailures = flag.Int("restart-max-failures", 5, "consecutive failures before a lineage stops restarting, 0 = unbounded")
	)
	flag.Parse()

	logger := log.Must(log.Options{Level: *logLevel, OutputPath: "stdout"})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := blobstore.OpenBadgerStore(*dataDir, logger)
	if err != nil {
		logger.Fatal("theaterd: open blobstore", log.Err(err))
	}

	emb, err := embedder.NewWazeroEmbedder(ctx, logger, embedder.Config{UseCompiler: true})
	if err != nil {
		logger.Fatal("theaterd: init embedder", log.Err(err))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	rt := theater.New(theater.Config{
		Handlers:  handler.NewRegistry(),
		Embedder:  emb,
		Blobstore: store,
		Resolver:  manifest.BlobstoreResolver{Store: store},
		RestartPolicy: supervisor.RestartPolicy{
			MinBackoff:             *minBackoff,
			MaxConsecutiveFailures: *maxFailures,
		},
		Logger:  logger,
		Metrics: m,
	})

	cp := controlplane.New(rt, 0)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("theaterd: metrics server", log.Err(err))
		}
	}()

	go func() {
		for ev := range cp.Events() {
			logger.Debug("theaterd: actor event", log.String("actor", ev.ActorID), log.String("event_type", ev.Event.EventType))
		}
	}()

	logger.Info("theaterd: runtime started", log.String("metrics_addr", *metricsAddr), log.String("data_dir", *dataDir))
	fmt.Fprintf(os.Stderr, "theaterd running; metrics on %s/metrics\n", *metricsAddr)

	rt.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Info("theaterd: stopped")
}
