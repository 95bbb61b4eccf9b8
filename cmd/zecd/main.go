// Command zecd runs a checkpoint-verifying Zcash node: it joins the
// libp2p network, gates every block it sees through a checkpoint
// verifier before admitting it to local storage, and serves the result
// over HTTP and a websocket indexer feed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zecwire/zecd/internal/config"
	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/checkpoint"
	"github.com/zecwire/zecd/pkg/consensus"
	"github.com/zecwire/zecd/pkg/metrics"
	"github.com/zecwire/zecd/pkg/p2p"
	"github.com/zecwire/zecd/pkg/rpc"
	"github.com/zecwire/zecd/pkg/store"
)

func main() {
	cmd := config.NewRootCommand(run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logger.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	list, err := loadCheckpointList(cfg, log)
	if err != nil {
		return fmt.Errorf("zecd: %w", err)
	}
	log.WithFields(logger.Fields{
		"network":        cfg.Network,
		"max_checkpoint": list.MaxHeight(),
	}).Info("checkpoint list loaded")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("zecd: create data dir: %w", err)
	}
	db, err := store.Open(cfg.DataDir+"/blocks.db", log)
	if err != nil {
		return fmt.Errorf("zecd: open block store: %w", err)
	}
	defer db.Close()

	pipeline := consensus.NewDefaultPipeline(log, db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	indexer := rpc.NewIndexer(log)
	broadcaster := rpc.NewProgressBroadcaster(indexer)

	verifier := checkpoint.New(
		list,
		log,
		checkpoint.WithPipeline(pipeline),
		checkpoint.WithObserver(checkpoint.MultiObserver{collector, broadcaster}),
	)
	defer verifier.Close()

	host, err := p2p.NewHost(ctx, cfg.ListenPort, cfg.BootstrapPeers, p2p.P2PConfig{Network: cfg.Network, MaxPeers: cfg.MaxPeers}, log)
	if err != nil {
		return fmt.Errorf("zecd: create p2p host: %w", err)
	}
	defer host.Close()

	ps, err := pubsub.NewGossipSub(ctx, host.GetHost())
	if err != nil {
		return fmt.Errorf("zecd: create pubsub: %w", err)
	}

	scorer := p2p.NewPeerScoring(ctx, p2p.QuarantineThreshold, p2p.BanThreshold, log)
	defer scorer.Close()

	gossip, err := p2p.NewBlockGossip(ctx, host.GetHost(), ps, verifier, scorer, db, log)
	if err != nil {
		return fmt.Errorf("zecd: start block gossip: %w", err)
	}
	defer gossip.Close()

	distributor, err := p2p.NewCheckpointDistributor(ctx, host.GetHost(), ps, cfg.IPFSAPIAddr, string(cfg.Network), log, func(ann p2p.CheckpointAnnouncement) {
		log.WithFields(logger.Fields{"cid": ann.CID, "max_height": ann.MaxHeight}).
			Info("peer announced a newer checkpoint snapshot; operator should review before adopting")
	})
	if err != nil {
		return fmt.Errorf("zecd: start checkpoint distributor: %w", err)
	}
	defer distributor.Close()

	rpcServer := rpc.NewServer(verifier, db, indexer, log, cfg.RPCRateLimit, cfg.RPCBurst)
	httpServer := &http.Server{Addr: cfg.RPCListenAddr, Handler: rpcServer.Handler()}
	go func() {
		log.WithField("addr", cfg.RPCListenAddr).Info("rpc server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("rpc server stopped")
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.MetricsListenAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: cfg.MetricsListenAddr, Handler: metricsMux}
		go func() {
			log.WithField("addr", cfg.MetricsListenAddr).Info("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	log.WithFields(logger.Fields{"peer_id": host.ID().String(), "addrs": host.Addrs()}).Info("zecd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return nil
}

func loadCheckpointList(cfg *config.Config, log *logger.Logger) (*checkpoint.List, error) {
	if cfg.CheckpointFile != "" {
		return checkpoint.LoadListFromFile(cfg.CheckpointFile)
	}
	log.WithField("cid", cfg.CheckpointIPFSCID).Info("fetching checkpoint snapshot from ipfs")
	return p2p.FetchCheckpointSnapshot(cfg.IPFSAPIAddr, cfg.CheckpointIPFSCID)
}
