// Command preconf-node runs a standalone preconfirmation gossip peer: it
// joins the commitments and raw-txlist gossip topics for a chain, answers
// the three req/resp protocols from local state, and logs every driver
// event as it arrives.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	plog "github.com/taikoxyz/preconf-net/internal/log"
	"github.com/taikoxyz/preconf-net/internal/p2p"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.App{
		Name:    "preconf-node",
		Usage:   "preconfirmation gossip p2p node",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "listen", Value: cli.NewStringSlice("/ip4/0.0.0.0/tcp/0"), Usage: "libp2p listen multiaddr, repeatable"},
			&cli.StringSliceFlag{Name: "bootnode", Usage: "bootnode multiaddr to dial at startup, repeatable"},
			&cli.Uint64Flag{Name: "chain-id", Required: true, Usage: "chain ID namespacing gossip topics and protocols"},
			&cli.BoolFlag{Name: "no-discovery", Usage: "disable mDNS peer discovery"},
			&cli.Float64Flag{Name: "reputation-greylist", Value: -1.0, Usage: "score at or below which a peer is greylisted"},
			&cli.Float64Flag{Name: "reputation-ban", Value: -5.0, Usage: "score at or below which a peer is banned"},
			&cli.Int64Flag{Name: "reputation-halflife-secs", Value: 600, Usage: "reputation decay halflife in seconds"},
			&cli.Int64Flag{Name: "reputation-ban-secs", Value: 3600, Usage: "ban duration in seconds"},
			&cli.Int64Flag{Name: "request-window-secs", Value: 60, Usage: "rate limiter window in seconds"},
			&cli.UintFlag{Name: "max-requests-per-window", Value: 120, Usage: "max requests per peer per window"},
			&cli.StringFlag{Name: "expected-signer", Usage: "20-byte hex address expected to sign commitments"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, or error"},
			&cli.StringFlag{Name: "metrics-addr", Value: "127.0.0.1:9090", Usage: "address to serve Prometheus metrics on"},
		},
		Action: mainAction,
	}

	if err := app.Run(args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func mainAction(c *cli.Context) error {
	level, err := parseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logger := plog.New(level)
	plog.SetDefault(logger)

	cfg := p2p.DefaultConfig()
	cfg.ChainID = c.Uint64("chain-id")
	cfg.ListenAddrs = c.StringSlice("listen")
	cfg.Bootnodes = c.StringSlice("bootnode")
	cfg.DisableDiscovery = c.Bool("no-discovery")
	cfg.Reputation.GreylistThreshold = p2p.Score(c.Float64("reputation-greylist"))
	cfg.Reputation.BanThreshold = p2p.Score(c.Float64("reputation-ban"))
	cfg.Reputation.Halflife = time.Duration(c.Int64("reputation-halflife-secs")) * time.Second
	cfg.Reputation.BanDuration = time.Duration(c.Int64("reputation-ban-secs")) * time.Second
	cfg.RateLimit.Window = time.Duration(c.Int64("request-window-secs")) * time.Second
	cfg.RateLimit.MaxRequests = uint32(c.Uint("max-requests-per-window"))

	if s := c.String("expected-signer"); s != "" {
		addr, err := parseAddress(s)
		if err != nil {
			return fmt.Errorf("invalid --expected-signer: %w", err)
		}
		cfg.ExpectedSigner = addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	swarm, err := p2p.NewLibp2pSwarm(ctx, cfg.ChainID, cfg.ListenAddrs, cfg.ReqResp, cfg.DisableDiscovery, logger)
	if err != nil {
		return fmt.Errorf("start swarm: %w", err)
	}
	defer swarm.Close()

	for _, addr := range cfg.ListenAddrs {
		logger.Info("listening", "addr", addr)
	}
	for _, h := range swarm.Host().Addrs() {
		logger.Info("advertising address", "addr", fmt.Sprintf("%s/p2p/%s", h, swarm.Host().ID()))
	}

	reputation := p2p.NewReputationStore(cfg.Reputation)
	limiter := p2p.NewRateLimiter(cfg.RateLimit)
	lookahead := p2p.StaticLookaheadResolver{Signer: cfg.ExpectedSigner, SlotLength: cfg.SlotLength}
	validator := p2p.LookaheadValidationAdapter{Lookahead: lookahead, Inner: p2p.NullValidator{}}
	responder := p2p.NullResponder{}

	metrics := p2p.NewMetrics("")
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	driver := p2p.NewDriver(cfg.ChainID, swarm, swarm, reputation, limiter, validator, responder, metrics, logger)

	for _, raw := range cfg.Bootnodes {
		if err := swarm.Dial(ctx, raw); err != nil {
			logger.Warn("bootnode dial failed", "addr", raw, "err", err)
		}
	}

	metricsSrv := &http.Server{Addr: c.String("metrics-addr"), Handler: metricsHandler(reg)}

	// The driver loop, the event logger, and the metrics server are
	// supervised together: cancelling ctx (on signal) unwinds all three, and
	// any one of them returning an error tears down the others.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		driver.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logEvents(gctx, driver, logger)
		return nil
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	respCh := make(chan p2p.RequestHeadResult, 1)
	driver.Commands() <- p2p.RequestHead{RespondTo: respCh}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("signal received, shutting down")
	case <-gctx.Done():
		logger.Warn("a supervised task exited, shutting down")
	}
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func logEvents(ctx context.Context, driver *p2p.Driver, logger *plog.Logger) {
	log := logger.Module("event")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-driver.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case p2p.PeerConnected:
				log.Info("peer connected", "peer", e.Peer)
			case p2p.PeerDisconnected:
				log.Info("peer disconnected", "peer", e.Peer)
			case p2p.CommitmentGossipReceived:
				log.Info("commitment received", "peer", e.Peer, "block", e.Commitment.Commitment.BlockNumber)
			case p2p.RawTxListGossipReceived:
				log.Info("raw tx list received", "peer", e.Peer, "anchor", e.List.AnchorBlockNumber)
			case p2p.CommitmentsRequested:
				log.Info("commitments requested", "peer", e.Peer, "start", e.StartBlockNumber)
			case p2p.RawTxListRequested:
				log.Info("raw tx list requested", "peer", e.Peer)
			case p2p.HeadRequested:
				log.Info("head requested", "peer", e.Peer)
			case p2p.Error:
				log.Warn("driver error", "err", e.Err)
			case p2p.Stopped:
				log.Info("driver stopped")
				return
			}
		}
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func parseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return addr, err
	}
	if len(b) != 20 {
		return addr, errors.New("address must be 20 bytes")
	}
	copy(addr[:], b)
	return addr, nil
}
