package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/auth"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/circuit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/config"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/dispatch"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/forward"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/logging"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/metrics"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/prover"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/relay"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/server"
)

// #region main
func main() {
	cfgPath := flag.String("config", envOr("PSYCHESCORE_CONFIG", ""), "path to YAML config")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize ledger store
	store, err := ledger.NewSQLiteStore(cfg.Ledger.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	d, err := newDispatcher(cfg, store, col, log)
	if err != nil {
		return err
	}

	// Optional sinks
	var proofs forward.ProofGenerator
	var verifier server.ProofVerifier
	if cfg.Prover.Addr != "" {
		pc, err := prover.NewClient(cfg.Prover.Addr, cfg.Prover.Timeout)
		if err != nil {
			return err
		}
		defer pc.Close()
		proofs, verifier = pc, pc
	}
	var pub forward.RecordPublisher
	if cfg.NATS.URL != "" {
		r, err := relay.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return err
		}
		defer r.Close()
		pub = r
	}
	fwd := forward.New(store.DB(), proofs, pub, log)

	// gRPC
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	gs := grpc.NewServer()
	server.RegisterLedgerServiceServer(gs, server.NewGRPCServer(d, fwd, log))

	errc := make(chan error, 2)
	go func() { errc <- gs.Serve(lis) }()

	// HTTP
	var hs *http.Server
	if cfg.Server.HTTPAddr != "" {
		hs = &http.Server{
			Addr: cfg.Server.HTTPAddr,
			Handler: server.NewRouter(server.HTTPDeps{
				Store:      store,
				Dispatcher: d,
				Forwarder:  fwd,
				Verifier:   verifier,
				Gatherer:   reg,
				Logger:     log,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	log.Info("ledgerd ready",
		"db", cfg.Ledger.DBPath,
		"binder", d.Binder().Name(),
		"evaluator", d.Mode(),
		"grpc", cfg.Server.GRPCAddr,
		"http", cfg.Server.HTTPAddr,
		"prover", cfg.Prover.Addr != "",
		"relay", cfg.NATS.URL != "",
	)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errc:
		log.Error("server stopped", "error", err)
	}

	gs.GracefulStop()
	if hs != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
	}
	return err
}

// #endregion main

// #region helpers
func newDispatcher(cfg *config.Config, store ledger.Store, obs dispatch.Observer, log *slog.Logger) (*dispatch.Dispatcher, error) {
	binder, err := commit.ByName(cfg.Ledger.Binder)
	if err != nil {
		return nil, err
	}
	var authz auth.Verifier = auth.DenyAll{}
	if len(cfg.Admin.Keys) > 0 {
		v, err := auth.NewEd25519Verifier(cfg.Admin.Keys)
		if err != nil {
			return nil, fmt.Errorf("admin keys: %w", err)
		}
		authz = v
	}
	var eval dispatch.Evaluator
	if cfg.Ledger.Evaluator == dispatch.ModeCircuit {
		ev := circuit.NewEvaluator()
		start := time.Now()
		if err := ev.Compile(); err != nil {
			return nil, fmt.Errorf("compile score circuit: %w", err)
		}
		log.Info("score circuit compiled", "constraints", ev.NbConstraints(), "elapsed", time.Since(start))
		eval = ev
	}
	return dispatch.New(store, dispatch.Options{
		Binder:     binder,
		Mode:       cfg.Ledger.Evaluator,
		Evaluator:  eval,
		Authorizer: authz,
		Logger:     log,
		Observer:   obs,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
