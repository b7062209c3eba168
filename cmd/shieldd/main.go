// shieldd runs the shielded vault ledger behind a JSON-RPC endpoint
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/consensys/gnark/logger"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/shadowvault/core/internal/auth"
	"github.com/shadowvault/core/internal/custody"
	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/internal/metrics"
	"github.com/shadowvault/core/internal/p2p"
	"github.com/shadowvault/core/internal/ratelimit"
	"github.com/shadowvault/core/internal/rpc"
	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
)

const (
	version = "0.1.0"
	banner  = `
     _     _      _     _     _
 ___| |__ (_) ___| | __| | __| |
/ __| '_ \| |/ _ \ |/ _' |/ _' |
\__ \ | | | |  __/ | (_| | (_| |
|___/_| |_|_|\___|_|\__,_|\__,_|

  shadowvault daemon v%s
`
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf(banner, version)

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logger.Set(log.With().Str("module", "gnark").Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Stringer("signal", sig).Msg("Shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("Node failed")
		os.Exit(1)
	}
}

func parseFlags() (*Config, error) {
	var (
		configPath  = flag.String("config", "", "JSON config file")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logJSON     = flag.Bool("log-json", false, "Log as JSON instead of console output")
		store       = flag.String("store", "", "Store backend (memory, postgres)")
		dbURL       = flag.String("db-url", "", "PostgreSQL connection URL")
		rpcAddr     = flag.String("rpc", "", "RPC listen address")
		metricsAddr = flag.String("metrics", "", "Metrics listen address (empty disables)")
		keysDir     = flag.String("keys", "", "Verifying key directory")
		enableP2P   = flag.Bool("p2p", false, "Join the event bus")
		dataDir     = flag.String("data-dir", "", "Data directory")
	)
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return nil, err
	}

	// flags given explicitly override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-json":
			cfg.LogJSON = *logJSON
		case "store":
			cfg.Store = *store
		case "db-url":
			if cfg.Postgres == nil {
				cfg.Postgres = storage.DefaultConfig()
			}
			cfg.Postgres.URL = *dbURL
		case "rpc":
			cfg.RPCAddr = *rpcAddr
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "keys":
			cfg.KeysDir = *keysDir
		case "p2p":
			cfg.P2PEnabled = *enableP2P
		case "data-dir":
			cfg.DataDir = *dataDir
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	var log zerolog.Logger
	if cfg.LogJSON {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Logger(), nil
}

func openStore(ctx context.Context, cfg *Config, log zerolog.Logger) (storage.Store, error) {
	switch cfg.Store {
	case "postgres":
		log.Info().Msg("Connecting to database")
		return storage.NewPostgresStore(ctx, cfg.Postgres, log)
	default:
		log.Warn().Msg("Using in-memory store; state is lost on exit")
		return storage.NewMemoryStore(), nil
	}
}

func run(ctx context.Context, cfg *Config, log zerolog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	hasher, err := zkp.NewHasher(cfg.Hasher)
	if err != nil {
		return err
	}

	verifier, err := zkp.NewVerifier(&zkp.VerifierConfig{CacheSize: cfg.VerifierCacheSize}, log)
	if err != nil {
		return err
	}
	loaded, err := verifier.LoadKeys(cfg.KeysDir)
	if err != nil {
		return fmt.Errorf("failed to load verifying keys: %w", err)
	}
	if loaded == 0 {
		log.Warn().Str("dir", cfg.KeysDir).Msg("No verifying keys found; all pairing proofs will be rejected")
	}
	if loaded > 0 {
		if err := zkp.CheckCircuitHasher(hasher); err != nil {
			return fmt.Errorf("verifying keys loaded: %w", err)
		}
	}

	m := metrics.New()
	pool := custody.NewPool(&custody.Config{FeeRecipient: cfg.FeeRecipient}, log)

	l := ledger.New(&ledger.Config{
		Hasher:   hasher,
		Depth:    zkp.TreeDepth,
		Executor: pool,
	}, store, m.WrapVerifier(verifier), log)
	l.AddSink(m)

	for _, name := range []ledger.TreeName{ledger.TreeCommitments, ledger.TreeNullifiers} {
		state, err := l.TreeState(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to read %s tree: %w", name, err)
		}
		m.SetTreeSize(name, state.NextIndex)
		log.Info().
			Str("tree", string(name)).
			Uint64("leaves", state.NextIndex).
			Str("root", state.Root.Short()).
			Msg("Tree loaded")
	}

	if cfg.P2PEnabled {
		node, err := startBus(ctx, cfg, l, hasher, log)
		if err != nil {
			return err
		}
		defer node.Close()
	}

	limiter, err := ratelimit.New(cfg.RateLimit(), nil)
	if err != nil {
		return err
	}

	var authorizer *auth.Authorizer
	if cfg.RequireAuth {
		authorizer = auth.NewAuthorizer(cfg.AuthMaxSkew.Duration, nil)
	}

	api, err := rpc.NewAPI(&rpc.Config{
		Ledger:     l,
		Params:     cfg.Params(),
		Authorizer: authorizer,
		Limiter:    limiter,
		Observer:   m,
	}, log)
	if err != nil {
		return err
	}
	rpcServer, err := rpc.NewServer(api)
	if err != nil {
		return err
	}
	defer rpcServer.Stop()

	servers := []*http.Server{{Addr: cfg.RPCAddr, Handler: rpcServer}}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mux})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info().Str("addr", srv.Addr).Msg("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	log.Info().
		Bool("auth", cfg.RequireAuth).
		Bool("p2p", cfg.P2PEnabled).
		Uint16("fee_bps", cfg.FeeBps).
		Bool("paused", cfg.Paused).
		Msg("Node started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("addr", srv.Addr).Msg("Server shutdown")
		}
	}

	log.Info().Msg("Node stopped")
	return runErr
}

// startBus joins the event bus and keeps a mirror fed by local and peer events
func startBus(ctx context.Context, cfg *Config, l *ledger.Ledger, hasher zkp.Hasher, log zerolog.Logger) (*p2p.Node, error) {
	mirror := p2p.NewMirror(hasher, zkp.TreeDepth, nil, log)
	for _, name := range []ledger.TreeName{ledger.TreeCommitments, ledger.TreeNullifiers} {
		id, err := p2p.TreeID(name)
		if err != nil {
			return nil, err
		}
		state, err := l.TreeState(ctx, name)
		if err != nil {
			return nil, err
		}
		leaves, err := l.Leaves(ctx, name, 0, int(state.NextIndex))
		if err != nil {
			return nil, err
		}
		if err := mirror.Bootstrap(ctx, id, leaves, state.Root); err != nil {
			return nil, fmt.Errorf("failed to seed %s mirror: %w", name, err)
		}
	}

	node, err := p2p.NewNode(ctx, cfg.P2P(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to start p2p node: %w", err)
	}
	node.SetHandler(func(ctx context.Context, _ peer.ID, msg *p2p.Message) error {
		return mirror.HandleMessage(ctx, msg)
	})
	node.SetStatusSource(func() *p2p.StatusMessage {
		return mirror.Status(cfg.NetworkID)
	})

	l.AddSink(mirror)
	l.AddSink(node)
	node.Start()

	for _, addr := range node.Addrs() {
		log.Info().Str("addr", addr).Msg("Event bus listening")
	}
	return node, nil
}
