// Command ledgerd runs the confidential aggregation ledger service.
//
// The service keeps the encrypted batch ledger in memory and exposes it
// over HTTP: signed envelopes carry the mutating operations, reads are
// public, and the /oracle/callback endpoint receives proof-carrying
// decryption results from the configured oracle.
//
// # Usage
//
//	go run ./cmd/ledgerd --owner=<hex pubkey> \
//	    --oracle=http://localhost:8090 \
//	    --callback-url=http://localhost:8080/oracle/callback
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/aggledger/api/httpserver"
	"github.com/flashbots/aggledger/cmd/common"
	"github.com/flashbots/aggledger/crypto"
	"github.com/flashbots/aggledger/ledger"
	"github.com/flashbots/aggledger/oracle"
	"github.com/flashbots/aggledger/services"
)

type config struct {
	ListenAddr      string `yaml:"listen_addr"`
	MetricsAddr     string `yaml:"metrics_addr"`
	EnablePprof     bool   `yaml:"enable_pprof"`
	Owner           string `yaml:"owner"`
	CooldownSeconds uint64 `yaml:"cooldown_seconds"`
	Identity        string `yaml:"identity"`
	SchemeSecret    string `yaml:"scheme_secret"`
	OracleURL       string `yaml:"oracle_url"`
	OracleIdentity  string `yaml:"oracle_identity"`
	CallbackURL     string `yaml:"callback_url"`
	EnableEncrypt   bool   `yaml:"enable_encrypt"`

	Postgres *services.PostgresConfig `yaml:"postgres"`
}

func main() {
	var (
		configPath     = flag.String("config", "", "YAML configuration file")
		listenAddr     = flag.String("addr", ":8080", "HTTP listen address")
		metricsAddr    = flag.String("metrics-addr", "", "Metrics listen address (disabled if empty)")
		enablePprof    = flag.Bool("pprof", false, "Enable pprof debugging API")
		owner          = flag.String("owner", "", "Owner address (hex public key)")
		cooldownSec    = flag.Uint64("cooldown", 0, "Per-address cooldown in seconds")
		identity       = flag.String("identity", "aggledger", "Ledger identity bound into state commitments")
		schemeSecret   = flag.String("scheme-secret", "", "Scheme secret (hex), shared with the oracle")
		oracleURL      = flag.String("oracle", "", "Decryption oracle URL")
		oracleIdentity = flag.String("oracle-identity", "", "Oracle public key (hex, fetched from the oracle if empty)")
		callbackURL    = flag.String("callback-url", "", "URL the oracle delivers results to")
	)
	flag.Parse()

	cfg := &config{}
	if err := common.LoadConfigFile(*configPath, cfg); err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	// Flags override config file values.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ListenAddr = *listenAddr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "pprof":
			cfg.EnablePprof = *enablePprof
		case "owner":
			cfg.Owner = *owner
		case "cooldown":
			cfg.CooldownSeconds = *cooldownSec
		case "identity":
			cfg.Identity = *identity
		case "scheme-secret":
			cfg.SchemeSecret = *schemeSecret
		case "oracle":
			cfg.OracleURL = *oracleURL
		case "oracle-identity":
			cfg.OracleIdentity = *oracleIdentity
		case "callback-url":
			cfg.CallbackURL = *callbackURL
		}
	})
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = *listenAddr
	}
	if cfg.Identity == "" {
		cfg.Identity = *identity
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "ledgerd")

	if cfg.Owner == "" {
		fmt.Println("Error: --owner is required")
		os.Exit(1)
	}
	if cfg.OracleURL == "" {
		fmt.Println("Error: --oracle is required")
		os.Exit(1)
	}
	if cfg.CallbackURL == "" {
		fmt.Println("Error: --callback-url is required")
		os.Exit(1)
	}

	scheme, err := crypto.NewLocalSchemeFromHex(cfg.SchemeSecret)
	if err != nil {
		fmt.Printf("Scheme secret error: %v\n", err)
		os.Exit(1)
	}

	var oracleKey crypto.PublicKey
	if cfg.OracleIdentity != "" {
		oracleKey, err = crypto.NewPublicKeyFromString(cfg.OracleIdentity)
	} else {
		oracleKey, err = common.FetchOracleIdentity(cfg.OracleURL)
	}
	if err != nil {
		fmt.Printf("Oracle identity error: %v\n", err)
		os.Exit(1)
	}
	log.Info("Using oracle identity", "publicKey", oracleKey.String())

	events := ledger.NewLogSink(log)
	if cfg.Postgres != nil {
		store, err := services.NewPostgresEventStore(cfg.Postgres)
		if err != nil {
			fmt.Printf("Event store error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		events = services.NewStoreSink(store, log)
		log.Info("Persisting events to PostgreSQL", "host", cfg.Postgres.Host)
	}

	oracleClient := oracle.NewHTTPClient(cfg.OracleURL, cfg.CallbackURL, oracleKey)

	l, err := ledger.New(&ledger.Config{
		Owner:    ledger.Address(cfg.Owner),
		Cooldown: time.Duration(cfg.CooldownSeconds) * time.Second,
		Identity: []byte(cfg.Identity),
		Scheme:   scheme,
		Oracle:   oracleClient,
		Events:   events,
		Log:      log,
	})
	if err != nil {
		fmt.Printf("Ledger error: %v\n", err)
		os.Exit(1)
	}

	handlerCfg := &services.LedgerHandlerConfig{
		Log:            log,
		Ledger:         l,
		OracleIdentity: oracleKey,
	}
	if cfg.EnableEncrypt {
		handlerCfg.Encryptor = scheme
	}
	handler, err := services.NewLedgerHandler(handlerCfg)
	if err != nil {
		fmt.Printf("Handler error: %v\n", err)
		os.Exit(1)
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		EnablePprof:              cfg.EnablePprof,
		EnableCORS:               true,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, handler)
	if err != nil {
		fmt.Printf("Server error: %v\n", err)
		os.Exit(1)
	}

	srv.RunInBackground()
	log.Info("Ledger service started", "owner", cfg.Owner, "batchID", l.CurrentBatchID())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	srv.Shutdown()
}
