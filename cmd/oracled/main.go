// Command oracled runs the mock decryption oracle.
//
// The oracle accepts decryption registrations on POST /decrypt and later
// pushes Ed25519-signed results to each request's callback URL. It shares
// the scheme secret with the ledger's encrypting clients, which lets it
// recover plaintexts from serialized aggregates alone; a production
// deployment would replace this with a real threshold-decryption service
// behind the same endpoints.
//
// # Usage
//
//	go run ./cmd/oracled --scheme-secret=<hex> --auto-deliver
//
// Without --auto-deliver, results are pushed only when the operator hits
// POST /requests/{id}/deliver, which is how the integration flow controls
// interleaving.
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
	"github.com/flashbots/aggledger/oracle"
)

type config struct {
	ListenAddr       string `yaml:"listen_addr"`
	MetricsAddr      string `yaml:"metrics_addr"`
	SchemeSecret     string `yaml:"scheme_secret"`
	SigningKey       string `yaml:"signing_key"`
	AutoDeliver      bool   `yaml:"auto_deliver"`
	DeliveryDelaySec uint64 `yaml:"delivery_delay_seconds"`
}

func main() {
	var (
		configPath    = flag.String("config", "", "YAML configuration file")
		listenAddr    = flag.String("addr", ":8090", "HTTP listen address")
		metricsAddr   = flag.String("metrics-addr", "", "Metrics listen address (disabled if empty)")
		schemeSecret  = flag.String("scheme-secret", "", "Scheme secret (hex), shared with encrypting clients")
		signingKeyHex = flag.String("signing-key", "", "Ed25519 proof-signing key (hex, generates if empty)")
		autoDeliver   = flag.Bool("auto-deliver", false, "Push results automatically after the delivery delay")
		deliveryDelay = flag.Uint64("delivery-delay", 0, "Delay before automatic delivery, in seconds")
	)
	flag.Parse()

	cfg := &config{}
	if err := common.LoadConfigFile(*configPath, cfg); err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ListenAddr = *listenAddr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "scheme-secret":
			cfg.SchemeSecret = *schemeSecret
		case "signing-key":
			cfg.SigningKey = *signingKeyHex
		case "auto-deliver":
			cfg.AutoDeliver = *autoDeliver
		case "delivery-delay":
			cfg.DeliveryDelaySec = *deliveryDelay
		}
	})
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = *listenAddr
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "oracled")

	signingKey, err := common.LoadOrGenerateSigningKey(cfg.SigningKey)
	if err != nil {
		fmt.Printf("Signing key error: %v\n", err)
		os.Exit(1)
	}

	scheme, err := crypto.NewLocalSchemeFromHex(cfg.SchemeSecret)
	if err != nil {
		fmt.Printf("Scheme secret error: %v\n", err)
		os.Exit(1)
	}

	service, err := oracle.NewService(&oracle.ServiceConfig{
		Log:           log,
		SigningKey:    signingKey,
		Decryptor:     scheme,
		AutoDeliver:   cfg.AutoDeliver,
		DeliveryDelay: time.Duration(cfg.DeliveryDelaySec) * time.Second,
	})
	if err != nil {
		fmt.Printf("Oracle error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Oracle public key: %s\n", service.PublicKey().String())

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, service)
	if err != nil {
		fmt.Printf("Server error: %v\n", err)
		os.Exit(1)
	}

	srv.RunInBackground()
	log.Info("Oracle service started", "autoDeliver", cfg.AutoDeliver)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	srv.Shutdown()
}
