// Package cmd provides the aggledger service binaries.
//
// # Commands
//
// ledgerd: Runs the confidential aggregation ledger and its HTTP API.
// Connects to a decryption oracle and receives proof-carrying results on
// its callback endpoint.
//
//	go run ./cmd/ledgerd --owner=<hex pubkey> --oracle=http://localhost:8090 \
//	    --callback-url=http://localhost:8080/oracle/callback
//
// oracled: Runs the mock decryption oracle. Shares the scheme secret with
// the ledger's encrypting clients so it can decrypt serialized aggregates.
//
//	go run ./cmd/oracled --scheme-secret=<hex> --auto-deliver
//
// # Configuration
//
// Both commands support YAML configuration files via the --config flag.
// Command-line flags override config file values.
//
// Example ledgerd config:
//
//	listen_addr: ":8080"
//	metrics_addr: ":9090"
//	owner: "<hex pubkey>"
//	cooldown_seconds: 60
//	identity: "production-ledger"
//	scheme_secret: "<hex>"
//	oracle_url: "http://localhost:8090"
//	callback_url: "http://localhost:8080/oracle/callback"
//	postgres:
//	  host: "localhost"
//	  port: 5432
//	  user: "aggledger"
//	  database: "aggledger"
package cmd
