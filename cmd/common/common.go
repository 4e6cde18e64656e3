// Package common provides shared helpers for the aggledger binaries:
// key loading, YAML configuration files, and oracle identity discovery.
package common

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flashbots/aggledger/crypto"
)

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// LoadConfigFile reads a YAML configuration file into cfg. A missing path
// is not an error; flags alone may carry the configuration.
func LoadConfigFile(path string, cfg any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// FetchOracleIdentity retrieves the proof-signing public key from an
// oracle's /identity endpoint.
func FetchOracleIdentity(oracleURL string) (crypto.PublicKey, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(oracleURL + "/identity")
	if err != nil {
		return nil, fmt.Errorf("fetch oracle identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	body, err := crypto.DecodeMessage[map[string]string](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode oracle identity: %w", err)
	}
	return crypto.NewPublicKeyFromString((*body)["public_key"])
}
