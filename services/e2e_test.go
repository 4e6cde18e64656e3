package services_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashbots/aggledger/crypto"
	"github.com/flashbots/aggledger/ledger"
	"github.com/flashbots/aggledger/oracle"
	"github.com/flashbots/aggledger/services"
)

// TestEndToEndSplitDeployment runs the full round trip over real HTTP with
// the ledger and the oracle as separate servers sharing only the scheme
// secret and the oracle's public identity, the way ledgerd and oracled are
// deployed.
func TestEndToEndSplitDeployment(t *testing.T) {
	secret := []byte("e2e-shared-secret")

	// Oracle side: its own scheme instance, no shared handle table.
	_, oracleKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	oracleService, err := oracle.NewService(&oracle.ServiceConfig{
		SigningKey: oracleKey,
		Decryptor:  crypto.NewLocalScheme(secret),
	})
	require.NoError(t, err)

	oracleRouter := chi.NewRouter()
	oracleService.RegisterRoutes(oracleRouter)
	oracleSrv := httptest.NewServer(oracleRouter)
	defer oracleSrv.Close()

	// Ledger side.
	ownerPub, ownerKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	providerPub, providerKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ledgerRouter := chi.NewRouter()
	ledgerSrv := httptest.NewServer(ledgerRouter)
	defer ledgerSrv.Close()

	scheme := crypto.NewLocalScheme(secret)
	oracleClient := oracle.NewHTTPClient(oracleSrv.URL, ledgerSrv.URL+"/oracle/callback", oracleService.PublicKey())

	store := services.NewMemoryEventStore()
	l, err := ledger.New(&ledger.Config{
		Owner:    ledger.Address(ownerPub.String()),
		Identity: []byte("e2e-ledger"),
		Scheme:   scheme,
		Oracle:   oracleClient,
		Events:   services.NewStoreSink(store, slog.Default()),
	})
	require.NoError(t, err)
	require.NoError(t, l.AddProvider(ledger.Address(ownerPub.String()), ledger.Address(providerPub.String())))

	handler, err := services.NewLedgerHandler(&services.LedgerHandlerConfig{
		Ledger:         l,
		OracleIdentity: oracleService.PublicKey(),
		Encryptor:      scheme,
	})
	require.NoError(t, err)
	handler.RegisterRoutes(ledgerRouter)

	// Submit two entries: 3*2 + 5*1 = 11.
	for _, pair := range [][2]int64{{3, 2}, {5, 1}} {
		value, err := scheme.Encrypt(big.NewInt(pair[0]))
		require.NoError(t, err)
		weight, err := scheme.Encrypt(big.NewInt(pair[1]))
		require.NoError(t, err)

		resp := postSignedHTTP(t, ledgerSrv.URL+"/entries", providerKey, &services.SubmitEntryRequest{
			Value:  value.String(),
			Weight: weight.String(),
		})
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := postSignedHTTP(t, ledgerSrv.URL+"/batches/close", ownerKey, &services.BatchRequest{})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// The valuation request registers with the oracle server synchronously.
	resp = postSignedHTTP(t, ledgerSrv.URL+"/valuations", providerKey, &services.ValuationRequest{BatchID: 1})
	requireStatus(t, resp, http.StatusOK)
	valResp, err := crypto.DecodeMessage[services.ValuationResponse](resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	status, ok := l.Request(valResp.RequestID)
	require.True(t, ok)
	require.False(t, status.Processed)

	// Operator-triggered delivery: the oracle decrypts, signs and pushes the
	// result to the ledger's callback endpoint.
	deliverURL := fmt.Sprintf("%s/requests/%d/deliver", oracleSrv.URL, valResp.RequestID)
	deliverResp, err := http.Post(deliverURL, "application/json", nil)
	require.NoError(t, err)
	deliverResp.Body.Close()
	require.Equal(t, http.StatusOK, deliverResp.StatusCode)

	status, ok = l.Request(valResp.RequestID)
	require.True(t, ok)
	assert.True(t, status.Processed)
	assert.Equal(t, "11", status.TotalValue)

	// The event stream recorded the whole lifecycle.
	events, err := store.LoadEvents(10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, ledger.EventValuationCompleted, events[0].Type)

	// A second delivery attempt fails: the oracle dropped the request after
	// the accepted callback.
	deliverResp, err = http.Post(deliverURL, "application/json", nil)
	require.NoError(t, err)
	deliverResp.Body.Close()
	assert.NotEqual(t, http.StatusOK, deliverResp.StatusCode)
}

func postSignedHTTP[T any](t *testing.T, url string, key crypto.PrivateKey, obj *T) *http.Response {
	t.Helper()
	signed, err := crypto.NewSigned(key, obj)
	require.NoError(t, err)
	body, err := json.Marshal(signed)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, buf.String())
	}
}
