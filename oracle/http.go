package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flashbots/aggledger/crypto"
)

// HTTPClient implements Client against a remote decryption service. The
// registration phase is a synchronous POST; fulfillments arrive out of band
// at the callback URL handed to the service, so the client itself never
// waits for a decryption.
type HTTPClient struct {
	oracleURL   string
	callbackURL string
	oracleKey   crypto.PublicKey
	httpClient  *http.Client
}

// NewHTTPClient creates a client for the oracle at oracleURL. Fulfillments
// are requested to be delivered to callbackURL; proofs are accepted only
// from oracleKey.
func NewHTTPClient(oracleURL, callbackURL string, oracleKey crypto.PublicKey) *HTTPClient {
	return &HTTPClient{
		oracleURL:   oracleURL,
		callbackURL: callbackURL,
		oracleKey:   oracleKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// RequestDecryption implements Client.
func (c *HTTPClient) RequestDecryption(payloads [][]byte) (RequestID, error) {
	body, err := json.Marshal(&DecryptionRequest{
		Payloads:    payloads,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Post(c.oracleURL+"/decrypt", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(respBody))
	}

	ack, err := crypto.DecodeMessage[DecryptionResponse](resp.Body)
	if err != nil {
		return 0, fmt.Errorf("decode oracle response: %w", err)
	}
	return ack.RequestID, nil
}

// VerifyProof implements Client.
func (c *HTTPClient) VerifyProof(id RequestID, cleartext, proof []byte) bool {
	return VerifyProofWithKey(c.oracleKey, id, cleartext, proof)
}
