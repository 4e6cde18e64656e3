package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/flashbots/aggledger/crypto"
	"github.com/go-chi/chi/v5"
)

// ServiceConfig configures a standalone decryption service.
type ServiceConfig struct {
	Log        *slog.Logger
	SigningKey crypto.PrivateKey
	Decryptor  Decryptor

	// DeliveryDelay is how long the service waits before pushing a result
	// to the callback URL. Only used when AutoDeliver is set.
	DeliveryDelay time.Duration

	// AutoDeliver pushes results automatically after DeliveryDelay. When
	// false, deliveries happen only through the deliver endpoint, which is
	// what the integration tests use to control interleaving.
	AutoDeliver bool
}

type servicePending struct {
	payloads    [][]byte
	callbackURL string
}

// Service is the HTTP decryption oracle (oracled). It accepts registrations
// on POST /decrypt and later pushes signed results to each request's
// callback URL. There is no retry: a rejected or undeliverable result stays
// pending until the operator triggers another delivery.
type Service struct {
	cfg        *ServiceConfig
	publicKey  crypto.PublicKey
	httpClient *http.Client

	mu      sync.Mutex
	nextID  RequestID
	pending map[RequestID]*servicePending
}

// NewService creates the oracle service.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg.Decryptor == nil {
		return nil, fmt.Errorf("decryptor cannot be nil")
	}
	publicKey, err := cfg.SigningKey.PublicKey()
	if err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	cfg.Log = log
	return &Service{
		cfg:        cfg,
		publicKey:  publicKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		nextID:     1,
		pending:    make(map[RequestID]*servicePending),
	}, nil
}

// PublicKey returns the identity the service signs proofs with.
func (s *Service) PublicKey() crypto.PublicKey {
	return s.publicKey
}

// RegisterRoutes registers the oracle endpoints with the router.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/decrypt", s.handleDecrypt)
	r.Post("/requests/{id}/deliver", s.handleDeliver)
	r.Get("/identity", s.handleIdentity)
}

func (s *Service) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	req, err := crypto.DecodeMessage[DecryptionRequest](r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Payloads) == 0 {
		http.Error(w, "no payloads to decrypt", http.StatusBadRequest)
		return
	}
	if req.CallbackURL == "" {
		http.Error(w, "callback_url is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.pending[id] = &servicePending{payloads: req.Payloads, callbackURL: req.CallbackURL}
	s.mu.Unlock()

	s.cfg.Log.Info("Registered decryption request", "requestID", id, "payloads", len(req.Payloads))

	if s.cfg.AutoDeliver {
		go func() {
			time.Sleep(s.cfg.DeliveryDelay)
			if err := s.deliver(id); err != nil {
				s.cfg.Log.Error("Delivery failed", "requestID", id, "err", err)
			}
		}()
	}

	json.NewEncoder(w).Encode(&DecryptionResponse{RequestID: id})
}

func (s *Service) handleDeliver(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return
	}

	if err := s.deliver(RequestID(id)); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) handleIdentity(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"public_key": s.publicKey.String()})
}

// deliver decrypts a pending request and POSTs the signed result to its
// callback URL. The request stays pending unless the callback accepts it.
func (s *Service) deliver(id RequestID) error {
	s.mu.Lock()
	p, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending request %d", id)
	}

	cleartext, proof, err := DecryptAndProve(s.cfg.SigningKey, s.cfg.Decryptor, id, p.payloads)
	if err != nil {
		return err
	}

	signed, err := crypto.NewSigned(s.cfg.SigningKey, &DecryptionResult{
		RequestID: id,
		Cleartext: cleartext,
		Proof:     proof,
	})
	if err != nil {
		return err
	}

	body, err := json.Marshal(signed)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Post(p.callbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("callback rejected result (%d): %s", resp.StatusCode, string(respBody))
	}

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	s.cfg.Log.Info("Delivered decryption result", "requestID", id)
	return nil
}
